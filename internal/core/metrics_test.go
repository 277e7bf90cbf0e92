package core

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingCloudWatch struct {
	inputs chan *cloudwatch.PutMetricDataInput
	err    error
}

func (c *capturingCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.inputs <- params
	return &cloudwatch.PutMetricDataOutput{}, c.err
}

func TestCloudWatchMetricsPublishesCountAndLatency(t *testing.T) {
	client := &capturingCloudWatch{inputs: make(chan *cloudwatch.PutMetricDataInput, 1)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := NewCloudWatchMetrics(client, "Metergate/API", logger)

	metrics.RecordRequest("POST", "/v1/usage/ingest", "200", 125*time.Millisecond)

	select {
	case input := <-client.inputs:
		assert.Equal(t, "Metergate/API", *input.Namespace)
		require.Len(t, input.MetricData, 2)

		count := input.MetricData[0]
		assert.Equal(t, "APIRequestCount", *count.MetricName)
		assert.Equal(t, float64(1), *count.Value)
		require.Len(t, count.Dimensions, 3)

		latency := input.MetricData[1]
		assert.Equal(t, "APILatency", *latency.MetricName)
		assert.Equal(t, float64(125), *latency.Value)
		require.Len(t, latency.Dimensions, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("PutMetricData was not called")
	}
}

func TestCloudWatchMetricsErrorDoesNotPanic(t *testing.T) {
	client := &capturingCloudWatch{inputs: make(chan *cloudwatch.PutMetricDataInput, 1), err: assert.AnError}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := NewCloudWatchMetrics(client, "Metergate/API", logger)

	metrics.RecordRequest("GET", "/v1/usage", "502", time.Millisecond)

	select {
	case <-client.inputs:
	case <-time.After(2 * time.Second):
		t.Fatal("PutMetricData was not called")
	}
}
