package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// metricPublishTimeout bounds each PutMetricData call so a slow CloudWatch
// endpoint cannot back up request handling.
const metricPublishTimeout = 2 * time.Second

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics implements MetricsCollector by publishing request
// latency and count metrics to CloudWatch.
//
// Metrics emitted:
//   - APIRequestCount: Dims {Method, Endpoint, Status}
//   - APILatency:      Dims {Method, Endpoint}, milliseconds
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ MetricsCollector = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a collector publishing to the given namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordRequest publishes one count and one latency datum. Publishing is
// fire-and-forget: a CloudWatch failure is logged and never surfaces to the
// request path.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricPublishTimeout)
		defer cancel()

		requestDims := []cwtypes.Dimension{
			{Name: aws.String("Method"), Value: aws.String(method)},
			{Name: aws.String("Endpoint"), Value: aws.String(endpoint)},
		}

		input := &cloudwatch.PutMetricDataInput{
			Namespace: aws.String(m.namespace),
			MetricData: []cwtypes.MetricDatum{
				{
					MetricName: aws.String("APIRequestCount"),
					Value:      aws.Float64(1),
					Unit:       cwtypes.StandardUnitCount,
					Dimensions: append(requestDims, cwtypes.Dimension{
						Name:  aws.String("Status"),
						Value: aws.String(status),
					}),
				},
				{
					MetricName: aws.String("APILatency"),
					Value:      aws.Float64(float64(duration.Milliseconds())),
					Unit:       cwtypes.StandardUnitMilliseconds,
					Dimensions: requestDims,
				},
			},
		}

		if _, err := m.client.PutMetricData(ctx, input); err != nil {
			m.logger.Error("failed to publish request metrics",
				"error", err.Error(),
				"method", method,
				"endpoint", endpoint,
			)
		}
	}()
}
