package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metergate/internal/types"
)

type checkoutForm struct {
	Plan         string `json:"plan" validate:"required"`
	CustomerType string `json:"customer_type" validate:"omitempty,oneof=user organization"`
	Limit        int    `json:"limit" validate:"omitempty,min=1,max=100"`
}

func TestValidateStructPasses(t *testing.T) {
	v := NewValidator(nil)

	err := v.ValidateStruct(&checkoutForm{Plan: "starter", CustomerType: "user", Limit: 10})
	assert.NoError(t, err)
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	v := NewValidator(nil)

	err := v.ValidateStruct(&checkoutForm{CustomerType: "team"})
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)

	fields, ok := appErr.Details["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "plan")
	assert.Contains(t, fields, "customer_type")
}

func TestValidateStructRangeBounds(t *testing.T) {
	v := NewValidator(nil)

	err := v.ValidateStruct(&checkoutForm{Plan: "starter", Limit: 500})
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	fields := appErr.Details["fields"].(map[string]any)
	assert.Contains(t, fields, "limit")
}
