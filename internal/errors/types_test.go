package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestAppErrorWrapping(t *testing.T) {
	base := NewStateConflictError("conversation is archived")
	wrapped := fmt.Errorf("append message: %w", base)

	assert.True(t, IsAppError(wrapped))
	assert.True(t, IsCode(wrapped, ErrCodeInvalidState))
	assert.False(t, IsCode(wrapped, ErrCodeResourceNotFound))
	assert.Equal(t, http.StatusConflict, GetAppError(wrapped).HTTPCode)
}

func TestGetAppErrorWrapsPlainErrors(t *testing.T) {
	appErr := GetAppError(fmt.Errorf("boom"))
	require.NotNil(t, appErr)
	assert.Equal(t, ErrCodeInternalServer, appErr.Code)
	assert.Equal(t, "Internal server error: boom", appErr.Error())
}

func TestMissingVariablesCarryDetails(t *testing.T) {
	err := NewMissingVariablesError([]string{"company"})
	assert.True(t, IsValidation(err))
	details, ok := err.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []string{"company"}, details["missing"])
}

func TestProviderFailure(t *testing.T) {
	err := NewProviderFailureError("timeout", 42, "")
	assert.True(t, IsProviderFailure(err))
	assert.Equal(t, ErrCodeTimeout, err.Code)

	err = NewProviderFailureError("rate_limited", 7, "slow down")
	assert.Equal(t, ErrCodeProviderFailure, err.Code)
	assert.Contains(t, err.Error(), "slow down")
}

func TestTranslator(t *testing.T) {
	tr := NewErrorTranslator()

	assert.Nil(t, tr.Translate(nil))
	assert.Equal(t, ErrCodeResourceNotFound, tr.Translate(gorm.ErrRecordNotFound).Code)
	assert.Equal(t, ErrCodeConflict,
		tr.Translate(fmt.Errorf(`ERROR: duplicate key value violates unique constraint "prompt_templates_slug_key"`)).Code)

	type req struct {
		Rating int `validate:"gte=1,lte=5"`
	}
	verr := validator.New().Struct(req{Rating: 9})
	require.Error(t, verr)
	appErr := tr.Translate(verr)
	assert.Equal(t, ErrCodeValidationFailed, appErr.Code)
}
