package services

import (
	"sync"

	apperrors "github.com/aihub/usage-core/internal/errors"
	"github.com/aihub/usage-core/internal/models"
	"github.com/aihub/usage-core/internal/repository"
	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// requestValidator 请求校验器，注册业务枚举标签
func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("role", func(fl validator.FieldLevel) bool {
			return models.ValidRole(fl.Field().String())
		})
		_ = validate.RegisterValidation("operation", func(fl validator.FieldLevel) bool {
			op := fl.Field().String()
			for _, known := range models.OperationTypes {
				if op == known {
					return true
				}
			}
			return false
		})
		_ = validate.RegisterValidation("usage_status", func(fl validator.FieldLevel) bool {
			switch fl.Field().String() {
			case models.StatusSuccess, models.StatusError, models.StatusTimeout, models.StatusRateLimited:
				return true
			}
			return false
		})
		_ = validate.RegisterValidation("visibility", func(fl validator.FieldLevel) bool {
			switch fl.Field().String() {
			case repository.VisibilityAccessible, repository.VisibilityPublic, repository.VisibilityPrivate,
				repository.VisibilitySystem, repository.VisibilityMine:
				return true
			}
			return false
		})
	})
	return validate
}

// validateRequest 校验请求结构体，失败时返回 ValidationError
func validateRequest(req interface{}) error {
	if err := requestValidator().Struct(req); err != nil {
		return translator.Translate(err)
	}
	return nil
}

// ensure 条件不满足时返回字段错误
func ensure(ok bool, field, reason string) error {
	if ok {
		return nil
	}
	return apperrors.NewInvalidInputError(field, reason)
}
