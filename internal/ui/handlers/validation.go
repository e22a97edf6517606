// validation.go — проверка формы норматива и локализация ошибок.
package handlers

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marcelo-marini/sigo-web-app/internal/domain/errs"
	"github.com/marcelo-marini/sigo-web-app/internal/domain/model"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/i18n"
)

// newValidator возвращает validator, сообщающий поля по json-имени (snake_case).
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateDraft проверяет черновик. Правило поля: "required" или "max:50".
func validateDraft(v *validator.Validate, draft *model.StandardDraft) error {
	err := v.Struct(draft)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += ":" + fe.Param()
		}
		fields[fe.Field()] = rule
	}
	return &errs.ValidationError{Fields: fields}
}

// localizeFields переводит правила полей в сообщения на языке запроса.
func localizeFields(ctx context.Context, messages *i18n.Bundle, fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for field, rule := range fields {
		tag, param, _ := strings.Cut(rule, ":")
		switch tag {
		case "required":
			out[field] = messages.T(ctx, "validation.required")
		case "max":
			out[field] = messages.Tf(ctx, "validation.max", param)
		default:
			out[field] = messages.T(ctx, "validation.invalid")
		}
	}
	return out
}
