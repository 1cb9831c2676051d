package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NewValidator returns a validator with the evm_addr tag registered. It
// accepts any 0x-prefixed 20-byte hex address regardless of checksum casing.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("evm_addr", func(fl validator.FieldLevel) bool {
		return IsValidAddress(fl.Field().String())
	})
	return v
}

// ValidationError converts validator output into a VALIDATION_ERROR AppError.
func ValidationError(message string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
		return NewAppError(ErrCodeValidation, message, strings.Join(fields, "; "))
	}
	return WrapError(ErrCodeValidation, message, err)
}
