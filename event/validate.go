package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func draftValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("outbox_action", func(fl validator.FieldLevel) bool {
			a, ok := fl.Field().Interface().(Action)
			return ok && a.Valid()
		})
	})
	return validate
}

// Validate checks the draft's shape. The returned error wraps ErrInvalidDraft.
func (d Draft) Validate() error {
	if err := draftValidator().Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidDraft, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}

	trimmed := bytes.TrimSpace(d.Payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return fmt.Errorf("%w: payload must be a JSON object", ErrInvalidDraft)
	}
	return nil
}
