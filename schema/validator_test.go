package schema_test

import (
	"errors"
	"testing"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/schema"
)

func TestValidatorBuiltinSMS(t *testing.T) {
	v := schema.NewValidator()

	ok := []byte(`{"to":"+12072103282","message":"Your quote is ready"}`)
	if err := v.Validate(event.ActionSMSSend, ok); err != nil {
		t.Fatalf("valid payload should pass, got: %v", err)
	}

	missing := []byte(`{"to":"+12072103282"}`)
	err := v.Validate(event.ActionSMSSend, missing)
	if !errors.Is(err, schema.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}

	noRecipient := []byte(`{"message":"hi"}`)
	if err := v.Validate(event.ActionSMSSend, noRecipient); err == nil {
		t.Fatal("expected error for payload without to or phone")
	}
}

func TestValidatorBuiltinCall(t *testing.T) {
	v := schema.NewValidator()

	if err := v.Validate(event.ActionCallInitiate, []byte(`{"phone":"2072103282","firstName":"Dana"}`)); err != nil {
		t.Fatalf("valid payload should pass, got: %v", err)
	}
	if err := v.Validate(event.ActionCallInitiate, []byte(`{"phone":"2072103282"}`)); err == nil {
		t.Fatal("expected error for missing firstName")
	}
}

func TestValidatorBuiltinAttribution(t *testing.T) {
	v := schema.NewValidator()

	if err := v.Validate(event.ActionAttributionPurchase, []byte(`{"email":"a@b.co","value":"18500.00"}`)); err != nil {
		t.Fatalf("string value should pass, got: %v", err)
	}
	if err := v.Validate(event.ActionAttributionPurchase, []byte(`{"phone":"2072103282","value":18500}`)); err != nil {
		t.Fatalf("numeric value should pass, got: %v", err)
	}
	if err := v.Validate(event.ActionAttributionPurchase, []byte(`{"value":100}`)); err == nil {
		t.Fatal("expected error without email or phone")
	}
	if err := v.Validate(event.ActionAttributionPurchase, []byte(`{"email":"a@b.co","value":"lots"}`)); err == nil {
		t.Fatal("expected error for non-numeric value")
	}
}

func TestValidatorNotification(t *testing.T) {
	v := schema.NewValidator()

	if err := v.Validate(event.ActionInternalNotification, []byte(`{"type":"no_show_alert"}`)); err != nil {
		t.Fatalf("valid payload should pass, got: %v", err)
	}
	if err := v.Validate(event.ActionInternalNotification, []byte(`{"subject":"x"}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestValidatorMalformedJSON(t *testing.T) {
	v := schema.NewValidator()

	err := v.Validate(event.ActionSMSSend, []byte(`{not json`))
	if !errors.Is(err, schema.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestValidatorRegisterOverride(t *testing.T) {
	v := schema.NewValidator()

	err := v.Register(event.ActionInternalNotification, []byte(`{
		"type": "object",
		"required": ["type", "subject"]
	}`))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := v.Validate(event.ActionInternalNotification, []byte(`{"type":"x"}`)); err == nil {
		t.Fatal("expected overridden schema to require subject")
	}
	if err := v.Validate(event.ActionInternalNotification, []byte(`{"type":"x","subject":"y"}`)); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}

func TestValidatorRegisterInvalidSchema(t *testing.T) {
	v := schema.NewValidator()

	if err := v.Register(event.ActionSMSSend, []byte(`{"type": 12}`)); err == nil {
		t.Fatal("expected compile error for invalid schema")
	}
}
