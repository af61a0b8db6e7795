package validator

import (
	"testing"

	"leadrelay/platform/phone"
)

type actionRequest struct {
	Action string `validate:"required,oneof=welcome f1 f2 delete"`
	Phone  string `validate:"required,phone"`
}

func TestPhoneTag(t *testing.T) {
	v := New(phone.NewNormalizer("39", "3"))

	if err := v.Struct(actionRequest{Action: "f1", Phone: "333 123 4567"}); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
	if err := v.Struct(actionRequest{Action: "f1", Phone: "123"}); err == nil {
		t.Fatal("expected short phone to fail")
	}
	if err := v.Struct(actionRequest{Action: "resend", Phone: "+393331234567"}); err == nil {
		t.Fatal("expected unknown action to fail")
	}
}
