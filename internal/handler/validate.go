package handler

import (
	"net/mail"
	"strings"

	"go-auth-service/pkg/apierror"
)

// fieldCheck accumulates request validation failures for one payload.
type fieldCheck struct {
	fields []apierror.FieldError
}

func (c *fieldCheck) required(field string, value string) bool {
	if strings.TrimSpace(value) == "" {
		c.fields = append(c.fields, apierror.FieldError{Field: field, Reason: "is required"})
		return false
	}
	return true
}

func (c *fieldCheck) email(field string, value string) {
	if !c.required(field, value) {
		return
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(value))
	if err != nil || addr.Address != strings.TrimSpace(value) {
		c.fields = append(c.fields, apierror.FieldError{Field: field, Reason: "must be a valid email address"})
	}
}

func (c *fieldCheck) err() error {
	if len(c.fields) == 0 {
		return nil
	}
	return apierror.BadRequest("request validation failed", c.fields...)
}
