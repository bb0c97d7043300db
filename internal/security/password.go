package security

import (
	"unicode"

	"go-auth-service/pkg/apierror"
)

const MinPasswordLength = 6

// ValidatePassword applies the account password policy and returns one
// FieldError per violated rule.
func ValidatePassword(password string) []apierror.FieldError {
	var (
		hasDigit, hasLower, hasUpper, hasSymbol bool
		failures                                []apierror.FieldError
	)

	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case !unicode.IsLetter(r):
			hasSymbol = true
		}
	}

	if len([]rune(password)) < MinPasswordLength {
		failures = append(failures, apierror.FieldError{Field: "password", Reason: "must be at least 6 characters"})
	}
	if !hasDigit {
		failures = append(failures, apierror.FieldError{Field: "password", Reason: "must contain a digit"})
	}
	if !hasLower {
		failures = append(failures, apierror.FieldError{Field: "password", Reason: "must contain a lowercase letter"})
	}
	if !hasUpper {
		failures = append(failures, apierror.FieldError{Field: "password", Reason: "must contain an uppercase letter"})
	}
	if !hasSymbol {
		failures = append(failures, apierror.FieldError{Field: "password", Reason: "must contain a non-alphanumeric character"})
	}

	return failures
}
