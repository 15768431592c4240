package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyEmail indicates the email address is empty
	ErrEmptyEmail = errors.New("email cannot be empty")

	// ErrInvalidEmail indicates the email address is malformed
	ErrInvalidEmail = errors.New("email address is not valid")

	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits and a leading +")

	// ErrInvalidLength indicates phone number length is outside E.164 bounds
	ErrInvalidLength = errors.New("phone number must have between 7 and 15 digits")
)

// emailRegex: one @, no spaces, a dot in the domain
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// phoneRegex matches an optional leading + followed by digits
var phoneRegex = regexp.MustCompile(`^\+?\d+$`)

// ContactValidator validates customer contact details
type ContactValidator struct{}

// NewContactValidator creates a new contact validator instance
func NewContactValidator() *ContactValidator {
	return &ContactValidator{}
}

// ValidateEmail returns the trimmed, lowercased address or an error
func (v *ContactValidator) ValidateEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrEmptyEmail
	}
	if len(email) > 254 || !emailRegex.MatchString(email) {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// ValidatePhone validates an international phone number
// Accepts format: +14155550123 or +1 (415) 555-0123 or 020 7946 0958
// Returns sanitized phone number and error if invalid
func (v *ContactValidator) ValidatePhone(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.SanitizePhone(phone)
	if !phoneRegex.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}

	digits := strings.TrimPrefix(sanitized, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return "", ErrInvalidLength
	}

	return sanitized, nil
}

// SanitizePhone removes spaces, dashes, dots and parentheses
func (v *ContactValidator) SanitizePhone(phone string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	return replacer.Replace(strings.TrimSpace(phone))
}

// IsValidEmail is a convenience method that returns true if email is valid
func (v *ContactValidator) IsValidEmail(email string) bool {
	_, err := v.ValidateEmail(email)
	return err == nil
}
