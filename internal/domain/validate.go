package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageLength   = 1000
	MaxGroupNameLength = 50
	MaxUserNameLength  = 100
	OTPLength          = 6
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	otpPattern   = regexp.MustCompile(`^\d{6}$`)
)

func ValidateEmail(op, email string) error {
	if !emailPattern.MatchString(email) {
		return ValidationError(op, "invalid email address %q", email)
	}
	return nil
}

func ValidateOTP(op, code string) error {
	if !otpPattern.MatchString(code) {
		return ValidationError(op, "one-time code must be %d digits", OTPLength)
	}
	return nil
}

func ValidateUserName(op, name string) error {
	return validateLength(op, "name", name, MaxUserNameLength)
}

func ValidateGroupName(op, name string) error {
	return validateLength(op, "group name", name, MaxGroupNameLength)
}

// ValidateContent checks message content after trimming surrounding
// whitespace. The content itself is sent untrimmed.
func ValidateContent(op, content string) error {
	return validateLength(op, "message content", content, MaxMessageLength)
}

func validateLength(op, field, value string, max int) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ValidationError(op, "%s cannot be empty", field)
	}
	if n := utf8.RuneCountInString(trimmed); n > max {
		return ValidationError(op, "%s is too long (%d > %d characters)", field, n, max)
	}
	return nil
}
