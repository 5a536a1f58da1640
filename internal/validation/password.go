package validation

import (
	"errors"
	"fmt"
)

// Password length bounds. bcrypt refuses anything longer than 72 bytes.
const (
	MinPasswordLength = 6
	MaxPasswordLength = 72
)

var (
	// ErrPasswordTooShort is returned for passwords under MinPasswordLength.
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	// ErrPasswordTooLong is returned for passwords over MaxPasswordLength bytes.
	ErrPasswordTooLong = fmt.Errorf("password must not exceed %d bytes", MaxPasswordLength)
)

// ValidatePassword checks if a password meets the length requirements
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// ValidateEmail checks basic email format
func ValidateEmail(email string) error {
	if len(email) > 254 {
		return errors.New("email must not exceed 254 characters")
	}

	if !IsValidEmail(email) {
		return errors.New("invalid email format")
	}

	return nil
}
