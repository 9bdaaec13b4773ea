package middleware

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateEmail checks an email path parameter.
func ValidateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return errors.New("email cannot be empty")
	}
	if err := validate.Var(email, "email,max=320"); err != nil {
		return errors.New("invalid email format")
	}
	return nil
}

// ValidateUploadName accepts only plain-text file names.
func ValidateUploadName(name string) error {
	if name == "" {
		return errors.New("file name is required")
	}
	if !strings.EqualFold(filepath.Ext(name), ".txt") {
		return errors.New("only .txt files are allowed")
	}
	return nil
}
