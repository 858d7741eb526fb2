package apperrors

import "fmt"

// Code classifies an application error.
type Code string

const (
	CodeDuplicate         Code = "DUPLICATE"
	CodeBrokerUnavailable Code = "BROKER_UNAVAILABLE"
)

// AppError carries a code, a human message and an optional cause.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// IsDuplicate reports whether the error is a unique-key violation.
func IsDuplicate(err error) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Code == CodeDuplicate
}

func NewDuplicate(message string) *AppError {
	return &AppError{Code: CodeDuplicate, Message: message}
}

func NewBrokerUnavailable(message string, err error) *AppError {
	return &AppError{Code: CodeBrokerUnavailable, Message: message, Err: err}
}
