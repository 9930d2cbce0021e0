package service

import (
	"errors"
	"fmt"
)

var (
	ErrEmailExists         = errors.New("email already exists")
	ErrUsernameExists      = errors.New("username already exists")
	ErrIdentifierNotFound  = errors.New("email or username not found")
	ErrBadCredentials      = errors.New("wrong password")
	ErrTokenIssuanceFailed = errors.New("token issuance failed")
	ErrUserNotFound        = errors.New("user not found")
)

// Error codes mark the call site of an unexpected failure. They are logged and
// returned to the caller in place of the underlying message.
const (
	CodeRegisterLookup = 100
	CodeRegisterCreate = 102
	CodeTokenIssue     = 103
	CodeLoginLookup    = 104
	CodeLoginPassword  = 105
	CodeLoginReadUser  = 106
	CodeProfileRead    = 107
)

// OpError is an unexpected failure annotated with the operation and call-site
// code it happened at.
type OpError struct {
	Op   string
	Code int
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s (code %d): %v", e.Op, e.Code, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op string, code int, err error) error {
	return &OpError{Op: op, Code: code, Err: err}
}
