package errs

import (
	"errors"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// CodeError carries a stable numeric code and reason alongside the message.
// Code/Reason are what clients see; Detail stays server-side.
type CodeError struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, reason, msg string) *CodeError {
	return &CodeError{Code: code, Reason: reason, Msg: msg}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{Code: e.Code, Reason: e.Reason, Msg: e.Msg, Detail: e.Detail}
}

// WithDetail returns a copy carrying extra server-side detail.
func (e *CodeError) WithDetail(detail string) *CodeError {
	c := e.clone()
	if c.Detail == "" {
		c.Detail = detail
	} else {
		c.Detail += ", " + detail
	}
	return c
}

// WrapMsg attaches detail and a call stack.
func (e *CodeError) WrapMsg(msg string) error {
	return pkgerrors.WithStack(e.WithDetail(msg))
}

// Is matches on code so sentinel comparison survives WithDetail copies.
func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}

// AsCodeError extracts a CodeError from an error chain; nil if none.
func AsCodeError(err error) *CodeError {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}

func WrapMsg(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithMessage(err, msg)
}

func New(msg string) error {
	return errors.New(msg)
}
