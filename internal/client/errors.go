package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a publishing failure. Kinds are errors themselves so
// callers can write errors.Is(err, client.KindNotFound).
type Kind string

const (
	KindAuth       Kind = "auth"
	KindRateLimit  Kind = "rate_limit"
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindMedia      Kind = "media"
	KindTransport  Kind = "transport"
)

func (k Kind) Error() string {
	return string(k)
}

// Error is a failed platform operation.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the kind of err, KindTransport for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

// classify wraps err into an *Error, guessing the kind from the message the
// way XRPC and HTTP errors spell it out.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Op: op, Kind: KindTransport, Err: err}
	}

	msg := strings.ToLower(err.Error())
	kind := KindTransport
	switch {
	case containsAny(msg, "ratelimit", "rate limit", "429"):
		kind = KindRateLimit
	case containsAny(msg, "authrequired", "expiredtoken", "invalidtoken", "authenticationrequired", "unauthorized", "401", "403"):
		kind = KindAuth
	case containsAny(msg, "notfound", "not found", "could not find", "404"):
		kind = KindNotFound
	case containsAny(msg, "blobtoolarge", "invalidrequest", "invalid request", "400"):
		kind = KindValidation
	}

	return &Error{Op: op, Kind: kind, Err: err}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
