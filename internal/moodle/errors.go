package moodle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind is the closed set of failure classes the orchestrator reacts to.
type Kind string

const (
	KindGeneric         Kind = "generic"
	KindContentTooLarge Kind = "content_too_large"
	KindTimeout         Kind = "timeout"
	KindNotFound        Kind = "not_found"
	KindAuth            Kind = "auth"
)

// Retryable reports whether a session may spend retry budget on this kind.
func (k Kind) Retryable() bool {
	return k != KindAuth
}

// Error is a classified Moodle web service failure.
type Error struct {
	Kind    Kind
	Op      string // wsfunction
	Status  int    // HTTP status, 0 when the request never completed
	Code    string // Moodle errorcode
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("moodle ")
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a classified error, classifying unknown errors on the fly.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return Classify(0, "", err.Error(), err)
}

var (
	tooLargeHints = []string{"too large", "too long", "exceeds", "max_allowed_packet", "payload", "request entity", "maxbytes", "post_max_size"}
	authHints     = []string{"invalidtoken", "accessexception", "webservice_access_exception", "requireloginerror", "nopermission", "invalid token"}
	notFoundHints = []string{"invalidrecord", "dmlmissingrecord", "invalidrecordunknown", "coursenotfound", "not found", "does not exist", "can't find data record"}
	timeoutHints  = []string{"timeout", "timed out", "deadline exceeded"}
)

// Classify maps a transport status, Moodle error code, message and cause onto a Kind.
// This is the only place where error text is inspected.
func Classify(status int, code, message string, cause error) Kind {
	if cause != nil {
		if errors.Is(cause, context.DeadlineExceeded) {
			return KindTimeout
		}
		var ne net.Error
		if errors.As(cause, &ne) && ne.Timeout() {
			return KindTimeout
		}
	}

	switch status {
	case http.StatusRequestEntityTooLarge:
		return KindContentTooLarge
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return KindTimeout
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusNotFound:
		return KindNotFound
	}

	text := strings.ToLower(code + " " + message)
	switch {
	case containsAny(text, authHints):
		return KindAuth
	case containsAny(text, tooLargeHints):
		return KindContentTooLarge
	case containsAny(text, timeoutHints):
		return KindTimeout
	case containsAny(text, notFoundHints):
		return KindNotFound
	}
	return KindGeneric
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}
