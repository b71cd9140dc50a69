package control

import (
	"errors"
	"fmt"
)

// ErrorKind classifies control-session errors. Unauthorized, Read, Parse,
// and Reply terminate the session; Ticket and Download are absorbed into
// the job's failure count and never leave the handler.
type ErrorKind int

const (
	KindUnauthorized ErrorKind = iota
	KindRead
	KindParse
	KindTicket
	KindDownload
	KindReply
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindRead:
		return "read"
	case KindParse:
		return "parse"
	case KindTicket:
		return "ticket"
	case KindDownload:
		return "download"
	case KindReply:
		return "reply"
	default:
		return "unknown"
	}
}

// Error is the control protocol's own error type. Collaborator errors are
// wrapped here at the session boundary so callers never depend on
// transport- or store-owned error representations.
type Error struct {
	Kind   ErrorKind
	Ticket string // set for KindTicket only
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindTicket && e.Err != nil:
		return fmt.Sprintf("ticket parse failed: %s: %v", e.Ticket, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Kind, e.Err)
	default:
		switch e.Kind {
		case KindUnauthorized:
			return "unauthorized peer"
		default:
			return fmt.Sprintf("%s failed", e.Kind)
		}
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the ErrorKind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var ce *Error
	if !errors.As(err, &ce) {
		return 0, false
	}
	return ce.Kind, true
}
