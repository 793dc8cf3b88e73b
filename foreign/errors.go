package foreign

import "errors"

// Kind is a stable category for the failures the native boundary can produce.
// Callers should branch on Kind (via errors.As) rather than on message text.
type Kind string

const (
	KindSymbolNotFound Kind = "SymbolNotFound"
	KindComponentLoad  Kind = "ComponentLoad"
	KindExtraction     Kind = "Extraction"
	KindSignature      Kind = "Signature"
	KindHook           Kind = "Hook"
)

// Sentinels usable with errors.Is; every *Error of the matching Kind reports true.
var (
	ErrNotFound      = errors.New("symbol not found")
	ErrComponentLoad = errors.New("component load failure")
	ErrExtraction    = errors.New("extraction failure")
	ErrSignature     = errors.New("unsupported signature")
	ErrHook          = errors.New("hook primitive failure")
)

// Error is the structured error returned across this module.
type Error struct {
	Kind    Kind
	Symbol  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if e.Symbol != "" {
		msg = e.Symbol + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches the Kind sentinels.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrNotFound:
		return e.Kind == KindSymbolNotFound
	case ErrComponentLoad:
		return e.Kind == KindComponentLoad
	case ErrExtraction:
		return e.Kind == KindExtraction
	case ErrSignature:
		return e.Kind == KindSignature
	case ErrHook:
		return e.Kind == KindHook
	}
	return false
}

func NewError(kind Kind, symbol, msg string) error {
	return &Error{Kind: kind, Symbol: symbol, Message: msg}
}

func WrapError(kind Kind, symbol, msg string, cause error) error {
	return &Error{Kind: kind, Symbol: symbol, Message: msg, Cause: cause}
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
