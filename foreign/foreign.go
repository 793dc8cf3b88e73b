// Package foreign resolves named entry points exported by a loaded native
// component and describes the calling signature each one is bound with.
//
// Nothing here touches native memory. Components and calls are reached
// through the Component and Loader interfaces; the cgo implementation lives
// in package boring.
package foreign

import (
	"strings"

	"github.com/function61/gokit/log/logex"
)

// Type is a native argument or return type.
type Type uint8

const (
	Void Type = iota
	Pointer
	Int
	SizeT
)

func (t Type) String() string {
	switch t {
	case Void:
		return "void"
	case Pointer:
		return "pointer"
	case Int:
		return "int"
	case SizeT:
		return "size_t"
	default:
		return "unknown"
	}
}

// Signature is the ABI a symbol is called with. A wrong signature is undefined
// behaviour on the native side, so it is declared once per symbol in Symbols.
type Signature struct {
	Return Type
	Args   []Type
}

// Sig builds a Signature.
func Sig(ret Type, args ...Type) Signature {
	return Signature{Return: ret, Args: args}
}

// String renders the signature as "ret(arg,arg)", e.g. "pointer(pointer,size_t)".
func (s Signature) String() string {
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = a.String()
	}
	return s.Return.String() + "(" + strings.Join(args, ",") + ")"
}

// Handle is a symbol bound to its entry-point address. The zero Handle (and
// any handle with Addr == 0) is the "not found" state.
type Handle struct {
	Name string
	Addr uintptr
	Sig  Signature
}

// Valid reports whether resolution succeeded.
func (h Handle) Valid() bool { return h.Addr != 0 }

// Component is a loaded native library whose exports can be looked up.
// It is referenced, never owned: implementations must not unload it.
type Component interface {
	Name() string
	Export(symbol string) (uintptr, bool)
}

// Loader maps components into the process.
type Loader interface {
	// Attach returns the component if it is already mapped.
	Attach(name string) (Component, error)
	// Load maps the component.
	Load(name string) (Component, error)
}

// Resolve binds symbol in c to sig. A missing symbol or a nil component
// yields an invalid handle; absence is a state, not an error.
func Resolve(c Component, symbol string, sig Signature) Handle {
	h := Handle{Name: symbol, Sig: sig}
	if c == nil {
		return h
	}
	if addr, ok := c.Export(symbol); ok && addr != 0 {
		h.Addr = addr
	}
	return h
}

// ResolveKnown resolves one of the symbols declared in Symbols with its
// declared signature.
func ResolveKnown(c Component, symbol string) Handle {
	sig, ok := Symbols[symbol]
	if !ok {
		return Handle{Name: symbol}
	}
	return Resolve(c, symbol, sig)
}

// Open returns name if it is already mapped, loading it otherwise. Failure is
// reported once on the log and returned as a KindComponentLoad error; callers
// are expected to turn the whole system into a no-op.
func Open(l Loader, name string, logl *logex.Leveled) (Component, error) {
	c, attachErr := l.Attach(name)
	if attachErr == nil && c != nil {
		return c, nil
	}
	if logl != nil {
		logl.Debug.Printf("%s not mapped yet (%v), loading", name, attachErr)
	}
	c, err := l.Load(name)
	if err != nil || c == nil {
		if logl != nil {
			logl.Error.Printf("could not load %s to hook TLS: %v", name, err)
		}
		return nil, WrapError(KindComponentLoad, "", "load "+name, err)
	}
	return c, nil
}
