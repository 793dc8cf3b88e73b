//go:build !cgo

package boring

import (
	"carnotengine/tls-override/foreign"
	"carnotengine/tls-override/intercept"
)

var errNoCgo = foreign.NewError(foreign.KindComponentLoad, "", "built without cgo")

// Library is never produced without cgo.
type Library struct{ name string }

func (l *Library) Name() string { return l.name }

func (l *Library) Export(string) (uintptr, bool) { return 0, false }

// Loader fails every load without cgo.
type Loader struct{}

func (Loader) Attach(string) (foreign.Component, error) { return nil, errNoCgo }

func (Loader) Load(string) (foreign.Component, error) { return nil, errNoCgo }

// Caller cannot reach native code without cgo.
type Caller struct{}

func (Caller) Call(h foreign.Handle, _ ...uintptr) (uintptr, error) {
	return 0, foreign.NewError(foreign.KindSignature, h.Name, "built without cgo")
}

func (Caller) Read(uintptr, int) ([]byte, error) {
	return nil, foreign.NewError(foreign.KindExtraction, "", "built without cgo")
}

type Hooker struct{}

func NewHooker(foreign.Component, uintptr) (*Hooker, error) { return nil, errNoCgo }

func (*Hooker) Resolve(symbol string, sig foreign.Signature) (foreign.Handle, bool) {
	return foreign.Handle{Name: symbol, Sig: sig}, false
}

func (*Hooker) Replace(target foreign.Handle, _ intercept.Replacement) error {
	return foreign.NewError(foreign.KindHook, target.Name, "built without cgo")
}

func (*Hooker) CallOriginal(target foreign.Handle, _ ...uintptr) (uintptr, error) {
	return 0, foreign.NewError(foreign.KindHook, target.Name, "built without cgo")
}

func VerifyCallback() uintptr { return 0 }
