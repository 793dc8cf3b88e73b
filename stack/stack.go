// Package stack walks BoringSSL's STACK_OF(CRYPTO_BUFFER) to recover the raw
// peer certificates of a handshake.
//
// All pointer handling is kept here: callers get counts and owned byte
// slices. Every accessor is a boundary call that may fail, and any failure
// surfaces as a foreign.KindExtraction error.
package stack

import (
	"fmt"

	"carnotengine/tls-override/foreign"
)

// maxBuffer bounds a single certificate; anything larger is treated as a
// corrupt length rather than copied.
const maxBuffer = 1 << 20

// Caller calls through resolved handles and copies native memory.
type Caller interface {
	Call(h foreign.Handle, args ...uintptr) (uintptr, error)
	// Read copies n bytes starting at ptr.
	Read(ptr uintptr, n int) ([]byte, error)
}

// Reader is bound to one component's accessors.
type Reader struct {
	caller    Caller
	peerCerts foreign.Handle
	num       foreign.Handle
	value     foreign.Handle
	bufLen    foreign.Handle
	bufData   foreign.Handle
}

// NewReader resolves the accessor symbols in c. Every accessor is required.
func NewReader(c foreign.Component, caller Caller) (*Reader, error) {
	r := &Reader{
		caller:    caller,
		peerCerts: foreign.ResolveKnown(c, foreign.SymGet0PeerCertificates),
		num:       foreign.ResolveKnown(c, foreign.SymSkNum),
		value:     foreign.ResolveKnown(c, foreign.SymSkValue),
		bufLen:    foreign.ResolveKnown(c, foreign.SymBufferLen),
		bufData:   foreign.ResolveKnown(c, foreign.SymBufferData),
	}
	for _, h := range []foreign.Handle{r.peerCerts, r.num, r.value, r.bufLen, r.bufData} {
		if !h.Valid() {
			return nil, foreign.NewError(foreign.KindSymbolNotFound, h.Name, "accessor not exported")
		}
	}
	return r, nil
}

// PeerCertificates returns the peer chain stack of session. Zero means the
// peer sent no certificates.
func (r *Reader) PeerCertificates(session uintptr) (uintptr, error) {
	if session == 0 {
		return 0, foreign.NewError(foreign.KindExtraction, r.peerCerts.Name, "null session")
	}
	return r.call(r.peerCerts, session)
}

// Len returns the number of elements of stack. A null stack is empty.
func (r *Reader) Len(stack uintptr) (int, error) {
	if stack == 0 {
		return 0, nil
	}
	n, err := r.call(r.num, stack)
	if err != nil {
		return 0, err
	}
	if n > maxBuffer {
		return 0, foreign.NewError(foreign.KindExtraction, r.num.Name, fmt.Sprintf("implausible stack length %d", n))
	}
	return int(n), nil
}

// At returns element i of stack. The caller guarantees 0 <= i < Len(stack).
func (r *Reader) At(stack uintptr, i int) (uintptr, error) {
	item, err := r.call(r.value, stack, uintptr(i))
	if err != nil {
		return 0, err
	}
	if item == 0 {
		return 0, foreign.NewError(foreign.KindExtraction, r.value.Name, fmt.Sprintf("null element %d", i))
	}
	return item, nil
}

// Buffer copies the contents of a CRYPTO_BUFFER. The returned slice is owned
// by the caller; the native buffer may be freed once the callback returns.
func (r *Reader) Buffer(item uintptr) ([]byte, error) {
	n, err := r.call(r.bufLen, item)
	if err != nil {
		return nil, err
	}
	if n > maxBuffer {
		return nil, foreign.NewError(foreign.KindExtraction, r.bufLen.Name, fmt.Sprintf("implausible buffer length %d", n))
	}
	if n == 0 {
		return []byte{}, nil
	}
	data, err := r.call(r.bufData, item)
	if err != nil {
		return nil, err
	}
	if data == 0 {
		return nil, foreign.NewError(foreign.KindExtraction, r.bufData.Name, "null data with non-zero length")
	}
	b, err := r.read(data, int(n))
	if err != nil {
		return nil, err
	}
	if len(b) != int(n) {
		return nil, foreign.NewError(foreign.KindExtraction, r.bufData.Name, fmt.Sprintf("short read %d/%d", len(b), n))
	}
	return b, nil
}

// Chain returns owned copies of the peer certificates of session, in stack
// order.
func (r *Reader) Chain(session uintptr) ([][]byte, error) {
	sk, err := r.PeerCertificates(session)
	if err != nil {
		return nil, err
	}
	n, err := r.Len(sk)
	if err != nil {
		return nil, err
	}
	chain := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		item, err := r.At(sk, i)
		if err != nil {
			return nil, err
		}
		cert, err := r.Buffer(item)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

func (r *Reader) call(h foreign.Handle, args ...uintptr) (ret uintptr, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = foreign.NewError(foreign.KindExtraction, h.Name, fmt.Sprintf("panic in boundary call: %v", p))
		}
	}()
	ret, err = r.caller.Call(h, args...)
	if err != nil && foreign.KindOf(err) != foreign.KindExtraction {
		err = foreign.WrapError(foreign.KindExtraction, h.Name, "boundary call failed", err)
	}
	return ret, err
}

func (r *Reader) read(ptr uintptr, n int) (b []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = foreign.NewError(foreign.KindExtraction, r.bufData.Name, fmt.Sprintf("panic reading buffer: %v", p))
		}
	}()
	b, err = r.caller.Read(ptr, n)
	if err != nil && foreign.KindOf(err) != foreign.KindExtraction {
		err = foreign.WrapError(foreign.KindExtraction, r.bufData.Name, "read failed", err)
	}
	return b, err
}
