// Package foreigntest provides an in-memory BoringSSL stand-in for tests: a
// component with configurable exports and a caller that simulates sessions,
// certificate stacks and CRYPTO_BUFFERs without touching native memory.
package foreigntest

import (
	"fmt"
	"sync"

	"carnotengine/tls-override/foreign"
)

// Address layout of the fake address space.
const (
	symbolBase  uintptr = 0x1000
	sessionBase uintptr = 0x10_0000
	stackBase   uintptr = 0x20_0000
	itemBase    uintptr = 0x30_0000
	dataBase    uintptr = 0x40_0000
)

// Library is a fake component plus caller. The zero value is not usable; use New.
type Library struct {
	mu sync.Mutex

	name    string
	exports map[string]uintptr
	bySym   map[uintptr]string

	sessions map[uintptr]uintptr   // session -> stack (0 = no peer certs)
	stacks   map[uintptr][]uintptr // stack -> items
	items    map[uintptr][]byte    // item -> contents
	nextItem uintptr
	nextSess uintptr

	// Fail makes calls through the named symbol return an error.
	Fail map[string]error
	// Panic makes calls through the named symbol panic.
	Panic map[string]bool
	// NullData makes CRYPTO_BUFFER_data return NULL.
	NullData bool

	calls map[string]int
}

// New returns a library exporting every symbol in foreign.Symbols except omit.
func New(name string, omit ...string) *Library {
	l := &Library{
		name:     name,
		exports:  map[string]uintptr{},
		bySym:    map[uintptr]string{},
		sessions: map[uintptr]uintptr{},
		stacks:   map[uintptr][]uintptr{},
		items:    map[uintptr][]byte{},
		nextItem: itemBase,
		nextSess: sessionBase,
		Fail:     map[string]error{},
		Panic:    map[string]bool{},
		calls:    map[string]int{},
	}
	skip := map[string]bool{}
	for _, s := range omit {
		skip[s] = true
	}
	addr := symbolBase
	for _, sym := range sortedSymbols() {
		addr += 0x10
		if skip[sym] {
			continue
		}
		l.exports[sym] = addr
		l.bySym[addr] = sym
	}
	return l
}

func (l *Library) Name() string { return l.name }

func (l *Library) Export(symbol string) (uintptr, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr, ok := l.exports[symbol]
	return addr, ok
}

// Session registers a handshake whose peer presented chain, in order. A nil
// chain models a peer that sent no certificates (NULL stack).
func (l *Library) Session(chain [][]byte) uintptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextSess += 0x100
	sess := l.nextSess
	if chain == nil {
		l.sessions[sess] = 0
		return sess
	}
	sk := stackBase + (sess - sessionBase)
	items := make([]uintptr, len(chain))
	for i, c := range chain {
		l.nextItem += 0x100
		items[i] = l.nextItem
		l.items[l.nextItem] = append([]byte(nil), c...)
	}
	l.stacks[sk] = items
	l.sessions[sess] = sk
	return sess
}

// Calls returns how many times symbol was called.
func (l *Library) Calls(symbol string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[symbol]
}

// Call dispatches on the handle's address like a native trampoline would.
func (l *Library) Call(h foreign.Handle, args ...uintptr) (uintptr, error) {
	l.mu.Lock()
	sym, ok := l.bySym[h.Addr]
	if ok {
		l.calls[sym]++
	}
	failErr, panics := l.Fail[sym], l.Panic[sym]
	l.mu.Unlock()

	if !ok {
		return 0, foreign.NewError(foreign.KindSymbolNotFound, h.Name, fmt.Sprintf("no export at %#x", h.Addr))
	}
	if want := foreign.Symbols[sym].String(); h.Sig.String() != want {
		return 0, foreign.NewError(foreign.KindSignature, sym, "called as "+h.Sig.String()+", declared "+want)
	}
	if len(args) != len(h.Sig.Args) {
		return 0, foreign.NewError(foreign.KindSignature, sym, fmt.Sprintf("got %d args", len(args)))
	}
	if panics {
		panic("fake fault in " + sym)
	}
	if failErr != nil {
		return 0, failErr
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	switch sym {
	case foreign.SymGet0PeerCertificates:
		return l.sessions[args[0]], nil
	case foreign.SymSkNum:
		return uintptr(len(l.stacks[args[0]])), nil
	case foreign.SymSkValue:
		items := l.stacks[args[0]]
		if args[1] >= uintptr(len(items)) {
			panic(fmt.Sprintf("sk_value out of range: %d of %d", args[1], len(items)))
		}
		return items[args[1]], nil
	case foreign.SymBufferLen:
		return uintptr(len(l.items[args[0]])), nil
	case foreign.SymBufferData:
		if l.NullData {
			return 0, nil
		}
		return args[0] - itemBase + dataBase, nil
	}
	return 0, nil
}

// Read copies n bytes of a buffer previously returned by CRYPTO_BUFFER_data.
func (l *Library) Read(ptr uintptr, n int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, ok := l.items[ptr-dataBase+itemBase]
	if !ok || n > len(data) {
		return nil, foreign.NewError(foreign.KindExtraction, foreign.SymBufferData, fmt.Sprintf("bad read %#x+%d", ptr, n))
	}
	return append([]byte(nil), data[:n]...), nil
}

func sortedSymbols() []string {
	return []string{
		foreign.SymBufferData,
		foreign.SymBufferLen,
		foreign.SymCtxSetCustomVerify,
		foreign.SymGet0PeerCertificates,
		foreign.SymGetPSKIdentity,
		foreign.SymSetCustomVerify,
		foreign.SymSkNum,
		foreign.SymSkValue,
	}
}
