// Package boring binds the override to a BoringSSL component in the current
// process: dlopen/dlsym resolution, typed call trampolines, the host's hook
// primitive and the C entry points the hooks jump to.
//
// Builds without cgo get a stub in which every component fails to load, so
// the override is a no-op.
package boring

import (
	"sync/atomic"

	"carnotengine/tls-override/certmatch"
	"carnotengine/tls-override/foreign"
	"carnotengine/tls-override/intercept"
	"carnotengine/tls-override/stack"
	"github.com/function61/gokit/log/logex"
)

// Original-pointer slots, one per hook site. Order matches the C enum in
// boring_cgo.go.
const (
	slotSetCustomVerify = iota
	slotCtxSetCustomVerify
	slotGetPSKIdentity
	slotCount
)

func slotOf(symbol string) (int, bool) {
	switch symbol {
	case foreign.SymSetCustomVerify:
		return slotSetCustomVerify, true
	case foreign.SymCtxSetCustomVerify:
		return slotCtxSetCustomVerify, true
	case foreign.SymGetPSKIdentity:
		return slotGetPSKIdentity, true
	}
	return 0, false
}

// active is what the exported callbacks dispatch to. It is stored before any
// hook is installed and never replaced with a partially built value.
var active atomic.Pointer[intercept.Bypass]

// Activate publishes b to the native callbacks.
func Activate(b *intercept.Bypass) { active.Store(b) }

// Active returns the published bypass, nil before Activate.
func Active() *intercept.Bypass { return active.Load() }

// Install wires the whole override for component: load it if needed, resolve
// the stack accessors, publish the bypass and hook every site through the
// host primitive at hook. A component that cannot be loaded leaves the
// process untouched and returns a KindComponentLoad error.
func Install(component string, trustedCA []byte, hook uintptr, logl *logex.Leveled) (*intercept.Report, error) {
	policy, err := certmatch.NewPolicy(trustedCA)
	if err != nil {
		return nil, err
	}
	lib, err := foreign.Open(Loader{}, component, logl)
	if err != nil {
		return nil, err
	}
	hooker, err := NewHooker(lib, hook)
	if err != nil {
		return nil, err
	}
	reader, err := stack.NewReader(lib, Caller{})
	if err != nil {
		// verification will always defer; the hooks are still installed so
		// that the host's own callbacks are consistently overridden
		logl.Error.Printf("peer chain unreadable, every handshake will use default verification: %v", err)
	}
	b, err := intercept.New(intercept.Options{
		Policy:         policy,
		Reader:         reader,
		Interceptor:    hooker,
		VerifyCallback: VerifyCallback(),
		Log:            logl,
	})
	if err != nil {
		return nil, err
	}
	Activate(b)
	logl.Info.Printf("trusting CA sha256=%s (%d bytes) in %s", policy.Fingerprint(), policy.Len(), lib.Name())

	report := intercept.Install(b)
	if !report.Active() {
		logl.Info.Printf("no custom_verify hook installed in %s, TLS behaviour unchanged", lib.Name())
	}
	logl.Info.Printf("hook matrix: %s", report.Matrix())
	return report, nil
}
