// Package intercept installs the verification bypass into BoringSSL.
//
// The host's calls to SSL_set_custom_verify and SSL_CTX_set_custom_verify are
// replaced: the host's callback is dropped and the bypass's own verify
// callback is configured instead. That callback accepts a chain iff it holds
// the trusted CA certificate and otherwise returns ssl_verify_invalid.
// SSL_get_psk_identity is patched to return a non-NULL placeholder.
//
// Code patching itself is provided by the instrumentation host through the
// Interceptor interface.
package intercept

import (
	"errors"
	"fmt"

	"carnotengine/tls-override/certmatch"
	"carnotengine/tls-override/foreign"
	"carnotengine/tls-override/stack"
	"github.com/function61/gokit/log/logex"
)

// Values returned by the verify callback (enum ssl_verify_result_t).
const (
	// VerifyOK tells BoringSSL the chain is verified.
	VerifyOK = 0
	// VerifyInvalid is ssl_verify_invalid: BoringSSL fails the handshake.
	// It is the defer value for chains without the trusted CA.
	VerifyInvalid = 1
)

// Interceptor is the host's code-patching primitive.
type Interceptor interface {
	Resolve(symbol string, sig foreign.Signature) (foreign.Handle, bool)
	// Replace makes target run the replacement. It must be atomic from the
	// host's point of view: callers see the old or the new code, never a mix.
	Replace(target foreign.Handle, with Replacement) error
	// CallOriginal calls target's implementation from before Replace.
	CallOriginal(target foreign.Handle, args ...uintptr) (uintptr, error)
}

// Options configure a Bypass.
type Options struct {
	Policy      *certmatch.Policy
	Reader      *stack.Reader
	Interceptor Interceptor
	// VerifyCallback is the native address of the callback that ends up in
	// Bypass.Verify; it is what replaced set_custom_verify calls configure.
	VerifyCallback uintptr
	Log            *logex.Leveled
}

// Bypass is the process-wide override. All fields are set by New and never
// change, so one Bypass serves concurrent handshakes without locking.
type Bypass struct {
	policy   *certmatch.Policy
	reader   *stack.Reader
	icpt     Interceptor
	callback uintptr
	log      *logex.Leveled
}

// New validates opts. A nil Reader is allowed: every verification then defers.
func New(opts Options) (*Bypass, error) {
	if opts.Policy == nil {
		return nil, errors.New("intercept: no trusted CA policy")
	}
	if opts.Interceptor == nil {
		return nil, errors.New("intercept: no interceptor")
	}
	if opts.VerifyCallback == 0 {
		return nil, errors.New("intercept: no verify callback address")
	}
	return &Bypass{
		policy:   opts.Policy,
		reader:   opts.Reader,
		icpt:     opts.Interceptor,
		callback: opts.VerifyCallback,
		log:      opts.Log,
	}, nil
}

// Decide reads the peer chain of session and applies the policy. Any
// extraction failure defers to the library.
func (b *Bypass) Decide(session uintptr) (d certmatch.Decision, err error) {
	defer func() {
		if p := recover(); p != nil {
			d = certmatch.DeferToDefault
			err = foreign.NewError(foreign.KindExtraction, "", fmt.Sprintf("panic during verification: %v", p))
		}
	}()
	if b.reader == nil {
		return certmatch.DeferToDefault, foreign.NewError(foreign.KindSymbolNotFound, "", "stack accessors unavailable")
	}
	chain, err := b.reader.Chain(session)
	if err != nil {
		return certmatch.DeferToDefault, err
	}
	return b.policy.Decide(chain), nil
}

// Verify is the body of the installed verify callback. It never panics.
func (b *Bypass) Verify(session uintptr) int {
	if b == nil {
		return VerifyInvalid
	}
	d, err := b.Decide(session)
	if err != nil && b.log != nil {
		b.log.Debug.Printf("verify %#x: %v, deferring", session, err)
	}
	if d == certmatch.AcceptOverride {
		return VerifyOK
	}
	return VerifyInvalid
}

// SetCustomVerify is the replacement for a set_custom_verify site. The host's
// mode is forwarded; its callback is ignored in favour of the bypass's.
func (b *Bypass) SetCustomVerify(target foreign.Handle, ssl, mode, hostCallback uintptr) {
	defer func() {
		if p := recover(); p != nil && b.log != nil {
			b.log.Error.Printf("%s: panic in replacement: %v", target.Name, p)
		}
	}()
	if _, err := b.icpt.CallOriginal(target, ssl, mode, b.callback); err != nil && b.log != nil {
		b.log.Error.Printf("%s: original not callable, host callback %#x dropped: %v", target.Name, hostCallback, err)
	}
}

// Install attempts every site independently. A missing symbol or a refused
// replacement only disables that site.
func Install(b *Bypass) *Report {
	report := &Report{Sites: make([]SiteStatus, 0, len(Sites))}
	for _, site := range Sites {
		st := installSite(b, site)
		report.Sites = append(report.Sites, st)
		// without a primary hook the patch is moot, so its absence is silent
		if st.State == NotFound && !site.Primary && report.Active() && b.log != nil {
			b.log.Info.Printf("Patched %d custom_verify methods, but couldn't find %s", report.Primaries(), site.Symbol)
		}
	}
	return report
}

func installSite(b *Bypass, site Site) (st SiteStatus) {
	st = SiteStatus{Site: site}
	defer func() {
		if p := recover(); p != nil {
			st.State = Failed
			st.Err = foreign.NewError(foreign.KindHook, site.Symbol, fmt.Sprintf("panic: %v", p))
		}
		if st.State == Failed && b.log != nil {
			b.log.Error.Printf("hook %s not installed: %v", site.Symbol, st.Err)
		}
	}()

	h, ok := b.icpt.Resolve(site.Symbol, foreign.Symbols[site.Symbol])
	if !ok || !h.Valid() {
		st.Err = foreign.NewError(foreign.KindSymbolNotFound, site.Symbol, "not exported")
		if site.Primary && b.log != nil {
			b.log.Info.Printf("%s not exported, skipping", site.Symbol)
		}
		return st
	}
	st.Handle = h
	if err := b.icpt.Replace(h, site.With); err != nil {
		st.State = Failed
		if foreign.KindOf(err) == "" {
			err = foreign.WrapError(foreign.KindHook, site.Symbol, "replace", err)
		}
		st.Err = err
		return st
	}
	st.State = Installed
	if b.log != nil {
		b.log.Debug.Printf("hooked %s (%s) at %#x", site.Symbol, site.With, h.Addr)
	}
	return st
}
