package intercept

import (
	"fmt"
	"sort"
	"strings"

	"carnotengine/tls-override/foreign"
)

// Replacement names the behaviour installed at a hook site.
type Replacement int

const (
	// ReplaceCustomVerify swaps the host's verify callback for the bypass's.
	ReplaceCustomVerify Replacement = iota
	// ReplacePSKIdentity returns PSKPlaceholder unconditionally.
	ReplacePSKIdentity
)

func (r Replacement) String() string {
	switch r {
	case ReplaceCustomVerify:
		return "custom_verify"
	case ReplacePSKIdentity:
		return "psk_identity"
	default:
		return fmt.Sprintf("replacement(%d)", int(r))
	}
}

// PSKPlaceholder is what the patched SSL_get_psk_identity returns. Some
// verification paths only check that the identity is non-NULL.
const PSKPlaceholder = "PSK_IDENTITY_PLACEHOLDER"

// Site is one interceptable entry point.
type Site struct {
	Symbol  string
	Primary bool
	With    Replacement
}

// Sites lists the hook sites in installation order: primaries first, so the
// auxiliary patch knows whether the bypass is active.
var Sites = []Site{
	{Symbol: foreign.SymSetCustomVerify, Primary: true, With: ReplaceCustomVerify},
	{Symbol: foreign.SymCtxSetCustomVerify, Primary: true, With: ReplaceCustomVerify},
	{Symbol: foreign.SymGetPSKIdentity, With: ReplacePSKIdentity},
}

// State of a hook site after installation was attempted.
type State int

const (
	NotFound State = iota
	Installed
	// Failed means the symbol exists but the hook primitive refused it.
	Failed
)

func (s State) String() string {
	switch s {
	case Installed:
		return "installed"
	case Failed:
		return "failed"
	default:
		return "missing"
	}
}

// SiteStatus is the outcome for one site.
type SiteStatus struct {
	Site   Site
	Handle foreign.Handle
	State  State
	Err    error
}

// Report is the installed-hooks table. It is written once by Install and
// read-only afterwards.
type Report struct {
	Sites []SiteStatus
}

// Primaries returns how many primary sites are installed.
func (r *Report) Primaries() int {
	n := 0
	for _, s := range r.Sites {
		if s.Site.Primary && s.State == Installed {
			n++
		}
	}
	return n
}

// Active reports whether the bypass is reachable through at least one site.
func (r *Report) Active() bool { return r.Primaries() > 0 }

// State returns the state of symbol, NotFound if it was never attempted.
func (r *Report) State(symbol string) State {
	for _, s := range r.Sites {
		if s.Site.Symbol == symbol {
			return s.State
		}
	}
	return NotFound
}

// Matrix renders "sym=state,..." sorted by symbol.
func (r *Report) Matrix() string {
	parts := make([]string, 0, len(r.Sites))
	for _, s := range r.Sites {
		parts = append(parts, s.Site.Symbol+"="+s.State.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
