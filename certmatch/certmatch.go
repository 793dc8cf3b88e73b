// Package certmatch decides whether a peer certificate chain is trusted by
// the override: a chain is accepted iff one of its certificates is
// byte-for-byte identical to the configured CA certificate.
//
// No expiry, hostname, key usage or path validation is done. On a match the
// library's own verification is skipped entirely; otherwise it runs unmodified.
package certmatch

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Decision is the outcome of one verification event.
type Decision int

const (
	DeferToDefault Decision = iota
	AcceptOverride
)

func (d Decision) String() string {
	switch d {
	case AcceptOverride:
		return "accept-override"
	default:
		return "defer-to-default"
	}
}

// Matches reports whether candidate is exactly trusted. Lengths are compared
// first and mismatched lengths are never compared byte by byte.
func Matches(candidate, trusted []byte) bool {
	if len(candidate) != len(trusted) {
		return false
	}
	for i := range candidate {
		if candidate[i] != trusted[i] {
			return false
		}
	}
	return true
}

// Decide scans chain in the order given and accepts on the first match.
func Decide(chain [][]byte, trusted []byte) Decision {
	for _, cert := range chain {
		if Matches(cert, trusted) {
			return AcceptOverride
		}
	}
	return DeferToDefault
}

// ErrEmptyCA is returned by NewPolicy for an empty certificate.
var ErrEmptyCA = errors.New("certmatch: trusted CA certificate is empty")

// Policy holds the trusted CA certificate. It is immutable after NewPolicy
// and safe for concurrent use.
type Policy struct {
	trusted     []byte
	fingerprint string
}

// NewPolicy copies der, so later changes to the caller's slice have no effect.
func NewPolicy(der []byte) (*Policy, error) {
	if len(der) == 0 {
		return nil, ErrEmptyCA
	}
	trusted := append([]byte(nil), der...)
	sum := sha256.Sum256(trusted)
	return &Policy{trusted: trusted, fingerprint: hex.EncodeToString(sum[:])}, nil
}

// Decide applies Decide with the policy's CA.
func (p *Policy) Decide(chain [][]byte) Decision {
	if p == nil {
		return DeferToDefault
	}
	return Decide(chain, p.trusted)
}

// Len is the length of the trusted certificate.
func (p *Policy) Len() int { return len(p.trusted) }

// Fingerprint is the hex SHA-256 of the trusted certificate, for diagnostics.
func (p *Policy) Fingerprint() string { return p.fingerprint }
