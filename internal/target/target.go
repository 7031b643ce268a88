// Package target defines the delivery unit every integration implements,
// plus the shared pieces (tags, capabilities, identity, transport tuning)
// so individual integrations stay small.
package target

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"megaphone/internal/address"
)

// Target is one ready-to-invoke notification endpoint.
//
// Send performs exactly one delivery attempt's worth of remote work; any
// retry policy lives inside the implementation and is invisible to the
// dispatcher. Implementations must be safe for concurrent Send calls.
type Target interface {
	Send(ctx context.Context, msg Message) error

	// IdentityComponents feeds the persistent-store fingerprint. The
	// default (via Base) is the privacy-redacted address rendering, so
	// rotating a secret does not orphan cached state.
	IdentityComponents() []string

	Capabilities() Capabilities
	Tags() *TagSet
	Addr() *address.Address
}

// ConstructionError reports a valid address that a factory could not turn
// into a working target (missing credential, bad parameter value).
type ConstructionError struct {
	Scheme string
	Reason string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Scheme, e.Reason)
}

// Identity computes the short fingerprint joining a target to its
// persistent-store namespace. Stable across restarts for the same address.
func Identity(t Target) string {
	h := sha256.Sum256([]byte(strings.Join(t.IdentityComponents(), "\n")))
	return hex.EncodeToString(h[:])[:8]
}

// Base carries the state common to every target implementation. Embed it
// by pointer and override what differs.
type Base struct {
	addr       *address.Address
	tags       *TagSet
	caps       Capabilities
	tuning     Tuning
	secretKeys []string

	limiter *rate.Limiter
}

func NewBase(addr *address.Address, tags []string, caps Capabilities, tuning Tuning, secretKeys ...string) Base {
	var lim *rate.Limiter
	if tuning.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(tuning.RatePerSec), tuning.RatePerSec)
	}
	return Base{
		addr:       addr,
		tags:       NewTagSet(tags...),
		caps:       caps,
		tuning:     tuning,
		secretKeys: secretKeys,
		limiter:    lim,
	}
}

func (b *Base) Addr() *address.Address     { return b.addr }
func (b *Base) Tags() *TagSet              { return b.tags }
func (b *Base) Capabilities() Capabilities { return b.caps }
func (b *Base) Tuning() Tuning             { return b.tuning }

// Redacted renders the address with this target's declared secrets masked.
func (b *Base) Redacted() string {
	return b.addr.Redacted(b.secretKeys...)
}

func (b *Base) IdentityComponents() []string {
	return []string{b.Redacted()}
}

// Throttle blocks until the per-target rate ceiling admits one more
// request. Rate limiting lives here, not in the dispatcher, so a
// throttled target cannot stall its siblings in concurrent mode.
func (b *Base) Throttle(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}
