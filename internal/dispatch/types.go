package dispatch

import (
	"time"

	"megaphone/internal/eventbus"
	"megaphone/internal/tagfilter"
)

// Mode selects the scheduling model for a batch.
type Mode int

const (
	// Concurrent issues all sends in parallel under a worker pool; no
	// ordering guarantee between completions.
	Concurrent Mode = iota
	// Sequential issues sends strictly one at a time in filtered order,
	// for when deterministic rate-respecting delivery beats latency.
	Sequential
)

func (m Mode) String() string {
	if m == Sequential {
		return "sequential"
	}
	return "concurrent"
}

// Status is the per-target delivery status.
type Status int

const (
	StatusDelivered Status = iota
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// Outcome records what happened to one target during a batch.
type Outcome struct {
	Identity string
	Scheme   string
	Status   Status
	Reason   string
	Elapsed  time.Duration
}

// Result reduces a batch of outcomes.
type Result int

const (
	// AllDelivered: every attempted send succeeded (capability skips do
	// not count against it).
	AllDelivered Result = iota
	// PartialFailure: at least one delivery and at least one failure.
	PartialFailure
	// AllFailed: attempts were made, none delivered.
	AllFailed
	// NoMatch: the collection was non-empty but the tag filter matched
	// nothing. Distinct from AllFailed for caller diagnostics.
	NoMatch
	// NoTargets: nothing configured at all.
	NoTargets
)

func (r Result) String() string {
	switch r {
	case AllDelivered:
		return "all-delivered"
	case PartialFailure:
		return "partial-failure"
	case AllFailed:
		return "all-failed"
	case NoMatch:
		return "no-match"
	default:
		return "no-targets"
	}
}

// Options tune one notify batch.
type Options struct {
	// Filter selects targets by tag. nil means everything matches.
	Filter *tagfilter.Filter

	Mode Mode

	// Workers caps the pool in concurrent mode. <=0 picks a default.
	Workers int

	// Bus, when set, receives a TypeOutcome event per target and one
	// TypeDone event per batch.
	Bus eventbus.Bus
}

// Report is the full account of one batch.
type Report struct {
	ID       string
	Result   Result
	Outcomes []Outcome
	Elapsed  time.Duration
}

// Delivered counts successful outcomes.
func (r Report) Delivered() int { return r.count(StatusDelivered) }

// Failed counts failed outcomes.
func (r Report) Failed() int { return r.count(StatusFailed) }

// Skipped counts skipped outcomes.
func (r Report) Skipped() int { return r.count(StatusSkipped) }

func (r Report) count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}
