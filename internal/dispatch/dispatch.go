// Package dispatch executes one message against the filtered subset of a
// collection under a concurrency policy, with per-target failure
// isolation: nothing a single target does can abort its siblings or
// escape Notify as a panic or error.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"megaphone/internal/collection"
	"megaphone/internal/eventbus"
	"megaphone/internal/tagfilter"
	"megaphone/internal/target"
	"megaphone/pkg/logx"
)

const defaultWorkers = 8

// Notify runs one batch. It always returns a Report and never an error or
// panic: parse/construction problems were already handled at add time,
// and send-time failures are per-target outcomes.
func Notify(ctx context.Context, col *collection.Collection, msg target.Message, opts Options, log logx.Logger) Report {
	if log.IsZero() {
		log = logx.Nop()
	}
	start := time.Now()
	batch := uuid.NewString()
	log = log.With(logx.String("batch", batch))

	items := col.Items()
	if len(items) == 0 {
		log.Debug("notify with empty collection")
		return done(Report{ID: batch, Result: NoTargets}, start, opts.Bus)
	}

	filter := opts.Filter
	if filter == nil {
		filter = tagfilter.Compile(nil)
	}

	// Filter before anything else, preserving collection order.
	matched := items[:0:0]
	for _, it := range items {
		if filter.Matches(it) {
			matched = append(matched, it)
		}
	}
	if len(matched) == 0 {
		log.Info("no targets matched tag filter",
			logx.Int("configured", len(items)), logx.Any("filter", filter.Groups()))
		return done(Report{ID: batch, Result: NoMatch}, start, opts.Bus)
	}

	log.Info("dispatching",
		logx.Int("targets", len(matched)),
		logx.String("mode", opts.Mode.String()),
		logx.Bool("has_title", msg.Title != ""),
		logx.Int("body_len", len(msg.Body)))

	outcomes := make([]Outcome, len(matched))

	// Local capability checks first; a skip costs no network call.
	var sendIdx []int
	for i, it := range matched {
		if reason, skip := capabilitySkip(it.Target, msg); skip {
			outcomes[i] = outcomeFor(it.Target, StatusSkipped, reason, 0)
			log.Debug("target skipped", logx.String("id", outcomes[i].Identity), logx.String("reason", reason))
			publish(opts.Bus, outcomes[i])
			continue
		}
		sendIdx = append(sendIdx, i)
	}

	if opts.Mode == Sequential {
		runSequential(ctx, matched, sendIdx, msg, outcomes, opts.Bus, log)
	} else {
		runConcurrent(ctx, matched, sendIdx, msg, outcomes, opts, log)
	}

	rep := Report{ID: batch, Result: reduce(outcomes), Outcomes: outcomes}
	fields := []logx.Field{
		logx.String("result", rep.Result.String()),
		logx.Int("delivered", rep.Delivered()),
		logx.Int("failed", rep.Failed()),
		logx.Int("skipped", rep.Skipped()),
		logx.Duration("dur", time.Since(start)),
	}
	if rep.Failed() > 0 {
		log.Warn("dispatch finished with failures", fields...)
	} else {
		log.Info("dispatch finished", fields...)
	}
	return done(rep, start, opts.Bus)
}

func done(rep Report, start time.Time, bus eventbus.Bus) Report {
	rep.Elapsed = time.Since(start)
	if bus != nil {
		bus.Publish(eventbus.Event{Type: eventbus.TypeDone, Data: rep})
	}
	return rep
}

func runSequential(ctx context.Context, matched []collection.Item, sendIdx []int, msg target.Message, outcomes []Outcome, bus eventbus.Bus, log logx.Logger) {
	for _, i := range sendIdx {
		if ctx.Err() != nil {
			outcomes[i] = outcomeFor(matched[i].Target, StatusSkipped, "cancelled", 0)
		} else {
			outcomes[i] = sendOne(ctx, matched[i].Target, msg, log)
		}
		publish(bus, outcomes[i])
	}
}

func runConcurrent(ctx context.Context, matched []collection.Item, sendIdx []int, msg target.Message, outcomes []Outcome, opts Options, log logx.Logger) {
	n := len(sendIdx)
	if n == 0 {
		return
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if workers > n {
		workers = n
	}

	type indexed struct {
		i int
		o Outcome
	}

	jobs := make(chan int)
	results := make(chan indexed, n)
	started := make([]atomic.Bool, len(matched))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					results <- indexed{i, outcomeFor(matched[i].Target, StatusSkipped, "cancelled", 0)}
					continue
				}
				started[i].Store(true)
				results <- indexed{i, sendOne(ctx, matched[i].Target, msg, log)}
			}
		}()
	}

	// All jobs are handed out before any result is awaited; the results
	// channel is buffered for the whole batch so no worker ever blocks
	// after the collector gives up.
	go func() {
		for _, i := range sendIdx {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	seen := make(map[int]bool, n)
collect:
	for len(seen) < n {
		select {
		case r, ok := <-results:
			if !ok {
				break collect
			}
			outcomes[r.i] = r.o
			seen[r.i] = true
			publish(opts.Bus, r.o)
		case <-ctx.Done():
			// Deadline expired: record whatever already finished, then
			// stop waiting. In-flight sends are fire-and-record.
			for {
				select {
				case r, ok := <-results:
					if !ok {
						break collect
					}
					outcomes[r.i] = r.o
					seen[r.i] = true
					publish(opts.Bus, r.o)
				default:
					break collect
				}
			}
		}
	}

	for _, i := range sendIdx {
		if seen[i] {
			continue
		}
		if started[i].Load() {
			outcomes[i] = outcomeFor(matched[i].Target, StatusFailed, "cancelled mid-flight", 0)
		} else {
			outcomes[i] = outcomeFor(matched[i].Target, StatusSkipped, "cancelled", 0)
		}
		publish(opts.Bus, outcomes[i])
	}
}

// sendOne invokes a single target, converting errors and panics into
// Failed outcomes so siblings keep going.
func sendOne(ctx context.Context, t target.Target, msg target.Message, log logx.Logger) (out Outcome) {
	start := time.Now()
	id := target.Identity(t)

	defer func() {
		if r := recover(); r != nil {
			log.Error("target panicked during send",
				logx.String("id", id),
				logx.Any("panic", r),
				logx.Stack(logx.StackTrace(3, 12)))
			out = outcomeFor(t, StatusFailed, fmt.Sprintf("panic: %v", r), time.Since(start))
		}
	}()

	err := t.Send(ctx, msg)
	elapsed := time.Since(start)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		log.Warn("send failed",
			logx.String("id", id),
			logx.String("scheme", t.Addr().Scheme),
			logx.Duration("dur", elapsed),
			logx.Err(err))
		return outcomeFor(t, StatusFailed, reason, elapsed)
	}
	log.Debug("send delivered",
		logx.String("id", id),
		logx.String("scheme", t.Addr().Scheme),
		logx.Duration("dur", elapsed))
	return outcomeFor(t, StatusDelivered, "", elapsed)
}

// capabilitySkip applies the local checks that make a send pointless:
// body over the declared limit, attachments nobody can take, or a body
// format the target does not speak.
func capabilitySkip(t target.Target, msg target.Message) (string, bool) {
	caps := t.Capabilities()
	if caps.MaxBodyLen > 0 && len(msg.Body) > caps.MaxBodyLen {
		return fmt.Sprintf("body length %d exceeds limit %d", len(msg.Body), caps.MaxBodyLen), true
	}
	if len(msg.Attachments) > 0 && !caps.SupportsAttachment {
		return "attachments not supported", true
	}
	if !caps.SupportsFormat(msg.Format) {
		return fmt.Sprintf("body format %q not supported", msg.Format), true
	}
	return "", false
}

func outcomeFor(t target.Target, s Status, reason string, elapsed time.Duration) Outcome {
	return Outcome{
		Identity: target.Identity(t),
		Scheme:   t.Addr().Scheme,
		Status:   s,
		Reason:   reason,
		Elapsed:  elapsed,
	}
}

func reduce(outcomes []Outcome) Result {
	delivered, failed := 0, 0
	for _, o := range outcomes {
		switch o.Status {
		case StatusDelivered:
			delivered++
		case StatusFailed:
			failed++
		}
	}
	switch {
	case delivered > 0 && failed > 0:
		return PartialFailure
	case delivered > 0:
		return AllDelivered
	default:
		return AllFailed
	}
}

func publish(bus eventbus.Bus, o Outcome) {
	if bus != nil {
		bus.Publish(eventbus.Event{Type: eventbus.TypeOutcome, Data: o})
	}
}
