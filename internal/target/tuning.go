package target

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"megaphone/internal/address"
)

// Tuning bounds a target's transport behavior. Zero values fall back to
// the defaults below.
type Tuning struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// RatePerSec caps outbound requests for this target. 0 disables.
	RatePerSec int
}

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
)

func (t Tuning) withDefaults() Tuning {
	if t.ConnectTimeout <= 0 {
		t.ConnectTimeout = DefaultConnectTimeout
	}
	if t.ReadTimeout <= 0 {
		t.ReadTimeout = DefaultReadTimeout
	}
	return t
}

// Tuning query parameters understood uniformly by every scheme, so the
// address model can validate them once instead of each integration
// reinventing its own knob names.
const (
	QueryConnectTimeout = "cto"
	QueryReadTimeout    = "rto"
	QueryRate           = "rps"
)

// TuningFromQuery extracts transport knobs from an address. Values are
// Go durations ("10s") or bare seconds ("10"); rps is an integer.
func TuningFromQuery(addr *address.Address) (Tuning, error) {
	var t Tuning
	var err error
	if raw, ok := addr.QueryGet(QueryConnectTimeout); ok {
		if t.ConnectTimeout, err = parseTimeout(QueryConnectTimeout, raw); err != nil {
			return Tuning{}, err
		}
	}
	if raw, ok := addr.QueryGet(QueryReadTimeout); ok {
		if t.ReadTimeout, err = parseTimeout(QueryReadTimeout, raw); err != nil {
			return Tuning{}, err
		}
	}
	if raw, ok := addr.QueryGet(QueryRate); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Tuning{}, fmt.Errorf("invalid %s value %q", QueryRate, raw)
		}
		t.RatePerSec = n
	}
	return t, nil
}

func parseTimeout(key, raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s value %q", key, raw)
	}
	return d, nil
}

// HTTPClient builds a client honoring the connect/read bounds. HTTP-based
// targets share this so timeout behavior stays uniform.
func (t Tuning) HTTPClient() *http.Client {
	t = t.withDefaults()
	dialer := &net.Dialer{Timeout: t.ConnectTimeout}
	return &http.Client{
		Timeout: t.ConnectTimeout + t.ReadTimeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   t.ConnectTimeout,
			ResponseHeaderTimeout: t.ReadTimeout,
			MaxIdleConnsPerHost:   2,
		},
	}
}
