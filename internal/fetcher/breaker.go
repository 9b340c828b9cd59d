package fetcher

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrHostUnavailable is returned without contacting a host whose breaker is
// open.
var ErrHostUnavailable = eris.New("fetcher: host unavailable")

// breakerState is the state of one host's breaker.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerOptions configures per-host circuit breaking for remote sources.
type BreakerOptions struct {
	// FailureThreshold is the number of consecutive failed downloads that
	// opens a host's breaker. Default: 3.
	FailureThreshold int
	// ResetTimeout is how long an open breaker rejects downloads before one
	// probe is let through. Default: 5m.
	ResetTimeout time.Duration
}

type breaker struct {
	state    breakerState
	failures int
	openedAt time.Time
}

// hostBreakers tracks one breaker per remote host, so a supplier site that
// is down fails scheduled refreshes fast instead of exhausting retries on
// every run.
type hostBreakers struct {
	opts BreakerOptions
	now  func() time.Time

	mu    sync.Mutex
	hosts map[string]*breaker
}

func newHostBreakers(opts BreakerOptions) *hostBreakers {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = 5 * time.Minute
	}
	return &hostBreakers{opts: opts, now: time.Now, hosts: make(map[string]*breaker)}
}

func hostOf(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return location
	}
	return strings.ToLower(u.Host)
}

// allow reports whether a download from host may proceed. An open breaker
// past its reset timeout moves to half-open and admits one probe.
func (h *hostBreakers) allow(host string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.hosts[host]
	if !ok {
		return nil
	}
	switch b.state {
	case breakerOpen:
		if h.now().Sub(b.openedAt) < h.opts.ResetTimeout {
			return eris.Wrapf(ErrHostUnavailable, "%s failed %d times", host, b.failures)
		}
		h.transition(host, b, breakerHalfOpen)
		return nil
	case breakerHalfOpen:
		// A probe is already in flight.
		return eris.Wrapf(ErrHostUnavailable, "%s is being probed", host)
	default:
		return nil
	}
}

// record updates host's breaker with a download outcome.
func (h *hostBreakers) record(host string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.hosts[host]
	if !ok {
		b = &breaker{}
		h.hosts[host] = b
	}

	if err == nil {
		b.failures = 0
		if b.state != breakerClosed {
			h.transition(host, b, breakerClosed)
		}
		return
	}

	b.failures++
	if b.state == breakerHalfOpen || b.failures >= h.opts.FailureThreshold {
		b.openedAt = h.now()
		if b.state != breakerOpen {
			h.transition(host, b, breakerOpen)
		}
	}
}

// state returns host's current breaker state.
func (h *hostBreakers) state(host string) breakerState {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.hosts[host]; ok {
		return b.state
	}
	return breakerClosed
}

func (h *hostBreakers) transition(host string, b *breaker, to breakerState) {
	zap.L().Info("fetcher: breaker state change",
		zap.String("host", host),
		zap.Stringer("from", b.state),
		zap.Stringer("to", to),
		zap.Int("failures", b.failures),
	)
	b.state = to
}
