package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"parlo/pkg/logger"

	"go.uber.org/zap"
)

// Checker reports whether the device currently has a usable network path
// to the backend. Both connected and internet-reachable must hold.
type Checker interface {
	Online(ctx context.Context) bool
}

// ProbeChecker decides reachability by dialing a probe address. Verdicts
// are cached briefly so a burst of requests does not turn into a burst of
// probe dials.
type ProbeChecker struct {
	addr     string
	timeout  time.Duration
	cacheTTL time.Duration

	mu        sync.Mutex
	lastProbe time.Time
	lastState bool
}

func NewProbeChecker(addr string, timeout, cacheTTL time.Duration) *ProbeChecker {
	return &ProbeChecker{
		addr:     addr,
		timeout:  timeout,
		cacheTTL: cacheTTL,
	}
}

func (p *ProbeChecker) Online(ctx context.Context) bool {
	p.mu.Lock()
	if time.Since(p.lastProbe) < p.cacheTTL {
		state := p.lastState
		p.mu.Unlock()
		return state
	}
	p.mu.Unlock()

	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	online := err == nil
	if conn != nil {
		conn.Close()
	}

	if !online {
		logger.Debug("Connectivity probe failed",
			zap.String("addr", p.addr),
			zap.Error(err))
	}

	p.mu.Lock()
	p.lastProbe = time.Now()
	p.lastState = online
	p.mu.Unlock()

	return online
}

// Static is a fixed-verdict Checker for tests and forced-offline modes.
type Static struct {
	Reachable bool
}

func (s Static) Online(ctx context.Context) bool {
	return s.Reachable
}

// Watch polls the checker and sends true on the returned channel each time
// the state flips from offline to online. The channel closes when ctx ends.
func Watch(ctx context.Context, checker Checker, interval time.Duration) <-chan bool {
	edges := make(chan bool, 1)

	go func() {
		defer close(edges)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		wasOnline := checker.Online(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			online := checker.Online(ctx)
			if online && !wasOnline {
				logger.Info("Connectivity restored")
				select {
				case edges <- true:
				default:
				}
			}
			wasOnline = online
		}
	}()

	return edges
}
