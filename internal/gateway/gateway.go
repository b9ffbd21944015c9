package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"parlo/internal/connectivity"
	"parlo/pkg/logger"
	"parlo/pkg/resilience"

	"go.uber.org/zap"
)

const (
	DefaultTimeout    = 20 * time.Second
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 1 * time.Second
	DefaultJitter     = 1 * time.Second
)

// Config bounds a single logical request: per-attempt timeout, retry count
// for network-class failures, and the backoff shape between attempts.
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	Jitter     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		Jitter:     DefaultJitter,
	}
}

// Gateway performs HTTP requests with bounded latency and bounded retries,
// surfacing every failure as a ClassifiedError.
type Gateway struct {
	client  *http.Client
	checker connectivity.Checker
	breaker *resilience.CircuitBreaker
	cfg     Config
}

func New(checker connectivity.Checker, cfg Config) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}

	return &Gateway{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		checker: checker,
		breaker: resilience.NewCircuitBreaker(5, 30*time.Second),
		cfg:     cfg,
	}
}

// Do issues a single request. The client timeout aborts the attempt after
// cfg.Timeout; the abort surfaces as a timeout-classified error. A non-2xx
// response is consumed and returned as a classified error, so callers get
// either a readable response or a ClassifiedError, never both.
func (g *Gateway) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := g.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, Classify(err)
	}

	if resp.StatusCode >= 400 {
		msg := ParseErrorResponse(resp)
		resp.Body.Close()
		return nil, Classify(&StatusError{Status: resp.StatusCode, Message: msg})
	}

	return resp, nil
}

// DoWithRetry runs build once per attempt (request bodies are single-use)
// and sends the result through Do. Reachability is checked before every
// attempt; an offline verdict raises immediately without consuming a
// retry. Only network-class failures are retried, with exponential backoff
// plus jitter. The first timeout aborts the whole operation.
func (g *Gateway) DoWithRetry(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	retryCfg := &resilience.RetryConfig{
		MaxAttempts:     g.cfg.MaxRetries,
		InitialInterval: g.cfg.BaseDelay,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          g.cfg.Jitter,
		RetryIf:         retryable,
	}

	var resp *http.Response
	attempt := 0

	err := resilience.RetryWithExponentialBackoff(ctx, retryCfg, func() error {
		attempt++

		if !g.checker.Online(ctx) {
			return Classify(ErrOffline)
		}

		req, err := build()
		if err != nil {
			return Classify(err)
		}

		// Only failures that say something about backend reachability
		// count toward the breaker. A quota or server response proves the
		// backend answered; tripping on those would masquerade a semantic
		// failure as a network one once the breaker opens.
		var semanticErr error
		execErr := g.breaker.Execute(func() error {
			r, err := g.Do(ctx, req)
			if err != nil {
				logger.Debug("Request attempt failed",
					zap.String("url", req.URL.String()),
					zap.Int("attempt", attempt),
					zap.Error(err))
				if reachabilityFailure(err) {
					return err
				}
				semanticErr = err
				return nil
			}
			resp = r
			return nil
		})
		if execErr != nil {
			return execErr
		}
		return semanticErr
	})

	if err != nil {
		return nil, Classify(err)
	}
	return resp, nil
}

// retryable admits only plain network failures: not timeouts, not an
// offline pre-check verdict, not an open breaker. None of those will
// improve within a backoff window.
func retryable(err error) bool {
	if errors.Is(err, ErrOffline) || errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type == ErrorNetwork
	}
	return false
}

// reachabilityFailure reports whether the error indicates the backend
// could not be reached at all.
func reachabilityFailure(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type == ErrorNetwork || ce.Type == ErrorTimeout
	}
	return true
}
