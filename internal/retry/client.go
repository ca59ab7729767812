// Package retry wraps a broker with bounded retry for the read-side calls.
// Order submission is never retried; a timed-out placement may still have
// reached the exchange, and a duplicate roll is worse than a missed one.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tmacey/delta-roller/internal/broker"
	"github.com/tmacey/delta-roller/internal/orders"
)

// Config controls retry behavior.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is the retry policy used when none is supplied.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Broker decorates another broker.Broker with retry on transient failures.
type Broker struct {
	broker broker.Broker
	logger *logrus.Logger
	config Config
}

// Ensure Broker implements broker.Broker at compile time.
var _ broker.Broker = (*Broker)(nil)

// NewBroker wraps b with the retry policy. An optional Config overrides
// DefaultConfig.
func NewBroker(b broker.Broker, logger *logrus.Logger, config ...Config) *Broker {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Broker{
		broker: b,
		logger: logger,
		config: cfg,
	}
}

// Positions retrieves positions, retrying transient failures.
func (c *Broker) Positions(ctx context.Context) ([]broker.Position, error) {
	return withRetry(ctx, c, "positions", func(ctx context.Context) ([]broker.Position, error) {
		return c.broker.Positions(ctx)
	})
}

// Orders retrieves orders, retrying transient failures.
func (c *Broker) Orders(ctx context.Context) ([]broker.Order, error) {
	return withRetry(ctx, c, "orders", func(ctx context.Context) ([]broker.Order, error) {
		return c.broker.Orders(ctx)
	})
}

// Quote retrieves quotes, retrying transient failures.
func (c *Broker) Quote(ctx context.Context, symbol string) (map[string]broker.Contract, error) {
	return withRetry(ctx, c, "quote "+symbol, func(ctx context.Context) (map[string]broker.Contract, error) {
		return c.broker.Quote(ctx, symbol)
	})
}

// OptionChains retrieves an option chain, retrying transient failures.
func (c *Broker) OptionChains(ctx context.Context, req broker.ChainRequest) (*broker.ChainResponse, error) {
	return withRetry(ctx, c, "chains "+req.Symbol, func(ctx context.Context) (*broker.ChainResponse, error) {
		return c.broker.OptionChains(ctx, req)
	})
}

// PlaceCustomOrder passes straight through. Retrying a placement risks a
// double submission when the first attempt succeeded but the ack was lost.
func (c *Broker) PlaceCustomOrder(ctx context.Context, order orders.Request) error {
	return c.broker.PlaceCustomOrder(ctx, order)
}

// withRetry runs fn under the retry policy, backing off between transient
// failures.
func withRetry[T any](ctx context.Context, c *Broker, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	opCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-opCtx.Done():
			return zero, fmt.Errorf("%s timed out after %v: %w", op, c.config.Timeout, opCtx.Err())
		default:
		}

		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s canceled: %w", op, ctx.Err())
		}

		result, err := fn(opCtx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		c.logger.WithError(err).Warnf("%s attempt %d/%d failed", op, attempt+1, c.config.MaxRetries+1)

		if c.isTransientError(err) && attempt < c.config.MaxRetries {
			c.logger.Debugf("transient error on %s, retrying in %v", op, backoff)
			select {
			case <-time.After(backoff):
				backoff = c.calculateNextBackoff(backoff)
			case <-opCtx.Done():
				return zero, fmt.Errorf("%s timed out during backoff: %w", op, opCtx.Err())
			case <-ctx.Done():
				return zero, fmt.Errorf("%s canceled during backoff: %w", op, ctx.Err())
			}
		} else {
			break
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, c.config.MaxRetries+1, lastErr)
}

func (c *Broker) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("Failed to generate jitter: %v", err)
		} else {
			jitter := time.Duration(jitterVal.Int64())
			backoff += jitter
		}
	}

	return backoff
}

func (c *Broker) isTransientError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
