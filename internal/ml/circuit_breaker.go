package ml

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/temcen/giftwise/internal/config"
)

// errCallerGone marks a call abandoned because the caller's context ended.
var errCallerGone = errors.New("caller context done")

// NewCircuitBreaker builds a breaker that trips after FailureThreshold
// consecutive failures and logs every state change. Calls abandoned by the
// caller say nothing about upstream health and never count as failures.
func NewCircuitBreaker(name string, cfg config.BreakerConfig, logger *logrus.Logger) *gobreaker.CircuitBreaker[[]byte] {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	openTimeout := cfg.Timeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, errCallerGone)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger == nil {
				return
			}
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return gobreaker.NewCircuitBreaker[[]byte](settings)
}
