package repository

import (
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// NewBreaker builds the circuit breaker wrapped around a remote backend.
// The breaker trips after a sustained failure ratio so a dead engine fails
// fast into the dispatcher's partial-failure path instead of eating the
// whole deadline budget on every request.
func NewBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.8
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}
