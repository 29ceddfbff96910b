package middleware

import (
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	apperrors "ctxstore/internal/errors"
	"ctxstore/internal/interfaces/http/response"
)

// CircuitBreakerConfig tunes the shared breaker in front of the tool routes.
type CircuitBreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultCircuitBreakerConfig trips after a sustained 5xx streak and probes
// again after a minute.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// CircuitBreaker sheds traffic when handlers keep failing. A 5xx response
// counts as a failure; once the failure ratio passes the threshold the
// breaker opens and requests are rejected immediately until the probe
// window, which keeps a dead backend from tying up every worker.
func CircuitBreaker(config CircuitBreakerConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, err := cb.Execute(func() (any, error) {
				ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

				next.ServeHTTP(ww, r)

				if ww.status >= 500 {
					return nil, http.ErrAbortHandler
				}
				return nil, nil
			})

			switch err {
			case nil, http.ErrAbortHandler:
				// Response already written by the handler.
			case gobreaker.ErrOpenState, gobreaker.ErrTooManyRequests:
				response.Error(w, r, apperrors.New(apperrors.KindUnavailable,
					"service temporarily unavailable"))
			default:
				response.Error(w, r, apperrors.NewInternal("internal error", err))
			}
		})
	}
}

// statusRecorder captures the status code for the breaker's failure count.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
