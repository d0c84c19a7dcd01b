package client

import (
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/statewire/statewire/internal/common"
)

// Reconnector handles reconnection with exponential backoff.
type Reconnector struct {
	config *common.ReconnectConfig
	logger *slog.Logger

	mu           sync.Mutex
	attempts     int
	currentDelay time.Duration
	lastAttempt  time.Time
}

// NewReconnector creates a new reconnector.
func NewReconnector(cfg *common.ReconnectConfig, logger *slog.Logger) *Reconnector {
	return &Reconnector{
		config:       cfg,
		logger:       logger.With(slog.String("component", "reconnector")),
		currentDelay: cfg.InitialDelay,
	}
}

// NextDelay calculates the next delay before attempting to reconnect.
// Uses exponential backoff with jitter. A negative result signals that
// no further attempts should be made.
func (r *Reconnector) NextDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts++

	if r.config.MaxAttempts > 0 && r.attempts > r.config.MaxAttempts {
		r.logger.Warn("max reconnection attempts exceeded",
			slog.Int("attempts", r.attempts),
			slog.Int("max_attempts", r.config.MaxAttempts))
		return -1
	}

	baseDelay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(r.attempts-1))
	if baseDelay > float64(r.config.MaxDelay) {
		baseDelay = float64(r.config.MaxDelay)
	}

	// Add jitter (up to 25% of base delay)
	jitter := baseDelay * 0.25 * rand.Float64()
	delay := time.Duration(baseDelay + jitter)

	r.currentDelay = delay
	r.lastAttempt = time.Now()

	r.logger.Debug("calculated reconnect delay",
		slog.Int("attempt", r.attempts),
		slog.Duration("delay", delay))

	return delay
}

// Reset resets the reconnector state after a successful connection.
func (r *Reconnector) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts = 0
	r.currentDelay = r.config.InitialDelay

	r.logger.Debug("reconnector reset")
}

// Attempts returns the number of reconnection attempts made.
func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// ShouldRetry returns true if more reconnection attempts should be made.
func (r *Reconnector) ShouldRetry() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.config.MaxAttempts == 0 {
		return true // Unlimited retries
	}

	return r.attempts < r.config.MaxAttempts
}
