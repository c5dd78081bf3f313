// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RateLimiterConfig configures the provider-call rate limiter. One limiter
// is shared by every session in the process, since they all draw on the
// same API key's quota.
type RateLimiterConfig struct {
	// Enabled turns rate limiting on. When false, Do calls through
	// directly.
	Enabled bool

	// RequestsPerSecond caps stream starts per second across all sessions.
	RequestsPerSecond float64

	// TokensPerMinute is the provider's per-minute token quota; consumption
	// is reported via RecordTokenUsage and tracked in a sliding window.
	TokensPerMinute int64

	// BurstCapacity is the token-bucket size: how many stream starts may
	// fire back-to-back before the per-second rate applies.
	BurstCapacity int

	// MinDelay is slept before every call once a bucket token is taken, in
	// addition to the RequestsPerSecond pacing of the bucket.
	MinDelay time.Duration

	// MaxRetries caps retries of a call that fails with a throttling error.
	MaxRetries int

	// RetryBackoff is the initial backoff before a throttled retry; it
	// doubles on each subsequent attempt.
	RetryBackoff time.Duration

	// QueueTimeout bounds how long Do waits to enter the queue. Once a
	// request is queued, the wait for a bucket token and the call itself are
	// not bounded by it.
	QueueTimeout time.Duration

	Logger *zap.Logger
}

// DefaultRateLimiterConfig returns defaults conservative enough for a
// single API key shared by many concurrent sessions.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 2.0,
		TokensPerMinute:   40000,
		BurstCapacity:     5,
		MinDelay:          300 * time.Millisecond,
		MaxRetries:        5,
		RetryBackoff:      1 * time.Second,
		QueueTimeout:      5 * time.Minute,
		Logger:            zap.NewNop(),
	}
}

// RateLimiter serializes provider calls through a token bucket with a
// bounded queue, retrying throttled calls with exponential backoff. The
// orchestrator runs each whole provider stream inside Do, and the queue
// processor runs one call at a time, so streams through one limiter do not
// overlap.
type RateLimiter struct {
	config RateLimiterConfig

	// token bucket for request admission
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex

	// per-minute token consumption, reported by provider clients
	tokenWindow   []tokenUsage
	tokenWindowMu sync.Mutex

	queue      chan *rateLimitedRequest
	queueDepth int64
	queueMu    sync.Mutex

	metrics   RateLimiterMetrics
	metricsMu sync.RWMutex

	stopCh chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
}

type tokenUsage struct {
	timestamp time.Time
	tokens    int64
}

type rateLimitedRequest struct {
	ctx      context.Context
	call     func(context.Context) (any, error)
	resultCh chan *rateLimitedResult
}

type rateLimitedResult struct {
	result any
	err    error
}

// RateLimiterMetrics tracks rate limiter performance.
type RateLimiterMetrics struct {
	TotalRequests      int64
	ThrottledRequests  int64
	QueuedRequests     int64
	DroppedRequests    int64
	AverageQueueTimeMs int64
	CurrentQueueDepth  int64
	TokensConsumed     int64
	LastThrottleTime   time.Time
}

// NewRateLimiter creates a new rate limiter and starts its queue processor.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	rl := &RateLimiter{
		config:      config,
		tokens:      float64(config.BurstCapacity),
		maxTokens:   float64(config.BurstCapacity),
		refillRate:  config.RequestsPerSecond,
		lastRefill:  time.Now(),
		tokenWindow: make([]tokenUsage, 0, 100),
		queue:       make(chan *rateLimitedRequest, config.BurstCapacity*2),
		stopCh:      make(chan struct{}),
	}

	rl.wg.Add(1)
	go rl.processQueue()

	rl.wg.Add(1)
	go rl.reportMetrics()

	return rl
}

// Do executes call under rate limiting, retrying automatically when the
// provider reports throttling.
func (rl *RateLimiter) Do(ctx context.Context, call func(context.Context) (any, error)) (any, error) {
	if !rl.config.Enabled {
		return call(ctx)
	}

	if rl.closed.Load() {
		return nil, fmt.Errorf("llm: rate limiter stopped")
	}

	req := &rateLimitedRequest{
		ctx:      ctx,
		call:     call,
		resultCh: make(chan *rateLimitedResult, 1),
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	queueCtx, cancel := context.WithTimeout(ctx, rl.config.QueueTimeout)
	defer cancel()

	rl.incrementQueueDepth()
	defer rl.decrementQueueDepth()

	queueStart := time.Now()
	select {
	case <-rl.stopCh:
		return nil, fmt.Errorf("llm: rate limiter stopped")
	case <-ctx.Done():
		rl.recordMetric("dropped", 0)
		return nil, ctx.Err()
	case <-queueCtx.Done():
		rl.recordMetric("dropped", 0)
		return nil, fmt.Errorf("llm: rate limiter queue timeout after %v", rl.config.QueueTimeout)
	case rl.queue <- req:
		rl.recordMetric("queued", 0)
	}

	select {
	case result := <-req.resultCh:
		queueTime := time.Since(queueStart)
		rl.updateAverageQueueTime(queueTime)
		return result.result, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-rl.stopCh:
		return nil, fmt.Errorf("llm: rate limiter stopped")
	}
}

func (rl *RateLimiter) processQueue() {
	defer rl.wg.Done()

	for {
		select {
		case req := <-rl.queue:
			rl.processRequest(req)
		case <-rl.stopCh:
			return
		}
	}
}

// processRequest waits for a bucket token, enforces minimum spacing, and
// runs the call with throttling retries.
func (rl *RateLimiter) processRequest(req *rateLimitedRequest) {
	for {
		if rl.acquireToken() {
			break
		}

		select {
		case <-time.After(50 * time.Millisecond):
		case <-req.ctx.Done():
			req.resultCh <- &rateLimitedResult{err: req.ctx.Err()}
			return
		case <-rl.stopCh:
			req.resultCh <- &rateLimitedResult{err: fmt.Errorf("llm: rate limiter stopped")}
			return
		}
	}

	if rl.config.MinDelay > 0 {
		time.Sleep(rl.config.MinDelay)
	}

	result, err := rl.executeWithRetry(req.ctx, req.call)

	select {
	case req.resultCh <- &rateLimitedResult{result: result, err: err}:
	case <-req.ctx.Done():
	case <-rl.stopCh:
	}
}

// executeWithRetry runs call, retrying with doubling backoff while the
// error looks like provider throttling.
func (rl *RateLimiter) executeWithRetry(ctx context.Context, call func(context.Context) (any, error)) (any, error) {
	backoff := rl.config.RetryBackoff

	for attempt := 0; attempt <= rl.config.MaxRetries; attempt++ {
		result, err := call(ctx)
		rl.recordMetric("request", 0)

		if err != nil && isThrottlingError(err) {
			rl.recordMetric("throttled", 0)
			rl.config.Logger.Warn("provider call throttled, retrying",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", rl.config.MaxRetries),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)

			if attempt < rl.config.MaxRetries {
				select {
				case <-time.After(backoff):
					backoff *= 2
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-rl.stopCh:
					return nil, fmt.Errorf("llm: rate limiter stopped during retry")
				}
				continue
			}
			continue
		}

		return result, err
	}

	return nil, fmt.Errorf("llm: provider call failed after %d attempts due to throttling", rl.config.MaxRetries+1)
}

// acquireToken attempts to take one token from the bucket, refilling by
// elapsed time first.
func (rl *RateLimiter) acquireToken() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens = min(rl.maxTokens, rl.tokens+elapsed*rl.refillRate)
	rl.lastRefill = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}

	return false
}

// isThrottlingError reports whether err looks like quota exhaustion on any
// of the supported providers: plain HTTP 429s, Anthropic overloaded_error,
// Bedrock ThrottlingException, OpenAI TooManyRequests, Google
// RESOURCE_EXHAUSTED.
func isThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "ThrottlingException") ||
		strings.Contains(errStr, "TooManyRequests") ||
		strings.Contains(errStr, "overloaded_error") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "throttle")
}

// RecordTokenUsage records a completed turn's token consumption toward the
// per-minute window. Provider clients call this after each stream.
func (rl *RateLimiter) RecordTokenUsage(tokens int64) {
	rl.tokenWindowMu.Lock()
	defer rl.tokenWindowMu.Unlock()

	now := time.Now()
	rl.tokenWindow = append(rl.tokenWindow, tokenUsage{
		timestamp: now,
		tokens:    tokens,
	})

	cutoff := now.Add(-1 * time.Minute)
	for i, usage := range rl.tokenWindow {
		if usage.timestamp.After(cutoff) {
			rl.tokenWindow = rl.tokenWindow[i:]
			break
		}
	}

	rl.recordMetric("tokens", tokens)
}

// GetTokenUsageLastMinute returns token consumption in the last minute.
func (rl *RateLimiter) GetTokenUsageLastMinute() int64 {
	rl.tokenWindowMu.Lock()
	defer rl.tokenWindowMu.Unlock()

	var total int64
	cutoff := time.Now().Add(-1 * time.Minute)

	for _, usage := range rl.tokenWindow {
		if usage.timestamp.After(cutoff) {
			total += usage.tokens
		}
	}

	return total
}

func (rl *RateLimiter) recordMetric(event string, value int64) {
	rl.metricsMu.Lock()
	defer rl.metricsMu.Unlock()

	switch event {
	case "request":
		rl.metrics.TotalRequests++
	case "throttled":
		rl.metrics.ThrottledRequests++
		rl.metrics.LastThrottleTime = time.Now()
	case "queued":
		rl.metrics.QueuedRequests++
	case "dropped":
		rl.metrics.DroppedRequests++
	case "tokens":
		rl.metrics.TokensConsumed += value
	}
}

func (rl *RateLimiter) incrementQueueDepth() {
	rl.queueMu.Lock()
	defer rl.queueMu.Unlock()
	rl.queueDepth++

	rl.metricsMu.Lock()
	rl.metrics.CurrentQueueDepth = rl.queueDepth
	rl.metricsMu.Unlock()
}

func (rl *RateLimiter) decrementQueueDepth() {
	rl.queueMu.Lock()
	defer rl.queueMu.Unlock()
	rl.queueDepth--

	rl.metricsMu.Lock()
	rl.metrics.CurrentQueueDepth = rl.queueDepth
	rl.metricsMu.Unlock()
}

func (rl *RateLimiter) updateAverageQueueTime(queueTime time.Duration) {
	rl.metricsMu.Lock()
	defer rl.metricsMu.Unlock()

	// simple two-point moving average
	currentAvg := time.Duration(rl.metrics.AverageQueueTimeMs) * time.Millisecond
	newAvg := (currentAvg + queueTime) / 2
	rl.metrics.AverageQueueTimeMs = newAvg.Milliseconds()
}

// GetMetrics returns current rate limiter metrics.
func (rl *RateLimiter) GetMetrics() RateLimiterMetrics {
	rl.metricsMu.RLock()
	defer rl.metricsMu.RUnlock()
	return rl.metrics
}

// reportMetrics periodically logs rate limiter metrics.
func (rl *RateLimiter) reportMetrics() {
	defer rl.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics := rl.GetMetrics()
			lastMinute := rl.GetTokenUsageLastMinute()

			rl.config.Logger.Info("rate limiter metrics",
				zap.Int64("total_requests", metrics.TotalRequests),
				zap.Int64("throttled_requests", metrics.ThrottledRequests),
				zap.Int64("queued_requests", metrics.QueuedRequests),
				zap.Int64("dropped_requests", metrics.DroppedRequests),
				zap.Int64("current_queue_depth", metrics.CurrentQueueDepth),
				zap.Int64("avg_queue_time_ms", metrics.AverageQueueTimeMs),
				zap.Int64("tokens_consumed", metrics.TokensConsumed),
				zap.Int64("tokens_last_minute", lastMinute),
			)
		case <-rl.stopCh:
			return
		}
	}
}

// Close stops the rate limiter and waits for its goroutines. Idempotent.
func (rl *RateLimiter) Close() error {
	if !rl.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(rl.stopCh)
	rl.wg.Wait()
	close(rl.queue)

	return nil
}
