package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// RequestPriority defines priority levels for API requests.
// Higher priority requests may use more of the weight budget.
type RequestPriority int

const (
	// PriorityCritical - order placement, uses up to 95% of the budget
	PriorityCritical RequestPriority = iota
	// PriorityNormal - prices, balances, klines, uses up to 70%
	PriorityNormal
)

func (p RequestPriority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityNormal:
		return "NORMAL"
	default:
		return "UNKNOWN"
	}
}

// Request weights for the spot REST endpoints this client calls
var endpointWeights = map[string]int{
	"/api/v3/account":      20,
	"/api/v3/order":        1,
	"/api/v3/ticker/price": 2, // 4 without symbol
	"/api/v3/klines":       2,
	"/api/v3/exchangeInfo": 20,
}

func getEndpointWeight(endpoint string) int {
	if w, ok := endpointWeights[endpoint]; ok {
		return w
	}
	return 1
}

// RateLimiter tracks the per-minute request weight and blocks callers
// before the exchange would reject them. A 418/429 opens the circuit until
// the ban expires.
type RateLimiter struct {
	mu sync.Mutex

	maxWeight     int
	currentWeight int
	weightResetAt time.Time
	banUntil      time.Time

	now func() time.Time
}

// NewRateLimiter creates a limiter for a weight budget per minute
func NewRateLimiter(maxWeight int) *RateLimiter {
	return &RateLimiter{
		maxWeight:     maxWeight,
		weightResetAt: time.Now().Add(time.Minute),
		now:           time.Now,
	}
}

func (r *RateLimiter) thresholdFor(priority RequestPriority) int {
	if priority == PriorityCritical {
		return r.maxWeight * 95 / 100
	}
	return r.maxWeight * 70 / 100
}

// tryAcquire records the endpoint's weight when it fits, otherwise returns
// how long to wait before trying again
func (r *RateLimiter) tryAcquire(endpoint string, priority RequestPriority) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Before(r.banUntil) {
		return false, r.banUntil.Sub(now)
	}
	if now.After(r.weightResetAt) {
		r.currentWeight = 0
		r.weightResetAt = now.Add(time.Minute)
	}

	weight := getEndpointWeight(endpoint)
	if r.currentWeight+weight > r.thresholdFor(priority) {
		return false, r.weightResetAt.Sub(now)
	}
	r.currentWeight += weight
	return true, 0
}

// Acquire blocks until the request fits the budget or ctx is done
func (r *RateLimiter) Acquire(ctx context.Context, endpoint string, priority RequestPriority) error {
	for {
		ok, wait := r.tryAcquire(endpoint, priority)
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait for %s: %w", endpoint, ctx.Err())
		case <-timer.C:
		}
	}
}

// UpdateFromHeaders syncs the local counter with X-MBX-USED-WEIGHT-1M
func (r *RateLimiter) UpdateFromHeaders(usedWeight string) {
	w, err := strconv.Atoi(usedWeight)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if w > r.currentWeight {
		r.currentWeight = w
	}
}

// RecordBan opens the circuit for retryAfter
func (r *RateLimiter) RecordBan(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = time.Minute
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	until := r.now().Add(retryAfter)
	if until.After(r.banUntil) {
		r.banUntil = until
	}
}

// Usage returns the weight consumed in the current window
func (r *RateLimiter) Usage() (current, max int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentWeight, r.maxWeight
}
