// crispy/models/services.go
package models

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// --- Stateful Services ---

type RateLimiter struct {
	Mu       sync.RWMutex
	Limiters map[string]*rate.Limiter
	LastSeen map[string]time.Time

	every  time.Duration
	burst  int
	expire time.Duration
}

// StorageService persists uploaded images. The core only keeps the returned URL.
type StorageService interface {
	SaveFile(ctx context.Context, filename string, data []byte, contentType string) (string, error)
	DeleteFile(ctx context.Context, filename string) error
	// Owns reports whether an image URL points into this store. Threads may reference
	// external images, which are never deleted.
	Owns(imageURL string) bool
}

// --- Rate Limiter Methods ---

// NewRateLimiter creates and starts a new rate limiter. Each IP may spend burst tokens, refilled once per every.
func NewRateLimiter(every time.Duration, burst int, prune, expire time.Duration) *RateLimiter {
	rl := &RateLimiter{
		Limiters: make(map[string]*rate.Limiter),
		LastSeen: make(map[string]time.Time),
		every:    every,
		burst:    burst,
		expire:   expire,
	}
	go rl.cleanup(prune)
	return rl
}

// GetLimiter retrieves or creates a rate limiter for a given IP address.
func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.Mu.Lock()
	defer rl.Mu.Unlock()
	limiter, exists := rl.Limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(rl.every), rl.burst)
		rl.Limiters[ip] = limiter
	}
	rl.LastSeen[ip] = time.Now()
	return limiter
}

// cleanup periodically removes old entries from the rate limiter maps.
func (rl *RateLimiter) cleanup(prune time.Duration) {
	if prune <= 0 {
		return
	}
	for range time.Tick(prune) {
		rl.Prune(time.Now())
	}
}

// Prune drops limiters for IPs not seen since now minus the expiry window.
func (rl *RateLimiter) Prune(now time.Time) int {
	rl.Mu.Lock()
	defer rl.Mu.Unlock()
	cutoff := now.Add(-rl.expire)
	removed := 0
	for ip, lastSeen := range rl.LastSeen {
		if lastSeen.Before(cutoff) {
			delete(rl.Limiters, ip)
			delete(rl.LastSeen, ip)
			removed++
		}
	}
	return removed
}
