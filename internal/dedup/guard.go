// Package dedup implements the idempotency guard that collapses retried
// chat requests onto a single upstream completion call.
package dedup

import (
	"encoding/base64"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultRetention is how long a completed record survives.
const DefaultRetention = 30 * time.Minute

// anonymous stands in for a missing identifier when deriving keys.
const anonymous = "unknown"

// Status is the outcome of Begin.
type Status int

const (
	// StatusNew means the caller owns the key and must run the pipeline.
	StatusNew Status = iota
	// StatusInFlight means an identical request is still being processed.
	StatusInFlight
	// StatusDone means a cached result is available.
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusInFlight:
		return "in_flight"
	case StatusDone:
		return "done"
	default:
		return "unknown"
	}
}

// Outcome is returned by Begin.
type Outcome struct {
	Status Status
	Result string
}

type record struct {
	done   bool
	result string
}

// Guard maps idempotency keys to a processing record.
//
// Per key: ABSENT -> PROCESSING (Begin) -> DONE (Complete) -> ABSENT (expiry).
// Release moves PROCESSING back to ABSENT after a failed attempt.
type Guard struct {
	entries       *cache.Cache
	retention     time.Duration
	processingTTL time.Duration
}

// Option configures a Guard.
type Option func(*Guard)

// WithProcessingTTL bounds how long a PROCESSING record may live. Zero keeps
// it until Complete or Release.
func WithProcessingTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		g.processingTTL = ttl
	}
}

// NewGuard creates a guard whose completed records expire after retention.
func NewGuard(retention time.Duration, opts ...Option) *Guard {
	if retention <= 0 {
		retention = DefaultRetention
	}

	janitor := retention / 6
	if janitor > time.Minute {
		janitor = time.Minute
	}
	if janitor < 10*time.Millisecond {
		janitor = 10 * time.Millisecond
	}

	g := &Guard{
		entries:   cache.New(retention, janitor),
		retention: retention,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Begin claims key for the caller if it is absent. The insert-if-absent step
// is atomic across goroutines.
func (g *Guard) Begin(key string) Outcome {
	ttl := g.processingTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}

	for {
		if err := g.entries.Add(key, record{}, ttl); err == nil {
			return Outcome{Status: StatusNew}
		}

		v, found := g.entries.Get(key)
		if !found {
			// Expired between Add and Get; try to claim it again.
			continue
		}

		rec := v.(record)
		if rec.done {
			return Outcome{Status: StatusDone, Result: rec.result}
		}
		return Outcome{Status: StatusInFlight}
	}
}

// Complete stores the final result for key and starts its retention window.
func (g *Guard) Complete(key, result string) {
	g.entries.Set(key, record{done: true, result: result}, g.retention)
}

// Release forgets key so an identical request can retry immediately.
func (g *Guard) Release(key string) {
	g.entries.Delete(key)
}

// Len returns the number of live records, including expired ones not yet
// purged by the janitor.
func (g *Guard) Len() int {
	return g.entries.ItemCount()
}

// Retention returns the completed-record lifetime.
func (g *Guard) Retention() time.Duration {
	return g.retention
}

// Key derives the idempotency key for a normalized message. The separator
// never appears in base64 output, so distinct identifiers cannot collide.
func Key(identifier, message string) string {
	if identifier == "" {
		identifier = anonymous
	}
	return identifier + ":" + base64.StdEncoding.EncodeToString([]byte(message))
}
