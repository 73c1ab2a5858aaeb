package recovery

import (
	"context"
	"errors"
	"log"
	"runtime"
	"sync"
	"time"
)

// ErrSafeDefault tells the caller to serve a minimal well-formed empty
// response instead of the failure.
var ErrSafeDefault = errors.New("recovery: serve safe default")

const (
	maxAttempts      = 3
	networkBaseDelay = 500 * time.Millisecond
	networkMaxDelay  = 8 * time.Second
	onlineWaitCeil   = 30 * time.Second
)

// Manager applies per-kind recovery strategies with a bounded attempt budget
// per (operation, error) pair, and owns the unified/legacy circuit breakers.
type Manager struct {
	unified *Breaker
	legacy  *Breaker

	mu         sync.Mutex
	attempts   map[string]int
	legacyMode bool

	// RefreshCredentials is invoked on permission failures before degrading
	// to public mode. Optional.
	RefreshCredentials func(context.Context) error
	// ClearCaches is invoked on resource exhaustion. Optional.
	ClearCaches func()

	sleep func(time.Duration)
}

func NewManager() *Manager {
	return &Manager{
		unified:  NewBreaker("unified", 5, 5*time.Minute),
		legacy:   NewBreaker("legacy", 10, 10*time.Minute),
		attempts: make(map[string]int),
		sleep:    time.Sleep,
	}
}

func (m *Manager) Unified() *Breaker { return m.unified }
func (m *Manager) Legacy() *Breaker  { return m.legacy }

// LegacyMode reports whether a resource failure has switched the system into
// the lower-resource legacy path.
func (m *Manager) LegacyMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.legacyMode
}

// Recover attempts to recover from cause. It returns nil when retry
// eventually succeeded, ErrSafeDefault when the caller should serve empty
// data, and cause itself when recovery is exhausted or not applicable.
func (m *Manager) Recover(ctx context.Context, op string, cause error, retry func(context.Context) error) error {
	if cause == nil {
		return nil
	}
	if !m.budget(op, cause) {
		log.Printf("recovery: attempt budget exhausted for %s: %v", op, cause)
		return ErrSafeDefault
	}

	switch KindOf(cause) {
	case KindNetwork:
		return m.recoverNetwork(ctx, op, cause, retry)
	case KindPermission:
		if m.RefreshCredentials != nil {
			if err := m.RefreshCredentials(ctx); err == nil && retry != nil {
				if err := retry(ctx); err == nil {
					return nil
				}
			}
		}
		log.Printf("recovery: %s degraded to public mode: %v", op, cause)
		return ErrSafeDefault
	case KindData:
		log.Printf("recovery: %s returned malformed data, substituting empty structure: %v", op, cause)
		return ErrSafeDefault
	case KindResource:
		if m.ClearCaches != nil {
			m.ClearCaches()
		}
		runtime.GC()
		m.mu.Lock()
		m.legacyMode = true
		m.mu.Unlock()
		log.Printf("recovery: %s hit resource limits, switched to legacy mode: %v", op, cause)
		return ErrSafeDefault
	default:
		return cause
	}
}

func (m *Manager) recoverNetwork(ctx context.Context, op string, cause error, retry func(context.Context) error) error {
	if retry == nil {
		return cause
	}
	// The whole backoff sequence shares the online-wait ceiling.
	ctx, cancel := context.WithTimeout(ctx, onlineWaitCeil)
	defer cancel()

	delay := networkBaseDelay
	for i := 0; i < maxAttempts; i++ {
		select {
		case <-ctx.Done():
			return cause
		default:
		}
		m.sleep(delay)
		if err := retry(ctx); err == nil {
			log.Printf("recovery: %s recovered after %d network retries", op, i+1)
			return nil
		}
		delay *= 2
		if delay > networkMaxDelay {
			delay = networkMaxDelay
		}
	}
	return cause
}

func (m *Manager) budget(op string, cause error) bool {
	key := op + "|" + cause.Error()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempts[key] >= maxAttempts {
		return false
	}
	m.attempts[key]++
	return true
}
