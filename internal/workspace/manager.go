package workspace

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lodestar-io/lodestar/internal/evidence"
)

var (
	ErrRateLimitExceeded  = errors.New("capture rate limit exceeded")
	ErrDailyQuotaExceeded = errors.New("daily capture quota exceeded")
)

// Limits configures per-workspace capture validation.
type Limits struct {
	CaptureRPS   float64 // sustained captures per second; 0 means no limit
	CaptureBurst int     // burst allowance
	DailyQuota   int     // captures per UTC day; 0 means no limit
}

// Manager validates capture requests per workspace: rate limit and daily
// quota. Limiters are created lazily on first request from a workspace.
type Manager struct {
	limits   Limits
	evidence *evidence.Store

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewManager creates a manager backed by the evidence store for quota checks.
func NewManager(limits Limits, ev *evidence.Store) *Manager {
	return &Manager{
		limits:   limits,
		evidence: ev,
		limiters: make(map[string]*rate.Limiter),
	}
}

// ValidateCapture checks that a workspace is within its capture rate limit
// and daily quota. Returns a typed error on failure.
func (m *Manager) ValidateCapture(ctx context.Context, workspaceID string) error {
	if lim := m.limiter(workspaceID); lim != nil {
		if !lim.Allow() {
			return ErrRateLimitExceeded
		}
	}

	if m.limits.DailyQuota <= 0 || m.evidence == nil {
		return nil
	}

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	count, err := m.evidence.CountInRange(ctx, workspaceID, dayStart, dayEnd)
	if err != nil {
		return err
	}
	if count >= m.limits.DailyQuota {
		return ErrDailyQuotaExceeded
	}
	return nil
}

func (m *Manager) limiter(workspaceID string) *rate.Limiter {
	if m.limits.CaptureRPS <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.limiters[workspaceID]
	if !ok {
		burst := m.limits.CaptureBurst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(m.limits.CaptureRPS), burst)
		m.limiters[workspaceID] = lim
	}
	return lim
}
