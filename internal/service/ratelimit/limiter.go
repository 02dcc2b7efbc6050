package ratelimit

import (
	"sync"
	"time"
)

// Budget names used by the download engine.
const (
	BudgetCourseProcessing = "course_processing"
	BudgetFileDownload     = "file_download"
)

// Window is one fixed rolling window inside a budget: at most Limit
// units per Span. The counter resets atomically when the window expires;
// a burst across a window boundary is possible and accepted.
type Window struct {
	Span  time.Duration
	Limit int
}

// Budget is a named set of windows that must all hold for an operation
// to be allowed.
type Budget struct {
	Name    string
	Windows []Window
}

// DefaultBudgets returns the budgets the engine consumes:
// course processing at 100/hour, file downloads at 500/hour and
// 2000/24h.
func DefaultBudgets() []Budget {
	return []Budget{
		{
			Name:    BudgetCourseProcessing,
			Windows: []Window{{Span: time.Hour, Limit: 100}},
		},
		{
			Name: BudgetFileDownload,
			Windows: []Window{
				{Span: time.Hour, Limit: 500},
				{Span: 24 * time.Hour, Limit: 2000},
			},
		},
	}
}

// windowState is one client's counter for one window.
type windowState struct {
	count     int
	expiresAt time.Time
}

// clientBudget holds one client's counters for one budget. Each
// client-budget pair has its own mutex so concurrent jobs for the same
// client serialize increments without contending across clients.
type clientBudget struct {
	mu      sync.Mutex
	windows []windowState
}

// Limiter tracks fixed-window operation counts per client identity.
// Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	budgets map[string][]Window
	clients map[string]*clientBudget // keyed by clientID + "\x00" + budget
	now     func() time.Time
}

// New creates a limiter with the given budgets.
func New(budgets []Budget) *Limiter {
	byName := make(map[string][]Window, len(budgets))
	for _, b := range budgets {
		byName[b.Name] = b.Windows
	}
	return &Limiter{
		budgets: byName,
		clients: make(map[string]*clientBudget),
		now:     time.Now,
	}
}

// TryConsume attempts to debit amount units from the named budget for
// clientID. It never blocks. When any window would be exceeded the call
// is denied and nothing is consumed; remaining reports the smallest
// headroom across the budget's windows after the call.
func (l *Limiter) TryConsume(clientID, budget string, amount int) (allowed bool, remaining int) {
	windows, ok := l.budgets[budget]
	if !ok || amount < 0 {
		return false, 0
	}

	cb := l.client(clientID, budget, len(windows))

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := l.now()

	// Expired windows reset before the check so a stale counter never
	// denies a fresh window.
	for i := range cb.windows {
		if !cb.windows[i].expiresAt.After(now) {
			cb.windows[i].count = 0
			cb.windows[i].expiresAt = now.Add(windows[i].Span)
		}
	}

	allowed = true
	for i := range cb.windows {
		if cb.windows[i].count+amount > windows[i].Limit {
			allowed = false
		}
	}

	if allowed {
		for i := range cb.windows {
			cb.windows[i].count += amount
		}
	}

	remaining = -1
	for i := range cb.windows {
		if headroom := windows[i].Limit - cb.windows[i].count; remaining < 0 || headroom < remaining {
			remaining = headroom
		}
	}
	if remaining < 0 {
		remaining = 0
	}

	return allowed, remaining
}

// client returns the counter state for a client-budget pair, creating
// it on first use.
func (l *Limiter) client(clientID, budget string, windowCount int) *clientBudget {
	key := clientID + "\x00" + budget

	l.mu.Lock()
	defer l.mu.Unlock()

	cb, ok := l.clients[key]
	if !ok {
		cb = &clientBudget{windows: make([]windowState, windowCount)}
		l.clients[key] = cb
	}
	return cb
}
