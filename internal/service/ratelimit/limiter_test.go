package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// testClock is a manually advanced clock for window expiry tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(clock *testClock, budgets []Budget) *Limiter {
	l := New(budgets)
	l.now = clock.Now
	return l
}

func TestLimiter_TryConsume(t *testing.T) {
	tests := []struct {
		name   string
		budget string
		calls  []int // amounts, consumed in order
		want   []bool
	}{
		{
			name:   "single call within budget",
			budget: BudgetCourseProcessing,
			calls:  []int{1},
			want:   []bool{true},
		},
		{
			name:   "budget boundary is inclusive",
			budget: BudgetCourseProcessing,
			calls:  []int{99, 1},
			want:   []bool{true, true},
		},
		{
			name:   "call past the limit denied",
			budget: BudgetCourseProcessing,
			calls:  []int{100, 1},
			want:   []bool{true, false},
		},
		{
			name:   "unknown budget always denied",
			budget: "no_such_budget",
			calls:  []int{1},
			want:   []bool{false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLimiter(newTestClock(), DefaultBudgets())

			for i, amount := range tt.calls {
				allowed, _ := l.TryConsume("client-a", tt.budget, amount)
				if allowed != tt.want[i] {
					t.Errorf("call %d: TryConsume(%d) = %v, want %v", i, amount, allowed, tt.want[i])
				}
			}
		})
	}
}

func TestLimiter_NoPartialDebit(t *testing.T) {
	clock := newTestClock()
	l := newTestLimiter(clock, DefaultBudgets())

	// Bring the hourly file counter to 498.
	if allowed, _ := l.TryConsume("client-a", BudgetFileDownload, 498); !allowed {
		t.Fatal("priming consume denied")
	}

	// 498 + 3 would cross the 500 hourly limit: denied, nothing debited.
	allowed, remaining := l.TryConsume("client-a", BudgetFileDownload, 3)
	if allowed {
		t.Fatal("TryConsume(3) at 498/500 allowed, want denied")
	}
	if remaining != 2 {
		t.Errorf("remaining after denial = %d, want 2 (counter must stay at 498)", remaining)
	}

	// After the hour boundary the same call succeeds.
	clock.Advance(time.Hour + time.Second)
	if allowed, _ := l.TryConsume("client-a", BudgetFileDownload, 3); !allowed {
		t.Error("TryConsume(3) after window reset denied, want allowed")
	}
}

func TestLimiter_BothWindowsMustHold(t *testing.T) {
	clock := newTestClock()
	l := newTestLimiter(clock, []Budget{
		{
			Name: BudgetFileDownload,
			Windows: []Window{
				{Span: time.Hour, Limit: 500},
				{Span: 24 * time.Hour, Limit: 600},
			},
		},
	})

	// Exhaust most of the daily window across two hourly windows.
	if allowed, _ := l.TryConsume("c", BudgetFileDownload, 500); !allowed {
		t.Fatal("first hour consume denied")
	}
	clock.Advance(time.Hour + time.Second)

	// Hourly window reset, but the daily window has only 100 left.
	allowed, remaining := l.TryConsume("c", BudgetFileDownload, 200)
	if allowed {
		t.Fatal("consume exceeding daily window allowed")
	}
	if remaining != 100 {
		t.Errorf("remaining = %d, want 100 (daily window headroom)", remaining)
	}

	if allowed, _ := l.TryConsume("c", BudgetFileDownload, 100); !allowed {
		t.Error("consume within both windows denied")
	}
}

func TestLimiter_ClientsIndependent(t *testing.T) {
	l := newTestLimiter(newTestClock(), DefaultBudgets())

	if allowed, _ := l.TryConsume("client-a", BudgetCourseProcessing, 100); !allowed {
		t.Fatal("client-a consume denied")
	}
	if allowed, _ := l.TryConsume("client-a", BudgetCourseProcessing, 1); allowed {
		t.Fatal("client-a over budget but allowed")
	}

	// A different client has an untouched budget.
	if allowed, _ := l.TryConsume("client-b", BudgetCourseProcessing, 1); !allowed {
		t.Error("client-b consume denied, want allowed")
	}
}

func TestLimiter_ConcurrentConsume(t *testing.T) {
	l := newTestLimiter(newTestClock(), []Budget{
		{Name: "b", Windows: []Window{{Span: time.Hour, Limit: 1000}}},
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if ok, _ := l.TryConsume("c", "b", 1); ok {
					mu.Lock()
					allowedCount++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// 2000 attempts against a 1000 budget: exactly 1000 succeed if
	// increments never race.
	if allowedCount != 1000 {
		t.Errorf("allowed = %d, want exactly 1000", allowedCount)
	}
}
