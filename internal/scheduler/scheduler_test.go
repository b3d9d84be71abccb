package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...ports.Field)  {}
func (nopLogger) Error(string, ...ports.Field) {}
func (nopLogger) Warn(string, ...ports.Field)  {}
func (nopLogger) Debug(string, ...ports.Field) {}

type nopLock struct{}

func (nopLock) Release(context.Context) error { return nil }

type mockLocker struct {
	held     bool
	acquired []string
}

func (m *mockLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (ports.Lock, error) {
	if m.held {
		return nil, domain.ErrLockNotAcquired
	}
	m.acquired = append(m.acquired, key)
	return nopLock{}, nil
}

type mockHealth struct {
	runs []*ports.JobRunRecord
}

func (m *mockHealth) RecordRun(ctx context.Context, rec *ports.JobRunRecord) error {
	m.runs = append(m.runs, rec)
	return nil
}

func (m *mockHealth) LastRuns(ctx context.Context, names []string) (map[string]*ports.JobRunRecord, error) {
	out := map[string]*ports.JobRunRecord{}
	for _, r := range m.runs {
		out[r.Name] = r
	}
	return out, nil
}

func TestRunJobUnderLease(t *testing.T) {
	locker := &mockLocker{}
	health := &mockHealth{}
	ran := 0
	runner := NewRunner(locker, health, nopLogger{}, false, []Job{{
		Name:     "billing",
		Interval: time.Minute,
		Run: func(ctx context.Context) error {
			ran++
			return nil
		},
	}})

	job, ok := runner.Find("billing")
	require.True(t, ok)
	runner.RunJob(context.Background(), job)

	assert.Equal(t, 1, ran)
	assert.Equal(t, []string{ports.JobLockKey("billing")}, locker.acquired)
	require.Len(t, health.runs, 1)
	assert.True(t, health.runs[0].Success)
}

func TestRunJobSkipsWhenLeaseHeld(t *testing.T) {
	locker := &mockLocker{held: true}
	ran := 0
	runner := NewRunner(locker, &mockHealth{}, nopLogger{}, false, []Job{{
		Name:     "billing",
		Interval: time.Minute,
		Run: func(ctx context.Context) error {
			ran++
			return nil
		},
	}})

	job, _ := runner.Find("billing")
	runner.RunJob(context.Background(), job)
	assert.Zero(t, ran, "held lease means another instance owns this run")
}

func TestRunJobNoLeaseMode(t *testing.T) {
	locker := &mockLocker{held: true}
	health := &mockHealth{}
	runner := NewRunner(locker, health, nopLogger{}, true, []Job{{
		Name:     "billing",
		Interval: time.Minute,
		Run:      func(ctx context.Context) error { return domain.ErrDatabaseError },
	}})

	job, _ := runner.Find("billing")
	runner.RunJob(context.Background(), job)

	assert.Empty(t, locker.acquired, "lease skipped entirely")
	require.Len(t, health.runs, 1)
	assert.False(t, health.runs[0].Success, "failed runs land in health too")
}

func TestJobNamesPreserveOrder(t *testing.T) {
	runner := NewRunner(&mockLocker{}, &mockHealth{}, nopLogger{}, true, []Job{
		{Name: "billing"}, {Name: "dunning"}, {Name: "payouts"},
	})
	assert.Equal(t, []string{"billing", "dunning", "payouts"}, runner.JobNames())

	_, ok := runner.Find("nope")
	assert.False(t, ok)
}

func TestRenewalRef(t *testing.T) {
	periodEnd := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

	assert.Equal(t, "renewal_sub-1_2026-04-01", renewalRef("sub-1", periodEnd, 0))
	assert.Equal(t, "renewal_sub-1_2026-04-01_r3", renewalRef("sub-1", periodEnd, 3))

	// same period, different retry day: distinct charge references
	assert.NotEqual(t, renewalRef("sub-1", periodEnd, 1), renewalRef("sub-1", periodEnd, 3))
}

func TestSameDay(t *testing.T) {
	a := time.Date(2026, 4, 1, 0, 5, 0, 0, time.UTC)
	b := time.Date(2026, 4, 1, 23, 59, 0, 0, time.UTC)
	assert.True(t, sameDay(a, b))
	assert.False(t, sameDay(a, b.AddDate(0, 0, 1)))
}

func TestCreatorHasProvider(t *testing.T) {
	acct, sub := "acct_1", "SUB_1"
	c := &domain.Creator{StripeAccountID: &acct}
	assert.True(t, creatorHasProvider(c, domain.ProviderStripe))
	assert.False(t, creatorHasProvider(c, domain.ProviderPaystack))

	c.PaystackSubaccountCode = &sub
	assert.True(t, creatorHasProvider(c, domain.ProviderPaystack))
	assert.False(t, creatorHasProvider(c, domain.Provider("unknown")))
}
