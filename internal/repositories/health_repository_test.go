package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/storefront/internal/domain"
)

func healthy(context.Context) error { return nil }

func TestDependencyHealthStatusFollowsCriticality(t *testing.T) {
	refused := func(context.Context) error { return errors.New("dial tcp 10.0.0.5:5432: connection refused") }

	cases := []struct {
		name   string
		checks []DependencyCheck
		want   domain.HealthStatus
	}{
		{
			name:   "all healthy",
			checks: []DependencyCheck{{Name: "database", Critical: true, Check: healthy}, {Name: "audit", Check: healthy}},
			want:   domain.HealthStatusOK,
		},
		{
			name:   "best-effort sink down",
			checks: []DependencyCheck{{Name: "database", Critical: true, Check: healthy}, {Name: "audit", Check: refused}},
			want:   domain.HealthStatusDegraded,
		},
		{
			name:   "order store down",
			checks: []DependencyCheck{{Name: "database", Critical: true, Check: refused}, {Name: "audit", Check: healthy}},
			want:   domain.HealthStatusError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, err := NewDependencyHealthRepository(tc.checks)
			require.NoError(t, err)

			report, err := repo.Collect(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.want, report.Status)
			assert.Len(t, report.Checks, len(tc.checks))
		})
	}
}

func TestDependencyHealthTimeout(t *testing.T) {
	now := time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "notifications", Timeout: 5 * time.Millisecond, Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	}, WithDependencyClock(func() time.Time { return now }))
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)

	got := report.Checks["notifications"]
	assert.Equal(t, domain.HealthStatusDegraded, got.Status)
	assert.Equal(t, "timeout after 5ms", got.Detail)
	assert.Equal(t, now, got.CheckedAt)
	assert.Equal(t, now, report.GeneratedAt)
}

func TestNewDependencyHealthRepositoryValidation(t *testing.T) {
	for name, checks := range map[string][]DependencyCheck{
		"empty":     nil,
		"unnamed":   {{Name: " ", Check: healthy}},
		"no check":  {{Name: "database"}},
		"duplicate": {{Name: "database", Check: healthy}, {Name: "database", Check: healthy}},
	} {
		_, err := NewDependencyHealthRepository(checks)
		assert.Error(t, err, name)
	}
}

func TestWorstStatus(t *testing.T) {
	assert.Equal(t, domain.HealthStatusOK, WorstStatus(nil))
	assert.Equal(t, domain.HealthStatusError, WorstStatus(map[string]domain.SystemHealthCheck{
		"a": {Status: domain.HealthStatusDegraded},
		"b": {Status: domain.HealthStatusError},
		"c": {Status: "unknown"},
	}))
}
