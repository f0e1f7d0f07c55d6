package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/hanko-field/storefront/internal/domain"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// HealthRepository probes downstream dependencies for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// DependencyCheck is one readiness probe. A failing Critical dependency (the order store)
// makes the whole report an error; anything else only degrades it, since the audit sink and
// notification transport are best-effort.
type DependencyCheck struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(context.Context) error
}

// DependencyHealthOption customises the dependency-backed health repository.
type DependencyHealthOption func(*dependencyProber)

// WithDependencyTimeout sets the timeout used by checks without their own.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(p *dependencyProber) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(p *dependencyProber) {
		if clock != nil {
			p.now = clock
		}
	}
}

type dependencyProber struct {
	checks  []DependencyCheck
	timeout time.Duration
	now     func() time.Time
}

// NewDependencyHealthRepository rejects empty, unnamed, duplicate or nil checks.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: no dependency checks configured")
	}
	names := make(map[string]struct{}, len(checks))
	for i, check := range checks {
		name := strings.TrimSpace(check.Name)
		switch {
		case name == "":
			return nil, fmt.Errorf("health repository: check %d has no name", i)
		case check.Check == nil:
			return nil, fmt.Errorf("health repository: check %q has no probe", name)
		}
		if _, dup := names[name]; dup {
			return nil, fmt.Errorf("health repository: duplicate check %q", name)
		}
		names[name] = struct{}{}
	}

	p := &dependencyProber{
		checks:  append([]DependencyCheck(nil), checks...),
		timeout: defaultDependencyTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Collect runs every probe concurrently and never fails itself; probe failures are reported
// per check.
func (p *dependencyProber) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	results := make([]domain.SystemHealthCheck, len(p.checks))
	var group errgroup.Group
	for i, check := range p.checks {
		group.Go(func() error {
			results[i] = p.run(ctx, check)
			return nil
		})
	}
	_ = group.Wait()

	report := domain.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.SystemHealthCheck, len(results)),
		GeneratedAt: p.now(),
	}
	for i, result := range results {
		report.Checks[strings.TrimSpace(p.checks[i].Name)] = result
		report.Status = worseStatus(report.Status, result.Status)
	}
	return report, nil
}

func (p *dependencyProber) run(ctx context.Context, check DependencyCheck) domain.SystemHealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := p.now()
	err := check.Check(probeCtx)
	finished := p.now()

	result := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	if err == nil {
		return result
	}

	result.Status = domain.HealthStatusDegraded
	if check.Critical {
		result.Status = domain.HealthStatusError
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result.Detail = "timeout after " + timeout.String()
	case errors.Is(err, context.Canceled):
		result.Detail = "cancelled"
	default:
		result.Detail = err.Error()
	}
	return result
}

// worseStatus orders ok < degraded < error; unknown values count as degraded.
func worseStatus(a, b domain.HealthStatus) domain.HealthStatus {
	rank := func(s domain.HealthStatus) int {
		switch s {
		case domain.HealthStatusOK, "":
			return 0
		case domain.HealthStatusError:
			return 2
		default:
			return 1
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// WorstStatus folds a set of check results into a single status.
func WorstStatus(checks map[string]domain.SystemHealthCheck) domain.HealthStatus {
	status := domain.HealthStatusOK
	for _, check := range checks {
		status = worseStatus(status, check.Status)
	}
	return status
}
