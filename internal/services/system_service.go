package services

import (
	"cmp"
	"context"
	"errors"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

// BuildInfo identifies the running binary on the health probes.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemService reports process and dependency health.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	probes repositories.HealthRepository
	now    func() time.Time
	build  BuildInfo
}

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		probes: deps.HealthRepository,
		now:    func() time.Time { return clock().UTC() },
		build:  deps.Build,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

// HealthReport stamps the probe results with build metadata and process uptime.
func (s *systemService) HealthReport(ctx context.Context) (domain.SystemHealthReport, error) {
	report, err := s.probes.Collect(ctx)
	if err != nil {
		return domain.SystemHealthReport{}, err
	}

	now := s.now()
	report.GeneratedAt = cmp.Or(report.GeneratedAt, now).UTC()
	report.Version = cmp.Or(report.Version, s.build.Version)
	report.CommitSHA = cmp.Or(report.CommitSHA, s.build.CommitSHA)
	report.Environment = cmp.Or(report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if report.Status == "" {
		report.Status = repositories.WorstStatus(report.Checks)
	}
	return report, nil
}
