package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/attarhouse/storefront/internal/domain"
)

type stubHealthRepository struct {
	report domain.HealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(context.Context) (domain.HealthReport, error) {
	s.calls++
	return s.report, s.err
}

func TestSystemServiceHealthReportEnrichesMetadata(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	repo := &stubHealthRepository{
		report: domain.HealthReport{
			Dependencies: map[string]domain.DependencyHealth{
				"firestore": {Status: domain.HealthStatusOK},
				"redis":     {Status: domain.HealthStatusDegraded},
			},
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{
		Health: repo,
		Clock:  func() time.Time { return now },
		Build: BuildInfo{
			Version:     "1.2.3",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   start,
		},
	})
	require.NoError(t, err)

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.2.3", report.Version)
	require.Equal(t, "abc123", report.CommitSHA)
	require.Equal(t, "prod", report.Environment)
	require.Equal(t, 5*time.Minute, report.Uptime)
	require.Equal(t, domain.HealthStatusDegraded, report.Status)
	require.True(t, report.GeneratedAt.Equal(now), "generated at %s", report.GeneratedAt)
}

func TestSystemServiceHealthReportKeepsRepositoryValues(t *testing.T) {
	repo := &stubHealthRepository{
		report: domain.HealthReport{Status: domain.HealthStatusError, Version: "from-repo"},
	}
	svc, err := NewSystemService(SystemServiceDeps{Health: repo, Build: BuildInfo{Version: "build"}})
	require.NoError(t, err)
	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)
	require.Equal(t, "from-repo", report.Version)
	require.Equal(t, domain.HealthStatusError, report.Status)
	require.NotNil(t, report.Dependencies)
}

func TestSystemServiceHealthReportPropagatesError(t *testing.T) {
	repo := &stubHealthRepository{err: errors.New("boom")}
	svc, err := NewSystemService(SystemServiceDeps{Health: repo})
	require.NoError(t, err)
	_, err = svc.HealthReport(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, repo.calls)
}

func TestNewSystemServiceRequiresHealthRepository(t *testing.T) {
	_, err := NewSystemService(SystemServiceDeps{})
	require.Error(t, err)
}
