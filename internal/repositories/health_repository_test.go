package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
)

func TestDependencyHealthRepositoryCollectSuccess(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository("v1.2.0", func() time.Time { return now },
		DependencyCheck{Name: "firestore", Check: func(ctx context.Context) error {
			select {
			case <-time.After(5 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
		DependencyCheck{Name: "storage", Check: func(context.Context) error { return nil }},
	)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", report.Status)
	}
	if len(report.Dependencies) != 2 {
		t.Fatalf("expected 2 dependencies, got %d", len(report.Dependencies))
	}
	for name, dep := range report.Dependencies {
		if dep.Status != domain.HealthStatusOK || !dep.CheckedAt.Equal(now) {
			t.Fatalf("unexpected result for %s: %+v", name, dep)
		}
	}
	if report.Version != "v1.2.0" || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected report metadata: %+v", report)
	}
}

func TestDependencyHealthRepositoryCollectFailure(t *testing.T) {
	repo, err := NewDependencyHealthRepository("", nil,
		DependencyCheck{Name: "firestore", Check: func(context.Context) error { return errors.New("boom") }},
		DependencyCheck{Name: "pubsub", Check: func(context.Context) error { return nil }},
	)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if dep := report.Dependencies["firestore"]; dep.Detail != "boom" {
		t.Fatalf("expected failure detail, got %+v", dep)
	}
	if dep := report.Dependencies["pubsub"]; dep.Status != domain.HealthStatusOK {
		t.Fatalf("expected pubsub ok, got %+v", dep)
	}
}

func TestDependencyHealthRepositoryTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository("", nil, DependencyCheck{
		Name:    "redis",
		Timeout: 10 * time.Millisecond,
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
	if report.Dependencies["redis"].Detail != "timeout" {
		t.Fatalf("expected timeout detail, got %+v", report.Dependencies["redis"])
	}
}

func TestDependencyHealthRepositoryRequiresChecks(t *testing.T) {
	if _, err := NewDependencyHealthRepository("", nil); err == nil {
		t.Fatalf("expected error without checks")
	}
	if _, err := NewDependencyHealthRepository("", nil, DependencyCheck{Name: "x"}); err == nil {
		t.Fatalf("expected error for nil check function")
	}
}
