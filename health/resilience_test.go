package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/meshguard/resilience"
)

func TestBreakerChecker(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "payments",
		FailureThreshold: 1,
		ResetTimeout:     50 * time.Millisecond,
	})
	defer cb.Destroy()

	checker := BreakerChecker("payments-breaker", cb)

	result := checker.Check(context.Background())
	if result.Status != StatusHealthy {
		t.Errorf("closed breaker status = %v, want healthy", result.Status)
	}

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})
	result = checker.Check(context.Background())
	if result.Status != StatusUnhealthy {
		t.Errorf("open breaker status = %v, want unhealthy", result.Status)
	}
	if !errors.Is(result.Error, resilience.ErrCircuitOpen) {
		t.Errorf("open breaker error = %v, want ErrCircuitOpen", result.Error)
	}
	if result.Details["state"] != "open" {
		t.Errorf("state detail = %v, want open", result.Details["state"])
	}
}

func TestBulkheadChecker(t *testing.T) {
	b := resilience.NewBulkhead(resilience.BulkheadConfig{
		Name:          "workers",
		MaxConcurrent: 1,
		MaxQueueSize:  1,
	})
	defer b.Destroy()

	checker := BulkheadChecker("workers-bulkhead", b)

	if result := checker.Check(context.Background()); result.Status != StatusHealthy {
		t.Errorf("idle bulkhead status = %v, want healthy", result.Status)
	}

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if result := checker.Check(context.Background()); result.Status != StatusDegraded {
		t.Errorf("saturated bulkhead status = %v, want degraded", result.Status)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(context.Background(), func(ctx context.Context) error {
			return nil
		})
	}()
	for b.Status().Queued < 1 {
		time.Sleep(time.Millisecond)
	}

	if result := checker.Check(context.Background()); result.Status != StatusUnhealthy {
		t.Errorf("full-queue bulkhead status = %v, want unhealthy", result.Status)
	}

	close(release)
	wg.Wait()
}

func TestRecoveryChecker(t *testing.T) {
	r := resilience.NewAutoRecovery(resilience.AutoRecoveryConfig{
		Name:             "search",
		MaxRetries:       1,
		InitialDelay:     time.Millisecond,
		FailureThreshold: 1,
	})
	defer r.Destroy()

	checker := RecoveryChecker("search-recovery", r)

	if result := checker.Check(context.Background()); result.Status != StatusHealthy {
		t.Errorf("healthy recovery status = %v, want healthy", result.Status)
	}

	_ = r.ExecuteWithRecovery(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})

	// Failed at the threshold, then the async pass parks it in degraded;
	// either way it is no longer healthy.
	if result := checker.Check(context.Background()); result.Status == StatusHealthy {
		t.Error("failing recovery still reports healthy")
	}
}

func TestProbe(t *testing.T) {
	probe := Probe(NewCheckerFunc("db", func(ctx context.Context) Result {
		return Degraded("slow but alive")
	}))
	if err := probe(context.Background()); err != nil {
		t.Errorf("degraded probe error = %v, want nil", err)
	}

	boom := errors.New("boom")
	probe = Probe(NewCheckerFunc("db", func(ctx context.Context) Result {
		return Unhealthy("down", boom)
	}))
	if err := probe(context.Background()); !errors.Is(err, boom) {
		t.Errorf("unhealthy probe error = %v, want %v", err, boom)
	}

	probe = Probe(NewCheckerFunc("db", func(ctx context.Context) Result {
		return Result{Status: StatusUnhealthy, Message: "no route"}
	}))
	err := probe(context.Background())
	if err == nil || err.Error() != "db: no route" {
		t.Errorf("unhealthy probe error = %v, want db: no route", err)
	}
}
