package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type countingProcessor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *countingProcessor) ProcessDue(context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return 0, p.err
}

func (p *countingProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestNewSweeperRequiresProcessor(t *testing.T) {
	t.Parallel()

	if _, err := NewSweeper(nil, time.Second, zap.NewNop()); err == nil {
		t.Fatal("NewSweeper(nil) error = nil, want error")
	}
}

func TestSweeperRunsInitialSweepAndTicks(t *testing.T) {
	t.Parallel()

	processor := &countingProcessor{}
	sweeper, err := NewSweeper(processor, 10*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSweeper() unexpected error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Start(ctx) }()

	deadline := time.After(2 * time.Second)
	for processor.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("sweeper ran %d sweeps, want at least 3", processor.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start() returned error = %v, want nil after cancel", err)
	}
}

func TestSweeperKeepsRunningAfterSweepError(t *testing.T) {
	t.Parallel()

	processor := &countingProcessor{err: errors.New("backend down")}
	sweeper, err := NewSweeper(processor, 10*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSweeper() unexpected error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Start(ctx) }()

	deadline := time.After(2 * time.Second)
	for processor.callCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("sweeper stopped after error, got %d sweeps", processor.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
