package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chrisgavin/trailbot/internal/camera"
	"github.com/chrisgavin/trailbot/internal/fault"
)

// Runner runs one camera sync; satisfied by *Orchestrator.
type Runner interface {
	Run(ctx context.Context, rec camera.Record) Result
}

// Outcome classifies one camera's result within a scheduler pass.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Summary aggregates one pass over the fleet.
type Summary struct {
	Results   []Result
	Succeeded int
	Skipped   int
	Failed    int
}

// ExitCode is 0 only when no camera ended in error. Skipped cameras are
// out of radio range, not failures.
func (s *Summary) ExitCode() int {
	if s.Failed > 0 {
		return 1
	}
	return 0
}

// Render writes a per-camera report.
func (s *Summary) Render() string {
	var sb strings.Builder
	for _, res := range s.Results {
		switch classifyOutcome(res) {
		case OutcomeSucceeded:
			fmt.Fprintf(&sb, "%s: ok, %d new file(s) in %s\n",
				res.Label, res.Downloaded, res.Duration.Round(time.Millisecond))
		case OutcomeSkipped:
			fmt.Fprintf(&sb, "%s: skipped (not in range)\n", res.Label)
		case OutcomeFailed:
			fmt.Fprintf(&sb, "%s: FAILED (%s) after %d file(s): %v\n",
				res.Label, res.Kind, res.Downloaded, res.Err)
		}
	}
	fmt.Fprintf(&sb, "%d succeeded, %d skipped, %d failed\n",
		s.Succeeded, s.Skipped, s.Failed)
	return sb.String()
}

func classifyOutcome(res Result) Outcome {
	switch {
	case res.State == StateDone:
		return OutcomeSucceeded
	case res.Kind == fault.KindNotFound:
		// Out of range this pass; the next pass will try again.
		return OutcomeSkipped
	default:
		return OutcomeFailed
	}
}

// Scheduler iterates the known cameras and runs orchestrations with
// bounded concurrency.
type Scheduler struct {
	runner   Runner
	registry *camera.Registry
	logger   *zap.Logger
}

// NewScheduler wires a scheduler. registry may be nil in tests; then no
// timestamps are persisted.
func NewScheduler(runner Runner, registry *camera.Registry, logger *zap.Logger) *Scheduler {
	return &Scheduler{runner: runner, registry: registry, logger: logger}
}

// RunAll syncs every record with at most limit orchestrations in flight.
// The default limit of 1 reflects hosts whose BLE and WiFi share an
// antenna; raise it only on hardware known to support concurrent
// sessions. Per-camera timestamps are updated and persisted: LastSeen on
// any contact, LastSuccessfulSync only when the run reaches Done.
func (s *Scheduler) RunAll(ctx context.Context, records []camera.Record, limit int) Summary {
	if limit <= 0 {
		limit = 1
	}

	// One active run per camera identity; duplicate records collapse.
	unique := make([]camera.Record, 0, len(records))
	seen := make(map[string]bool)
	for _, rec := range records {
		key := strings.ToUpper(rec.Identity)
		if seen[key] {
			s.logger.Warn("duplicate camera record ignored", zap.String("camera", rec.Identity))
			continue
		}
		seen[key] = true
		unique = append(unique, rec)
	}

	results := make([]Result, len(unique))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, rec := range unique {
		wg.Add(1)
		go func(i int, rec camera.Record) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.runner.Run(ctx, rec)
		}(i, rec)
	}
	wg.Wait()

	summary := Summary{Results: results}
	now := time.Now()
	for i, res := range results {
		switch classifyOutcome(res) {
		case OutcomeSucceeded:
			summary.Succeeded++
			unique[i].LastSeen = now
			unique[i].LastSuccessfulSync = now
		case OutcomeSkipped:
			summary.Skipped++
		case OutcomeFailed:
			summary.Failed++
			// The camera answered over at least one radio before failing.
			unique[i].LastSeen = now
		}
		if s.registry != nil {
			s.registry.Put(unique[i])
		}
	}
	if s.registry != nil {
		if err := s.registry.Save(); err != nil {
			s.logger.Warn("persisting camera registry failed", zap.Error(err))
		}
	}

	s.logger.Info("sync pass complete",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
	return summary
}
