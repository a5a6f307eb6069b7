// Package policy runs unattended resolution jobs over the review queue
package policy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// AutoMergeActor is recorded as the decision maker for policy merges
const AutoMergeActor = "auto-merge"

// Merger resolves a pair; satisfied by the merge engine
type Merger interface {
	Merge(ctx context.Context, pairID string, req models.MergeRequest, actor string) (*models.MergeDecision, error)
}

// CandidateSource lists pairs eligible for unattended merging
type CandidateSource interface {
	ListOpenByMinConfidence(ctx context.Context, minConfidence, limit int) ([]models.DuplicatePair, error)
}

// Config tunes the auto-merge policy
type Config struct {
	Enabled       bool
	MinConfidence int
	Interval      time.Duration
	BatchLimit    int
}

// AutoMerger merges very-high-confidence pending pairs on a schedule with
// the keep-primary strategy. Everything below the floor stays in the
// queue for a human.
type AutoMerger struct {
	logger ectologger.Logger
	pairs  CandidateSource
	merger Merger
	config Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAutoMerger creates the policy job
func NewAutoMerger(logger ectologger.Logger, pairs CandidateSource, merger Merger, config Config) *AutoMerger {
	if config.BatchLimit <= 0 {
		config.BatchLimit = 100
	}
	return &AutoMerger{
		logger: logger,
		pairs:  pairs,
		merger: merger,
		config: config,
	}
}

// Start launches the background loop. No-op when disabled.
func (a *AutoMerger) Start(ctx context.Context) {
	if !a.config.Enabled || a.config.Interval <= 0 {
		a.logger.Info("Auto-merge policy disabled")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := a.RunOnce(ctx); err != nil {
					a.logger.WithContext(ctx).WithError(err).Error("Auto-merge pass failed")
				}
			}
		}
	}()

	a.logger.WithFields(map[string]any{
		"min_confidence": a.config.MinConfidence,
		"interval":       a.config.Interval,
	}).Info("Auto-merge policy started")
}

// Stop halts the background loop and waits for an in-flight pass
func (a *AutoMerger) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// RunOnce merges all currently eligible pairs and returns how many merged
func (a *AutoMerger) RunOnce(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "policy.AutoMerger.RunOnce")
	defer span.End()

	candidates, err := a.pairs.ListOpenByMinConfidence(ctx, a.config.MinConfidence, a.config.BatchLimit)
	if err != nil {
		return 0, err
	}

	merged := 0
	for _, pair := range candidates {
		// The floor is config but the bucket is not: anything outside the
		// high bucket always needs human review
		if pair.RiskLevel != models.RiskHigh {
			continue
		}

		_, err := a.merger.Merge(ctx, pair.ID, models.MergeRequest{
			Strategy: models.MergeStrategyKeepPrimary,
		}, AutoMergeActor)
		if err != nil {
			// A competing merge may have absorbed one side already
			if errors.Is(err, models.ErrAlreadyMerged) || errors.Is(err, models.ErrInvalidState) {
				continue
			}
			a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"pair_id": pair.ID,
			}).Error("Auto-merge failed for pair")
			continue
		}
		merged++
	}

	if merged > 0 {
		a.logger.WithContext(ctx).WithFields(map[string]any{"merged": merged}).Info("Auto-merge pass complete")
	}

	return merged, nil
}
