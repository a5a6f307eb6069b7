// Package events handles event emission for duplicate detection lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter publishes dedup lifecycle events for downstream consumers
// (CRM sync, analytics). Emission failures are logged, never fatal.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitPairDetected emits an event when a scan surfaces a new duplicate pair
func (e *Emitter) EmitPairDetected(ctx context.Context, pair *models.DuplicatePair) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitPairDetected")
	defer span.End()

	data, _ := json.Marshal(map[string]any{
		"schema_version":   SchemaVersion,
		"per_field_scores": pair.PerFieldScores,
		"matched_fields":   pair.MatchedFields,
	})

	event := &kafka.DedupEvent{
		EventType:   "pair.detected",
		PairID:      pair.ID,
		PrimaryID:   pair.PrimaryID,
		DuplicateID: pair.DuplicateID,
		Confidence:  pair.Confidence,
		RiskLevel:   string(pair.RiskLevel),
		Data:        data,
	}

	if err := e.producer.PublishDedupEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit pair.detected event")
		return err
	}

	return nil
}

// EmitLeadMerged emits an event after a pair is merged into a canonical lead
func (e *Emitter) EmitLeadMerged(ctx context.Context, pair *models.DuplicatePair, decision *models.MergeDecision, result *models.LeadRecord) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitLeadMerged")
	defer span.End()

	data, _ := json.Marshal(map[string]any{
		"schema_version": SchemaVersion,
		"strategy":       decision.Strategy,
		"result":         result,
	})

	event := &kafka.DedupEvent{
		EventType:   "lead.merged",
		PairID:      pair.ID,
		LeadID:      result.ID,
		PrimaryID:   pair.PrimaryID,
		DuplicateID: pair.DuplicateID,
		Confidence:  pair.Confidence,
		RiskLevel:   string(pair.RiskLevel),
		Actor:       decision.PerformedBy,
		Data:        data,
	}

	if err := e.producer.PublishDedupEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit lead.merged event")
		return err
	}

	return nil
}

// EmitPairIgnored emits an event when a reviewer dismisses a pair
func (e *Emitter) EmitPairIgnored(ctx context.Context, pair *models.DuplicatePair, actor string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitPairIgnored")
	defer span.End()

	event := &kafka.DedupEvent{
		EventType:   "pair.ignored",
		PairID:      pair.ID,
		PrimaryID:   pair.PrimaryID,
		DuplicateID: pair.DuplicateID,
		Confidence:  pair.Confidence,
		RiskLevel:   string(pair.RiskLevel),
		Actor:       actor,
	}

	if err := e.producer.PublishDedupEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit pair.ignored event")
		return err
	}

	return nil
}

// EmitLeadIngested emits an event after a lead is created or updated from
// the marketing feed
func (e *Emitter) EmitLeadIngested(ctx context.Context, lead *models.LeadRecord, created bool) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitLeadIngested")
	defer span.End()

	eventType := "lead.updated"
	if created {
		eventType = "lead.ingested"
	}

	data, _ := json.Marshal(map[string]any{
		"schema_version": SchemaVersion,
		"source_channel": lead.SourceChannel,
		"fingerprint":    lead.Fingerprint,
	})

	event := &kafka.DedupEvent{
		EventType: eventType,
		LeadID:    lead.ID,
		Data:      data,
	}

	if err := e.producer.PublishDedupEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit lead event")
		return err
	}

	return nil
}
