// Package processor handles incoming lead messages from the marketing
// site feed. It writes lead records; duplicate detection runs separately
// against the stored set.
package processor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// LeadStore persists ingested lead records
type LeadStore interface {
	Get(ctx context.Context, id string) (*models.LeadRecord, error)
	Create(ctx context.Context, lead *models.LeadRecord) (*models.LeadRecord, error)
	Update(ctx context.Context, lead *models.LeadRecord) (*models.LeadRecord, error)
}

// IngestEmitter publishes lead lifecycle events
type IngestEmitter interface {
	EmitLeadIngested(ctx context.Context, lead *models.LeadRecord, created bool) error
}

// Processor handles message processing for lead ingestion
type Processor struct {
	logger   ectologger.Logger
	leadRepo LeadStore
	emitter  IngestEmitter
	validate *validator.Validate
}

// NewProcessor creates a new message processor for ingestion. The emitter
// may be nil.
func NewProcessor(logger ectologger.Logger, leadRepo LeadStore, emitter IngestEmitter) *Processor {
	return &Processor{
		logger:   logger,
		leadRepo: leadRepo,
		emitter:  emitter,
		validate: validator.New(),
	}
}

// ProcessMessage ingests one lead message. Re-deliveries of unchanged
// payloads are detected via fingerprint and skipped.
func (p *Processor) ProcessMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.ProcessMessage")
	defer span.End()

	lead := msg.Lead
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"lead_id": lead.ID,
		"source":  lead.SourceChannel,
	})

	req := models.IngestLeadRequest{
		ID:            lead.ID,
		Name:          strings.TrimSpace(lead.Name),
		Email:         lead.Email,
		Phone:         lead.Phone,
		Location:      lead.Location,
		Region:        lead.Region,
		SourceChannel: lead.SourceChannel,
		LeadScore:     lead.LeadScore,
		CreatedAt:     lead.CapturedAt,
		LastContactAt: lead.LastContactAt,
	}
	if err := p.validate.Struct(req); err != nil {
		// Malformed leads are logged and dropped, not retried forever
		log.WithError(err).Warn("Dropping invalid lead message")
		return nil
	}

	_, err := p.Ingest(ctx, req)
	return err
}

// Ingest creates or updates a lead record from a request
func (p *Processor) Ingest(ctx context.Context, req models.IngestLeadRequest) (*models.LeadRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.Ingest")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{"lead_id": req.ID})

	incoming := &models.LeadRecord{
		ID:            req.ID,
		Name:          req.Name,
		Email:         req.Email,
		Phone:         req.Phone,
		Location:      req.Location,
		Region:        req.Region,
		SourceChannel: req.SourceChannel,
		LeadScore:     req.LeadScore,
		LastContactAt: req.LastContactAt,
	}
	if req.CreatedAt != nil {
		incoming.CreatedAt = req.CreatedAt.UTC()
	}
	incoming.Fingerprint = fingerprint.Lead(incoming)

	existing, err := p.leadRepo.Get(ctx, req.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	if existing == nil {
		created, err := p.leadRepo.Create(ctx, incoming)
		if err != nil {
			return nil, err
		}
		p.emit(ctx, created, true)
		return created, nil
	}

	// Updates never resurrect or mutate an absorbed record; the data
	// belongs on its canonical lead
	if existing.IsTombstoned() {
		log.Debug("Skipping update for tombstoned lead")
		return existing, nil
	}

	if !fingerprint.HasChanged(existing.Fingerprint, incoming.Fingerprint) {
		log.Debug("Lead unchanged, skipping update")
		return existing, nil
	}

	existing.Name = incoming.Name
	existing.Email = incoming.Email
	existing.Phone = incoming.Phone
	existing.Location = incoming.Location
	existing.Region = incoming.Region
	existing.SourceChannel = incoming.SourceChannel
	existing.LeadScore = incoming.LeadScore
	existing.LastContactAt = latestContact(existing.LastContactAt, incoming.LastContactAt)
	existing.Fingerprint = incoming.Fingerprint

	updated, err := p.leadRepo.Update(ctx, existing)
	if err != nil {
		return nil, err
	}
	p.emit(ctx, updated, false)
	return updated, nil
}

func (p *Processor) emit(ctx context.Context, lead *models.LeadRecord, created bool) {
	if p.emitter == nil {
		return
	}
	if err := p.emitter.EmitLeadIngested(ctx, lead, created); err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to emit lead event")
	}
}

func latestContact(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.After(*a) {
		return b
	}
	return a
}
