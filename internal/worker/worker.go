package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Davronbekjonbek/planshet-back/internal/broker"
	"github.com/Davronbekjonbek/planshet-back/internal/kobo"
	"github.com/Davronbekjonbek/planshet-back/internal/models"
	"github.com/Davronbekjonbek/planshet-back/internal/service"
	"github.com/Davronbekjonbek/planshet-back/internal/util"

	"go.uber.org/zap"
)

// MessageSource is a Kafka consumer
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// ObservationRecorder records one price observation
type ObservationRecorder interface {
	RecordObservation(ctx context.Context, req *service.RecordObservationRequest) (*service.RecordObservationResult, error)
}

// IngestionWorker feeds submitted observations into the ledger
type IngestionWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	ledger       ObservationRecorder
	logger       *zap.Logger
}

// NewIngestionWorker creates a new ingestion worker
func NewIngestionWorker(consumer MessageSource, ledger ObservationRecorder) *IngestionWorker {
	w := &IngestionWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		ledger:       ledger,
		logger:       util.Named("worker.ingestion"),
	}
	w.eventHandler.OnObservationSubmitted(w.HandleSubmitted)
	return w
}

// HandleSubmitted records a submission. Domain rejections (duplicates,
// bad input, unknown refs, no open period) are logged and acknowledged so
// the message is not redelivered; infrastructure errors are returned.
func (w *IngestionWorker) HandleSubmitted(ctx context.Context, event *models.ObservationSubmittedEvent) error {
	result, err := w.ledger.RecordObservation(ctx, service.RequestFromSubmission(event))
	if err != nil {
		if kind := service.KindOf(err); kind != "" {
			w.logger.Warn("Submission rejected",
				zap.String("event_id", event.EventID),
				zap.String("source", event.Source),
				zap.String("submission_id", event.SubmissionID),
				zap.String("kind", string(kind)),
				zap.Error(err))
			return nil
		}
		return err
	}

	fields := []zap.Field{zap.String("event_id", event.EventID)}
	if result != nil && result.Observation != nil {
		fields = append(fields, zap.Int64("observation_id", result.Observation.ID))
	}
	w.logger.Debug("Submission recorded", fields...)
	return nil
}

// Start starts the worker
func (w *IngestionWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting ingestion worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *IngestionWorker) Stop() error {
	w.logger.Info("Stopping ingestion worker")
	return w.consumer.Close()
}

// RolloverRunner carries a period's unresolved items forward
type RolloverRunner interface {
	Run(ctx context.Context, periodDateID int64) (*service.RolloverResult, error)
}

// CompletionPublisher announces finished rollovers
type CompletionPublisher interface {
	PublishRolloverCompleted(ctx context.Context, event *models.RolloverCompletedEvent) error
}

// RolloverWorker executes dispatched rollovers
type RolloverWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	runner       RolloverRunner
	publisher    CompletionPublisher
	logger       *zap.Logger
}

// NewRolloverWorker creates a new rollover worker
func NewRolloverWorker(consumer MessageSource, runner RolloverRunner, publisher CompletionPublisher) *RolloverWorker {
	w := &RolloverWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		runner:       runner,
		publisher:    publisher,
		logger:       util.Named("worker.rollover"),
	}
	w.eventHandler.OnRolloverRequested(w.HandleRequested)
	return w
}

// HandleRequested runs the requested rollover and announces the outcome.
// A period date that no longer exists is acknowledged and dropped.
func (w *RolloverWorker) HandleRequested(ctx context.Context, event *models.RolloverRequestedEvent) error {
	result, err := w.runner.Run(ctx, event.PeriodDateID)
	if err != nil {
		if service.IsKind(err, service.KindNotFound) {
			w.logger.Warn("Rollover requested for unknown period date",
				zap.Int64("period_date_id", event.PeriodDateID))
			return nil
		}
		util.RolloverRunsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("rollover for period date %d: %w", event.PeriodDateID, err)
	}

	completed := &models.RolloverCompletedEvent{
		BaseEvent:      models.NewBaseEvent(models.EventTypeRolloverCompleted),
		PeriodDateID:   result.PeriodDateID,
		SourcePeriodID: result.SourcePeriodID,
		Carried:        result.Carried,
		Skipped:        result.Skipped,
		Failed:         result.Failed,
		SkipReason:     result.SkipReason,
	}
	if err := w.publisher.PublishRolloverCompleted(ctx, completed); err != nil {
		w.logger.Warn("Failed to publish rollover completion",
			zap.Int64("period_date_id", event.PeriodDateID),
			zap.Error(err))
	}
	return nil
}

// Start starts the worker
func (w *RolloverWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting rollover worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *RolloverWorker) Stop() error {
	w.logger.Info("Stopping rollover worker")
	return w.consumer.Close()
}

// SubmissionSource lists KoBo submissions
type SubmissionSource interface {
	FetchSubmissions(ctx context.Context) ([]kobo.Submission, error)
}

// SubmissionPublisher puts submitted observations on the ingestion topic
type SubmissionPublisher interface {
	PublishObservationSubmitted(ctx context.Context, event *models.ObservationSubmittedEvent) error
}

// SeenStore remembers forwarded submissions
type SeenStore interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

const seenTTL = 30 * 24 * time.Hour

// PollResult summarises one poll
type PollResult struct {
	Forwarded  int
	Duplicates int
	Rows       int
	Skipped    int
}

// KoboPoller forwards new KoBo submissions to the ingestion topic
type KoboPoller struct {
	source    SubmissionSource
	publisher SubmissionPublisher
	seen      SeenStore
	interval  time.Duration
	logger    *zap.Logger
}

// NewKoboPoller creates a new poller
func NewKoboPoller(source SubmissionSource, publisher SubmissionPublisher, seen SeenStore, interval time.Duration) *KoboPoller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &KoboPoller{
		source:    source,
		publisher: publisher,
		seen:      seen,
		interval:  interval,
		logger:    util.Named("worker.kobo"),
	}
}

func seenKey(submissionID int64) string {
	return fmt.Sprintf("kobo:%d", submissionID)
}

// PollOnce fetches the form and publishes every submission not forwarded
// before. A submission is marked seen only after all its rows are published,
// so a failed publish is retried on the next poll.
func (p *KoboPoller) PollOnce(ctx context.Context) (*PollResult, error) {
	submissions, err := p.source.FetchSubmissions(ctx)
	if err != nil {
		util.KoboSubmissionsTotal.WithLabelValues("fetch_failed").Inc()
		return nil, fmt.Errorf("failed to fetch submissions: %w", err)
	}

	result := &PollResult{}
	for _, sub := range submissions {
		key := seenKey(sub.ID)
		seen, err := p.seen.CheckIdempotencyKey(ctx, key)
		if err != nil {
			return result, fmt.Errorf("failed to check submission %d: %w", sub.ID, err)
		}
		if seen {
			result.Duplicates++
			util.KoboSubmissionsTotal.WithLabelValues("duplicate").Inc()
			continue
		}

		events, skipped := kobo.MapSubmission(sub)
		result.Skipped += skipped
		if skipped > 0 {
			p.logger.Warn("Submission rows skipped",
				zap.Int64("submission_id", sub.ID),
				zap.Int("skipped", skipped))
		}

		for i := range events {
			if err := p.publisher.PublishObservationSubmitted(ctx, &events[i]); err != nil {
				util.KoboSubmissionsTotal.WithLabelValues("publish_failed").Inc()
				return result, fmt.Errorf("failed to publish submission %d: %w", sub.ID, err)
			}
		}
		result.Rows += len(events)

		if err := p.seen.SetIdempotencyKey(ctx, key, len(events), seenTTL); err != nil {
			p.logger.Warn("Failed to mark submission as seen",
				zap.Int64("submission_id", sub.ID),
				zap.Error(err))
		}
		result.Forwarded++
		util.KoboSubmissionsTotal.WithLabelValues("forwarded").Inc()
	}
	return result, nil
}

// Start polls until ctx is done
func (p *KoboPoller) Start(ctx context.Context) error {
	p.logger.Info("Starting KoBo poller", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		result, err := p.PollOnce(ctx)
		switch {
		case err != nil && errors.Is(err, context.Canceled):
			return ctx.Err()
		case err != nil:
			p.logger.Error("KoBo poll failed", zap.Error(err))
		default:
			p.logger.Info("KoBo poll finished",
				zap.Int("forwarded", result.Forwarded),
				zap.Int("duplicates", result.Duplicates),
				zap.Int("rows", result.Rows),
				zap.Int("skipped_rows", result.Skipped))
		}

		select {
		case <-ctx.Done():
			p.logger.Info("Stopping KoBo poller")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
