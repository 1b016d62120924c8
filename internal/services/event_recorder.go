package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/giftwise/internal/validation"
	"github.com/temcen/giftwise/pkg/models"
)

var (
	ErrInvalidEvent   = errors.New("invalid recommendation event")
	ErrRecorderClosed = errors.New("event recorder closed")
)

// EventRecorder logs recommendation events without ever blocking the
// caller. Batches go onto a bounded queue drained by a single worker; when
// the queue is full the batch is dropped and logged.
type EventRecorder struct {
	store        EventStore
	publisher    EventPublisher
	feedback     FeedbackApplier
	validator    *validation.SchemaValidator
	writeTimeout time.Duration
	metrics      *PipelineMetrics
	logger       *logrus.Logger

	queue  chan []models.RecommendationEvent
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// EventRecorderOptions carries the optional collaborators. Nil publisher or
// feedback applier disables that step.
type EventRecorderOptions struct {
	Publisher    EventPublisher
	Feedback     FeedbackApplier
	Validator    *validation.SchemaValidator
	QueueSize    int
	WriteTimeout time.Duration
}

func NewEventRecorder(store EventStore, opts EventRecorderOptions, metrics *PipelineMetrics, logger *logrus.Logger) *EventRecorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	r := &EventRecorder{
		store:        store,
		publisher:    opts.Publisher,
		feedback:     opts.Feedback,
		validator:    opts.Validator,
		writeTimeout: opts.WriteTimeout,
		metrics:      metrics,
		logger:       logger,
		queue:        make(chan []models.RecommendationEvent, opts.QueueSize),
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// RecordImpressions logs one IMPRESSION per product actually served.
func (r *EventRecorder) RecordImpressions(sessionID string, userID *string, productIDs []string) {
	if len(productIDs) == 0 {
		return
	}

	now := time.Now().UTC()
	events := make([]models.RecommendationEvent, 0, len(productIDs))
	for _, id := range productIDs {
		productID := id
		events = append(events, models.RecommendationEvent{
			ID:        uuid.New(),
			SessionID: sessionID,
			UserID:    userID,
			ProductID: &productID,
			Action:    models.ActionImpression,
			CreatedAt: now,
		})
	}

	r.enqueue(events)
}

// RecordAction validates a client-reported interaction and queues it. Only
// validation failures are returned; the write itself is best effort.
func (r *EventRecorder) RecordAction(req *models.EventRequest, userID *string) error {
	if req.SessionID == "" || req.ProductID == "" {
		return fmt.Errorf("%w: session_id and product_id are required", ErrInvalidEvent)
	}
	if !req.Action.Valid() || req.Action == models.ActionImpression {
		return fmt.Errorf("%w: unsupported action %q", ErrInvalidEvent, req.Action)
	}
	if r.validator != nil {
		if err := r.validator.ValidateEventMetadata(req.Metadata).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
	}

	productID := req.ProductID
	r.enqueue([]models.RecommendationEvent{{
		ID:        uuid.New(),
		SessionID: req.SessionID,
		UserID:    userID,
		ProductID: &productID,
		Action:    req.Action,
		Metadata:  req.Metadata,
		CreatedAt: time.Now().UTC(),
	}})

	return nil
}

func (r *EventRecorder) enqueue(events []models.RecommendationEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action := string(events[0].Action)
	if r.closed {
		r.metrics.EventWrite(action, "dropped", len(events))
		r.logger.WithError(ErrRecorderClosed).WithField("count", len(events)).Warn("Dropping recommendation events")
		return
	}

	select {
	case r.queue <- events:
	default:
		r.metrics.EventWrite(action, "dropped", len(events))
		r.logger.WithFields(logrus.Fields{
			"session_id": events[0].SessionID,
			"action":     action,
			"count":      len(events),
		}).Warn("Event queue full, dropping events")
	}
}

func (r *EventRecorder) worker() {
	defer r.wg.Done()

	for events := range r.queue {
		r.process(events)
	}
}

func (r *EventRecorder) process(events []models.RecommendationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	action := string(events[0].Action)

	if err := r.store.InsertEvents(ctx, events); err != nil {
		r.metrics.EventWrite(action, "error", len(events))
		r.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": events[0].SessionID,
			"action":     action,
			"count":      len(events),
		}).Warn("Failed to store recommendation events")
	} else {
		r.metrics.EventWrite(action, "stored", len(events))
	}

	if r.publisher != nil {
		if err := r.publisher.PublishEvents(ctx, events); err != nil {
			r.metrics.SideEffectError("event_publish")
			r.logger.WithError(err).WithField("count", len(events)).Warn("Failed to publish recommendation events")
		}
	}

	if r.feedback == nil {
		return
	}
	for _, event := range events {
		if event.Action == models.ActionImpression || event.ProductID == nil {
			continue
		}
		if err := r.feedback.ApplyFeedback(ctx, event.SessionID, *event.ProductID, event.Action); err != nil {
			r.metrics.SideEffectError("feedback")
			r.logger.WithError(err).WithFields(logrus.Fields{
				"session_id": event.SessionID,
				"product_id": *event.ProductID,
				"action":     event.Action,
			}).Warn("Failed to apply feedback to session")
		}
	}
}

// Close stops accepting events and waits for queued batches to be written.
func (r *EventRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
}
