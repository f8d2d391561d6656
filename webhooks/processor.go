package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-courier-sync/core"
	"github.com/google/uuid"
)

const defaultClaimLease = time.Minute

// Request is one courier callback as received by the transport.
type Request struct {
	CourierID  string
	Body       []byte
	Headers    map[string]string
	ReceivedAt time.Time
}

type Response struct {
	StatusCode     int
	Accepted       bool
	Duplicate      bool
	InboundEventID string
	EventID        string
}

type Verifier interface {
	VerifyAt(ctx context.Context, courierID string, body []byte, headers map[string]string, receivedAt time.Time) (VerifiedEvent, error)
}

type Guard interface {
	Admit(ctx context.Context, courierID string, eventID string, inboundEventID string) (AdmissionResult, error)
	Release(ctx context.Context, courierID string, eventID string) error
}

// Submitter hands an admitted event to asynchronous processing. Submit
// reports false when the event could not be queued.
type Submitter interface {
	Submit(event core.InboundEvent) bool
}

// Processor acknowledges courier callbacks. It verifies, admits and
// persists each event before handing it to the pipeline; the response
// never waits on mapping or reconciliation.
type Processor struct {
	Verifier    Verifier
	Guard       Guard
	Events      core.InboundEventStore
	Pipeline    *Pipeline
	Workers     Submitter
	DeadLetters DeadLetterer
	ClaimLease  time.Duration
	Observer    core.Observer
	Now         func() time.Time
}

func NewProcessor(verifier Verifier, guard Guard, events core.InboundEventStore, pipeline *Pipeline) *Processor {
	processor := &Processor{
		Verifier:   verifier,
		Guard:      guard,
		Events:     events,
		Pipeline:   pipeline,
		ClaimLease: defaultClaimLease,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	if pipeline != nil {
		processor.DeadLetters = pipeline.DeadLetters
	}
	return processor
}

func (p *Processor) Handle(ctx context.Context, req Request) (Response, error) {
	if p == nil || p.Verifier == nil || p.Guard == nil || p.Events == nil {
		return Response{StatusCode: http.StatusInternalServerError}, fmt.Errorf("webhooks: processor requires verifier, guard and event store")
	}
	req.CourierID = strings.TrimSpace(req.CourierID)
	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}
	tags := map[string]string{"courier_id": req.CourierID}
	p.Observer.Counter(ctx, core.MetricEventsReceived, 1, tags)

	verified, err := p.Verifier.VerifyAt(ctx, req.CourierID, req.Body, req.Headers, receivedAt)
	if err != nil {
		return p.reject(ctx, req, receivedAt, err)
	}

	lease := p.claimLease()
	claimedUntil := receivedAt.Add(lease)
	nextAttemptAt := receivedAt
	event := core.InboundEvent{
		ID:            uuid.NewString(),
		CourierID:     verified.CourierID,
		EventID:       verified.EventID,
		EventType:     verified.EventType,
		TrackingRef:   verified.TrackingRef,
		CourierStatus: verified.CourierStatus,
		RawReason:     verified.RawReason,
		OccurredAt:    verified.OccurredAt,
		Payload:       append([]byte(nil), req.Body...),
		Headers:       verified.Headers,
		ReceivedAt:    receivedAt,
		Status:        core.InboundStatusVerified,
		NextAttemptAt: &nextAttemptAt,
		ClaimedUntil:  &claimedUntil,
	}

	admission, err := p.Guard.Admit(ctx, event.CourierID, event.EventID, event.ID)
	if err != nil {
		// Without a ledger answer the event cannot be proven unique.
		p.Observer.Error(ctx, "webhooks: admission failed", map[string]any{
			"courier_id": event.CourierID,
			"event_id":   event.EventID,
			"error":      err.Error(),
		})
		return Response{StatusCode: http.StatusInternalServerError, EventID: event.EventID},
			admissionUnavailable(err, map[string]any{"courier_id": event.CourierID, "event_id": event.EventID})
	}
	if admission.Duplicate() {
		p.Observer.Counter(ctx, core.MetricEventsDuplicate, 1, tags)
		p.Observer.Debug(ctx, "webhooks: duplicate event acknowledged", map[string]any{
			"courier_id":       event.CourierID,
			"event_id":         event.EventID,
			"inbound_event_id": admission.Admission.InboundEventID,
		})
		return Response{
			StatusCode:     http.StatusOK,
			Accepted:       true,
			Duplicate:      true,
			InboundEventID: admission.Admission.InboundEventID,
			EventID:        event.EventID,
		}, nil
	}

	created, err := p.Events.Create(ctx, event)
	if err != nil {
		if releaseErr := p.Guard.Release(context.WithoutCancel(ctx), event.CourierID, event.EventID); releaseErr != nil {
			err = errors.Join(err, releaseErr)
		}
		return Response{StatusCode: http.StatusInternalServerError, EventID: event.EventID},
			fmt.Errorf("webhooks: persist inbound event: %w", err)
	}

	p.dispatch(ctx, created)
	return Response{
		StatusCode:     http.StatusOK,
		Accepted:       true,
		InboundEventID: created.ID,
		EventID:        created.EventID,
	}, nil
}

// dispatch queues the event or, without a worker pool, processes it inline.
// A full queue leaves the event for the retry dispatcher.
func (p *Processor) dispatch(ctx context.Context, event core.InboundEvent) {
	if p.Workers != nil {
		if p.Workers.Submit(event) {
			return
		}
		p.Observer.Warn(ctx, "webhooks: worker queue full, deferring event", map[string]any{
			"courier_id":       event.CourierID,
			"inbound_event_id": event.ID,
		})
		if err := p.Events.ReleaseClaim(context.WithoutCancel(ctx), event.ID); err != nil {
			p.Observer.Error(ctx, "webhooks: release claim failed", map[string]any{
				"inbound_event_id": event.ID,
				"error":            err.Error(),
			})
		}
		return
	}
	if p.Pipeline == nil {
		return
	}
	_, _ = p.Pipeline.Process(context.WithoutCancel(ctx), event)
}

func (p *Processor) reject(ctx context.Context, req Request, receivedAt time.Time, cause error) (Response, error) {
	category := core.DeadLetterCategoryValidation
	outcome := core.OutcomeUndecodable
	statusCode := http.StatusBadRequest
	if IsSecurityRejection(cause) {
		category = core.DeadLetterCategorySecurity
		outcome = core.OutcomeRejected
		statusCode = http.StatusUnauthorized
	}
	p.Observer.Counter(ctx, core.MetricEventsRejected, 1, map[string]string{
		"courier_id": req.CourierID,
		"category":   string(category),
	})

	if p.DeadLetters != nil {
		bookkeeping := context.WithoutCancel(ctx)
		event := core.InboundEvent{
			ID:         uuid.NewString(),
			CourierID:  req.CourierID,
			Payload:    append([]byte(nil), req.Body...),
			Headers:    cloneHeaders(req.Headers),
			ReceivedAt: receivedAt,
			Status:     core.InboundStatusReceived,
			Outcome:    outcome,
			LastError:  cause.Error(),
		}
		created, err := p.Events.Create(bookkeeping, event)
		if err == nil {
			_, err = p.DeadLetters.DeadLetter(bookkeeping, created, cause.Error(), category)
		}
		if err != nil {
			p.Observer.Error(ctx, "webhooks: failed to record rejected event", map[string]any{
				"courier_id":   req.CourierID,
				"payload_hash": core.PayloadFingerprint(req.Body),
				"error":        err.Error(),
			})
		}
	}
	return Response{StatusCode: statusCode}, cause
}

// Reprocess runs a stored event through verification, admission and the
// pipeline synchronously and records the final status. It is the replay
// path for dead-lettered events, so failures are not rescheduled.
func (p *Processor) Reprocess(ctx context.Context, event core.InboundEvent) (core.InboundEvent, error) {
	if p == nil || p.Pipeline == nil || p.Events == nil || p.Guard == nil {
		return event, fmt.Errorf("webhooks: processor is not configured for replay")
	}
	bookkeeping := context.WithoutCancel(ctx)

	if strings.TrimSpace(event.EventID) == "" {
		if p.Verifier == nil {
			return event, fmt.Errorf("webhooks: verifier is required to replay rejected events")
		}
		verified, err := p.Verifier.VerifyAt(ctx, event.CourierID, event.Payload, event.Headers, event.ReceivedAt)
		if err != nil {
			return p.finishReplay(bookkeeping, event, err)
		}
		event.EventID = verified.EventID
		event.EventType = verified.EventType
		event.TrackingRef = verified.TrackingRef
		event.CourierStatus = verified.CourierStatus
		event.RawReason = verified.RawReason
		event.OccurredAt = verified.OccurredAt
		event.Headers = verified.Headers
	}

	if err := p.Guard.Release(bookkeeping, event.CourierID, event.EventID); err != nil && !errors.Is(err, core.ErrNotFound) {
		return event, admissionUnavailable(err, map[string]any{"courier_id": event.CourierID, "event_id": event.EventID})
	}
	admission, err := p.Guard.Admit(bookkeeping, event.CourierID, event.EventID, event.ID)
	if err != nil {
		return event, admissionUnavailable(err, map[string]any{"courier_id": event.CourierID, "event_id": event.EventID})
	}
	if admission.Duplicate() {
		return event, fmt.Errorf("webhooks: event %s/%s is being processed elsewhere: %w", event.CourierID, event.EventID, core.ErrClaimLost)
	}

	event.Attempts = 0
	event.LastError = ""
	event.Outcome = core.OutcomeNone
	attempt := p.Pipeline.Attempt(ctx, event)
	event.Outcome = attempt.Outcome
	if attempt.Succeeded() {
		return p.finishReplay(bookkeeping, event, nil)
	}
	return p.finishReplay(bookkeeping, event, attempt.Err)
}

func (p *Processor) finishReplay(ctx context.Context, event core.InboundEvent, cause error) (core.InboundEvent, error) {
	event.NextAttemptAt = nil
	event.ClaimedUntil = nil
	if cause == nil {
		event.Status = core.InboundStatusApplied
		event.LastError = ""
	} else {
		event.Status = core.InboundStatusDeadLettered
		event.LastError = cause.Error()
	}
	updated, err := p.Events.Update(ctx, event)
	if err != nil {
		return event, errors.Join(cause, fmt.Errorf("webhooks: record replay result: %w", err))
	}
	return updated, cause
}

func (p *Processor) claimLease() time.Duration {
	if p != nil && p.ClaimLease > 0 {
		return p.ClaimLease
	}
	return defaultClaimLease
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func cloneHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(headers))
	for key, value := range headers {
		out[key] = value
	}
	return out
}
