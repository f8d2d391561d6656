package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-courier-sync/command"
	"github.com/goliatone/go-courier-sync/core"
	"github.com/goliatone/go-courier-sync/query"
	"github.com/goliatone/go-courier-sync/webhooks"
)

const defaultMaxBodyBytes int64 = 1 << 20

type WebhookHandler interface {
	Handle(ctx context.Context, req webhooks.Request) (webhooks.Response, error)
}

// HealthCheck reports whether backing stores are reachable.
type HealthCheck func(ctx context.Context) error

type Commands struct {
	ReplayDeadLetter       gocmd.Commander[command.ReplayDeadLetterMessage]
	ReplayDeadLetters      gocmd.Commander[command.ReplayDeadLettersMessage]
	AbandonDeadLetter      gocmd.Commander[command.AbandonDeadLetterMessage]
	ResolveNDR             gocmd.Commander[command.ResolveNDRMessage]
	EscalateNDR            gocmd.Commander[command.EscalateNDRMessage]
	TriggerNDRRTO          gocmd.Commander[command.TriggerNDRRTOMessage]
	AnnotateNDR            gocmd.Commander[command.AnnotateNDRMessage]
	RecordCustomerResponse gocmd.Commander[command.RecordCustomerResponseMessage]
	InitiateRTO            gocmd.Commander[command.InitiateRTOMessage]
	MarkRTOInTransit       gocmd.Commander[command.MarkRTOInTransitMessage]
	MarkRTOReceived        gocmd.Commander[command.MarkRTOReceivedMessage]
	CompleteRTOQC          gocmd.Commander[command.CompleteRTOQCMessage]
	DisposeRTO             gocmd.Commander[command.DisposeRTOMessage]
	SaveWorkflow           gocmd.Commander[command.SaveWorkflowMessage]
	RefreshStatusMapping   gocmd.Commander[command.RefreshStatusMappingMessage]
}

type Queries struct {
	GetDeadLetter   gocmd.Querier[query.GetDeadLetterMessage, core.DeadLetterEntry]
	ListDeadLetters gocmd.Querier[query.ListDeadLettersMessage, query.Page[core.DeadLetterEntry]]
	DeadLetterDepth gocmd.Querier[query.DeadLetterDepthMessage, int]
	GetNDR          gocmd.Querier[query.GetNDRMessage, core.NDREvent]
	ListNDRs        gocmd.Querier[query.ListNDRsMessage, query.Page[core.NDREvent]]
	GetRTO          gocmd.Querier[query.GetRTOMessage, core.RTOEvent]
	ListRTOs        gocmd.Querier[query.ListRTOsMessage, query.Page[core.RTOEvent]]
	GetWorkflow     gocmd.Querier[query.GetWorkflowMessage, core.WorkflowDefinition]
}

type Config struct {
	Webhooks     WebhookHandler
	Commands     Commands
	Queries      Queries
	Health       HealthCheck
	Metrics      http.Handler
	MaxBodyBytes int64
	Observer     core.Observer
	Now          func() time.Time
}

type api struct {
	cfg Config
}

// NewRouter mounts the webhook endpoint, operator API, health and metrics
// routes. Operator routes whose commander or querier is nil answer 501.
func NewRouter(cfg Config) (chi.Router, error) {
	if cfg.Webhooks == nil {
		return nil, fmt.Errorf("httpapi: webhook handler is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	a := &api{cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.instrument)

	r.Get("/healthz", a.health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	r.Post("/webhooks/{courier}", a.receiveWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Route("/deadletters", func(r chi.Router) {
			r.Get("/", a.listDeadLetters)
			r.Get("/depth", a.deadLetterDepth)
			r.Post("/replay", a.replayDeadLetters)
			r.Get("/{id}", a.getDeadLetter)
			r.Post("/{id}/replay", a.replayDeadLetter)
			r.Post("/{id}/abandon", a.abandonDeadLetter)
		})
		r.Route("/ndr", func(r chi.Router) {
			r.Get("/", a.listNDRs)
			r.Get("/{id}", a.getNDR)
			r.Post("/{id}/resolve", a.resolveNDR)
			r.Post("/{id}/escalate", a.escalateNDR)
			r.Post("/{id}/rto", a.triggerNDRRTO)
			r.Post("/{id}/annotate", a.annotateNDR)
			r.Post("/{id}/customer-response", a.recordCustomerResponse)
		})
		r.Route("/rto", func(r chi.Router) {
			r.Get("/", a.listRTOs)
			r.Post("/", a.initiateRTO)
			r.Get("/{id}", a.getRTO)
			r.Post("/{id}/in-transit", a.markRTOInTransit)
			r.Post("/{id}/received", a.markRTOReceived)
			r.Post("/{id}/qc", a.completeRTOQC)
			r.Post("/{id}/dispose", a.disposeRTO)
		})
		r.Get("/workflows/{reason}", a.getWorkflow)
		r.Put("/workflows/{reason}", a.saveWorkflow)
		r.Post("/mappings/refresh", a.refreshMappings)
	})
	return r, nil
}

func (a *api) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		tags := map[string]string{
			"route":  route,
			"method": r.Method,
			"status": strconv.Itoa(status),
		}
		a.cfg.Observer.Counter(r.Context(), core.MetricHTTPRequests, 1, tags)
		a.cfg.Observer.Histogram(r.Context(), core.MetricHTTPRequestMillis, float64(time.Since(startedAt).Milliseconds()), tags)
	})
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Health != nil {
		if err := a.cfg.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type validatable interface {
	Validate() error
}

// execute validates msg, runs cmd and returns the result it stored, if any.
func execute[M validatable, R any](ctx context.Context, cmd gocmd.Commander[M], msg M) (R, bool, error) {
	var zero R
	if cmd == nil {
		return zero, false, errNotConfigured
	}
	if err := msg.Validate(); err != nil {
		return zero, false, err
	}
	collector := gocmd.NewResult[R]()
	if err := cmd.Execute(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, false, err
	}
	out, ok := collector.Load()
	return out, ok, nil
}

func ask[M validatable, R any](ctx context.Context, qry gocmd.Querier[M, R], msg M) (R, error) {
	var zero R
	if qry == nil {
		return zero, errNotConfigured
	}
	if err := msg.Validate(); err != nil {
		return zero, err
	}
	return qry.Query(ctx, msg)
}
