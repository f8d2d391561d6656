package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-courier-sync/command"
	"github.com/goliatone/go-courier-sync/core"
	"github.com/goliatone/go-courier-sync/deadletter"
	"github.com/goliatone/go-courier-sync/ndr"
	"github.com/goliatone/go-courier-sync/query"
	"github.com/goliatone/go-courier-sync/rto"
	"github.com/goliatone/go-courier-sync/webhooks"
	goerrors "github.com/goliatone/go-errors"
)

type webhookResponse struct {
	Accepted       bool   `json:"accepted"`
	Duplicate      bool   `json:"duplicate"`
	InboundEventID string `json:"inbound_event_id,omitempty"`
	EventID        string `json:"event_id,omitempty"`
}

func (a *api) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorStatus(w, http.StatusRequestEntityTooLarge, core.NewCourierError(
				"httpapi: webhook body exceeds limit", goerrors.CategoryBadInput, core.CourierErrorUndecodablePayload))
			return
		}
		writeError(w, core.NewCourierError("httpapi: webhook body unreadable", goerrors.CategoryBadInput, core.CourierErrorBadInput))
		return
	}
	headers := make(map[string]string, len(r.Header))
	for key, values := range r.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	resp, err := a.cfg.Webhooks.Handle(r.Context(), webhooks.Request{
		CourierID:  chi.URLParam(r, "courier"),
		Body:       body,
		Headers:    headers,
		ReceivedAt: a.cfg.Now(),
	})
	if err != nil {
		writeErrorStatus(w, resp.StatusCode, err)
		return
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, webhookResponse{
		Accepted:       resp.Accepted,
		Duplicate:      resp.Duplicate,
		InboundEventID: resp.InboundEventID,
		EventID:        resp.EventID,
	})
}

type actorRequest struct {
	Actor  string `json:"actor"`
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

func (a *api) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := window(r)
	if err != nil {
		writeError(w, err)
		return
	}
	values := r.URL.Query()
	page, err := ask(r.Context(), a.cfg.Queries.ListDeadLetters, query.ListDeadLettersMessage{Filter: core.DeadLetterFilter{
		Status:    core.DeadLetterStatus(values.Get("status")),
		Category:  core.DeadLetterCategory(values.Get("category")),
		CourierID: values.Get("courier_id"),
		Limit:     limit,
		Offset:    offset,
	}})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPage(page, toDeadLetterView))
}

func (a *api) deadLetterDepth(w http.ResponseWriter, r *http.Request) {
	depth, err := ask(r.Context(), a.cfg.Queries.DeadLetterDepth, query.DeadLetterDepthMessage{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"depth": depth})
}

func (a *api) getDeadLetter(w http.ResponseWriter, r *http.Request) {
	entry, err := ask(r.Context(), a.cfg.Queries.GetDeadLetter, query.GetDeadLetterMessage{ID: chi.URLParam(r, "id")})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeadLetterView(entry))
}

func (a *api) replayDeadLetter(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entry, _, err := execute[command.ReplayDeadLetterMessage, core.DeadLetterEntry](r.Context(), a.cfg.Commands.ReplayDeadLetter,
		command.ReplayDeadLetterMessage{ID: chi.URLParam(r, "id"), Actor: req.Actor})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeadLetterView(entry))
}

func (a *api) abandonDeadLetter(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entry, _, err := execute[command.AbandonDeadLetterMessage, core.DeadLetterEntry](r.Context(), a.cfg.Commands.AbandonDeadLetter,
		command.AbandonDeadLetterMessage{ID: chi.URLParam(r, "id"), Actor: req.Actor, Note: req.Note})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeadLetterView(entry))
}

func (a *api) replayDeadLetters(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	stats, _, err := execute[command.ReplayDeadLettersMessage, deadletter.ReplayStats](r.Context(), a.cfg.Commands.ReplayDeadLetters,
		command.ReplayDeadLettersMessage{Limit: req.Limit})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"claimed":  stats.Claimed,
		"resolved": stats.Resolved,
		"failed":   stats.Failed,
	})
}

func (a *api) listNDRs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := window(r)
	if err != nil {
		writeError(w, err)
		return
	}
	values := r.URL.Query()
	page, err := ask(r.Context(), a.cfg.Queries.ListNDRs, query.ListNDRsMessage{Filter: core.NDRFilter{
		Status:      core.NDRStatus(values.Get("status")),
		ShipmentID:  values.Get("shipment_id"),
		TrackingRef: values.Get("tracking_ref"),
		CompanyID:   values.Get("company_id"),
		Limit:       limit,
		Offset:      offset,
	}})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPage(page, toNDRView))
}

func (a *api) getNDR(w http.ResponseWriter, r *http.Request) {
	event, err := ask(r.Context(), a.cfg.Queries.GetNDR, query.GetNDRMessage{ID: chi.URLParam(r, "id")})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNDRView(event))
}

func (a *api) resolveNDR(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	event, _, err := execute[command.ResolveNDRMessage, core.NDREvent](r.Context(), a.cfg.Commands.ResolveNDR,
		command.ResolveNDRMessage{ID: chi.URLParam(r, "id"), Actor: req.Actor, Note: req.Note})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNDRView(event))
}

func (a *api) escalateNDR(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	event, _, err := execute[command.EscalateNDRMessage, core.NDREvent](r.Context(), a.cfg.Commands.EscalateNDR,
		command.EscalateNDRMessage{ID: chi.URLParam(r, "id"), Actor: req.Actor, Reason: req.Reason})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNDRView(event))
}

func (a *api) triggerNDRRTO(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	out, _, err := execute[command.TriggerNDRRTOMessage, command.TriggerRTOResult](r.Context(), a.cfg.Commands.TriggerNDRRTO,
		command.TriggerNDRRTOMessage{ID: chi.URLParam(r, "id"), Actor: req.Actor, Reason: req.Reason})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ndr": toNDRView(out.NDR),
		"rto": toRTOView(out.RTO),
	})
}

func (a *api) annotateNDR(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	event, _, err := execute[command.AnnotateNDRMessage, core.NDREvent](r.Context(), a.cfg.Commands.AnnotateNDR,
		command.AnnotateNDRMessage{ID: chi.URLParam(r, "id"), Actor: req.Actor, Note: req.Note})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNDRView(event))
}

func (a *api) recordCustomerResponse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel   string `json:"channel"`
		Message   string `json:"message"`
		Confirmed bool   `json:"confirmed"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	event, _, err := execute[command.RecordCustomerResponseMessage, core.NDREvent](r.Context(), a.cfg.Commands.RecordCustomerResponse,
		command.RecordCustomerResponseMessage{
			ID: chi.URLParam(r, "id"),
			Response: ndr.CustomerResponse{
				Channel:   req.Channel,
				Message:   req.Message,
				Confirmed: req.Confirmed,
			},
		})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNDRView(event))
}

func (a *api) listRTOs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := window(r)
	if err != nil {
		writeError(w, err)
		return
	}
	values := r.URL.Query()
	page, err := ask(r.Context(), a.cfg.Queries.ListRTOs, query.ListRTOsMessage{Filter: core.RTOFilter{
		Status:     core.RTOStatus(values.Get("status")),
		ShipmentID: values.Get("shipment_id"),
		Limit:      limit,
		Offset:     offset,
	}})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPage(page, toRTOView))
}

func (a *api) getRTO(w http.ResponseWriter, r *http.Request) {
	event, err := ask(r.Context(), a.cfg.Queries.GetRTO, query.GetRTOMessage{ID: chi.URLParam(r, "id")})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRTOView(event))
}

func (a *api) initiateRTO(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShipmentID  string `json:"shipment_id"`
		TrackingRef string `json:"tracking_ref"`
		Actor       string `json:"actor"`
		Reason      string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	event, _, err := execute[command.InitiateRTOMessage, core.RTOEvent](r.Context(), a.cfg.Commands.InitiateRTO,
		command.InitiateRTOMessage{Request: rto.InitiateRequest{
			ShipmentID:  req.ShipmentID,
			TrackingRef: req.TrackingRef,
			Actor:       req.Actor,
			Reason:      req.Reason,
		}})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRTOView(event))
}

func (a *api) markRTOInTransit(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	event, _, err := execute[command.MarkRTOInTransitMessage, core.RTOEvent](r.Context(), a.cfg.Commands.MarkRTOInTransit,
		command.MarkRTOInTransitMessage{ID: chi.URLParam(r, "id"), Actor: req.Actor, Note: req.Note})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRTOView(event))
}

func (a *api) markRTOReceived(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	event, _, err := execute[command.MarkRTOReceivedMessage, core.RTOEvent](r.Context(), a.cfg.Commands.MarkRTOReceived,
		command.MarkRTOReceivedMessage{ID: chi.URLParam(r, "id"), Actor: req.Actor, Note: req.Note})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRTOView(event))
}

func (a *api) completeRTOQC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor      string         `json:"actor"`
		Result     string         `json:"result"`
		Financials financialsView `json:"financials"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	event, _, err := execute[command.CompleteRTOQCMessage, core.RTOEvent](r.Context(), a.cfg.Commands.CompleteRTOQC,
		command.CompleteRTOQCMessage{
			ID:     chi.URLParam(r, "id"),
			Actor:  req.Actor,
			Result: core.QCResult(strings.ToLower(strings.TrimSpace(req.Result))),
			Financials: core.FinancialSummary{
				ReturnShippingCost: req.Financials.ReturnShippingCost,
				WriteOffAmount:     req.Financials.WriteOffAmount,
				Currency:           req.Financials.Currency,
			},
		})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRTOView(event))
}

func (a *api) disposeRTO(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor       string `json:"actor"`
		Disposition string `json:"disposition"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	event, _, err := execute[command.DisposeRTOMessage, core.RTOEvent](r.Context(), a.cfg.Commands.DisposeRTO,
		command.DisposeRTOMessage{
			ID:          chi.URLParam(r, "id"),
			Actor:       req.Actor,
			Disposition: core.Disposition(strings.ToLower(strings.TrimSpace(req.Disposition))),
		})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRTOView(event))
}

func (a *api) getWorkflow(w http.ResponseWriter, r *http.Request) {
	def, err := ask(r.Context(), a.cfg.Queries.GetWorkflow, query.GetWorkflowMessage{
		CompanyID: r.URL.Query().Get("company_id"),
		Reason:    core.NDRReason(chi.URLParam(r, "reason")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkflowView(def))
}

func (a *api) saveWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowView
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	def := core.WorkflowDefinition{
		CompanyID: strings.TrimSpace(req.CompanyID),
		Reason:    core.NDRReason(chi.URLParam(r, "reason")),
		Version:   req.Version,
		Trigger: core.RTOTrigger{
			MaxAttempts: req.Trigger.MaxAttempts,
			MaxHours:    req.Trigger.MaxHours,
			AutoTrigger: req.Trigger.AutoTrigger,
		},
	}
	for _, action := range req.Actions {
		var delay time.Duration
		if strings.TrimSpace(action.Delay) != "" {
			parsed, err := time.ParseDuration(action.Delay)
			if err != nil {
				writeError(w, goerrors.NewValidation("httpapi: invalid workflow", goerrors.FieldError{
					Field:   "actions.delay",
					Message: err.Error(),
				}))
				return
			}
			delay = parsed
		}
		def.Actions = append(def.Actions, core.WorkflowAction{
			Sequence:    action.Sequence,
			Type:        core.NDRActionType(action.Type),
			Delay:       delay,
			AutoExecute: action.AutoExecute,
			Channel:     action.Channel,
		})
	}
	saved, _, err := execute[command.SaveWorkflowMessage, core.WorkflowDefinition](r.Context(), a.cfg.Commands.SaveWorkflow,
		command.SaveWorkflowMessage{Definition: def})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkflowView(saved))
}

func (a *api) refreshMappings(w http.ResponseWriter, r *http.Request) {
	if _, _, err := execute[command.RefreshStatusMappingMessage, struct{}](r.Context(), a.cfg.Commands.RefreshStatusMapping,
		command.RefreshStatusMappingMessage{}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func window(r *http.Request) (int, int, error) {
	limit, err := intParam(r, "limit")
	if err != nil {
		return 0, 0, err
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, goerrors.NewValidation("httpapi: invalid query parameter", goerrors.FieldError{
			Field:   name,
			Message: name + " must be an integer",
		})
	}
	return value, nil
}
