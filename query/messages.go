package query

import (
	"strings"

	"github.com/goliatone/go-courier-sync/core"
)

const (
	TypeGetDeadLetter   = "courier.query.deadletter.get"
	TypeListDeadLetters = "courier.query.deadletter.list"
	TypeDeadLetterDepth = "courier.query.deadletter.depth"
	TypeGetNDR          = "courier.query.ndr.get"
	TypeListNDRs        = "courier.query.ndr.list"
	TypeGetRTO          = "courier.query.rto.get"
	TypeListRTOs        = "courier.query.rto.list"
	TypeGetWorkflow     = "courier.query.workflow.get"
)

// MaxPageSize caps list limits accepted from callers.
const MaxPageSize = 500

// Page is a window over a filtered listing plus the unpaged total.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func validateWindow(limit int, offset int) error {
	if limit < 0 || limit > MaxPageSize {
		return queryValidationError("limit", "limit must be between 0 and 500")
	}
	if offset < 0 {
		return queryValidationError("offset", "offset must be >= 0")
	}
	return nil
}

type GetDeadLetterMessage struct {
	ID string
}

func (GetDeadLetterMessage) Type() string { return TypeGetDeadLetter }

func (m GetDeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return queryValidationError("id", "id is required")
	}
	return nil
}

type ListDeadLettersMessage struct {
	Filter core.DeadLetterFilter
}

func (ListDeadLettersMessage) Type() string { return TypeListDeadLetters }

func (m ListDeadLettersMessage) Validate() error {
	switch m.Filter.Status {
	case "", core.DeadLetterStatusPending, core.DeadLetterStatusRetrying,
		core.DeadLetterStatusResolved, core.DeadLetterStatusAbandoned:
	default:
		return queryValidationError("status", "unknown dead-letter status")
	}
	return validateWindow(m.Filter.Limit, m.Filter.Offset)
}

type DeadLetterDepthMessage struct{}

func (DeadLetterDepthMessage) Type() string { return TypeDeadLetterDepth }

func (DeadLetterDepthMessage) Validate() error { return nil }

type GetNDRMessage struct {
	ID string
}

func (GetNDRMessage) Type() string { return TypeGetNDR }

func (m GetNDRMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return queryValidationError("id", "id is required")
	}
	return nil
}

type ListNDRsMessage struct {
	Filter core.NDRFilter
}

func (ListNDRsMessage) Type() string { return TypeListNDRs }

func (m ListNDRsMessage) Validate() error {
	switch m.Filter.Status {
	case "", core.NDRStatusDetected, core.NDRStatusInResolution, core.NDRStatusResolved,
		core.NDRStatusEscalated, core.NDRStatusRTOTriggered:
	default:
		return queryValidationError("status", "unknown ndr status")
	}
	return validateWindow(m.Filter.Limit, m.Filter.Offset)
}

type GetRTOMessage struct {
	ID string
}

func (GetRTOMessage) Type() string { return TypeGetRTO }

func (m GetRTOMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return queryValidationError("id", "id is required")
	}
	return nil
}

type ListRTOsMessage struct {
	Filter core.RTOFilter
}

func (ListRTOsMessage) Type() string { return TypeListRTOs }

func (m ListRTOsMessage) Validate() error {
	switch m.Filter.Status {
	case "", core.RTOStatusInitiated, core.RTOStatusInTransitReturn, core.RTOStatusQCPending,
		core.RTOStatusQCComplete, core.RTOStatusDisposed:
	default:
		return queryValidationError("status", "unknown rto status")
	}
	return validateWindow(m.Filter.Limit, m.Filter.Offset)
}

// GetWorkflowMessage resolves the effective workflow; an empty CompanyID
// selects the default.
type GetWorkflowMessage struct {
	CompanyID string
	Reason    core.NDRReason
}

func (GetWorkflowMessage) Type() string { return TypeGetWorkflow }

func (m GetWorkflowMessage) Validate() error {
	if strings.TrimSpace(string(m.Reason)) == "" {
		return queryValidationError("reason", "reason is required")
	}
	return nil
}
