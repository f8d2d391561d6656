package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-courier-sync/core"
)

type notificationPayload struct {
	NDRID       string `json:"ndr_id"`
	ShipmentID  string `json:"shipment_id"`
	TrackingRef string `json:"tracking_ref"`
	CompanyID   string `json:"company_id,omitempty"`
	Reason      string `json:"reason"`
	ActionType  string `json:"action_type"`
	Channel     string `json:"channel,omitempty"`
}

type taskPayload struct {
	NDRID       string    `json:"ndr_id"`
	ShipmentID  string    `json:"shipment_id"`
	TrackingRef string    `json:"tracking_ref"`
	CompanyID   string    `json:"company_id,omitempty"`
	ActionType  string    `json:"action_type"`
	DueAt       time.Time `json:"due_at"`
}

// Notifier forwards customer notifications to a webhook endpoint.
type Notifier struct {
	client *Client
	url    string
}

func NewNotifier(client *Client, url string) *Notifier {
	return &Notifier{client: client, url: strings.TrimSpace(url)}
}

func (n *Notifier) Notify(ctx context.Context, notification core.Notification) error {
	return n.client.PostJSON(ctx, n.url,
		fmt.Sprintf("notify:%s:%s", notification.NDRID, notification.ActionType),
		notificationPayload{
			NDRID:       notification.NDRID,
			ShipmentID:  notification.ShipmentID,
			TrackingRef: notification.TrackingRef,
			CompanyID:   notification.CompanyID,
			Reason:      string(notification.Reason),
			ActionType:  string(notification.ActionType),
			Channel:     notification.Channel,
		})
}

// TaskSink opens operator tasks in an external queue.
type TaskSink struct {
	client *Client
	url    string
}

func NewTaskSink(client *Client, url string) *TaskSink {
	return &TaskSink{client: client, url: strings.TrimSpace(url)}
}

func (s *TaskSink) CreateTask(ctx context.Context, task core.Task) error {
	return s.client.PostJSON(ctx, s.url,
		fmt.Sprintf("task:%s:%s", task.NDRID, task.ActionType),
		taskPayload{
			NDRID:       task.NDRID,
			ShipmentID:  task.ShipmentID,
			TrackingRef: task.TrackingRef,
			CompanyID:   task.CompanyID,
			ActionType:  string(task.ActionType),
			DueAt:       task.DueAt.UTC(),
		})
}

// FromConfig builds whichever hooks cfg has URLs for. Either result may be nil.
func FromConfig(cfg core.OutboundConfig, doer HTTPDoer) (core.Notifier, core.TaskSink) {
	var (
		notifier core.Notifier
		tasks    core.TaskSink
	)
	if strings.TrimSpace(cfg.NotifyURL) == "" && strings.TrimSpace(cfg.TaskURL) == "" {
		return nil, nil
	}
	client := NewClient(cfg, doer)
	if strings.TrimSpace(cfg.NotifyURL) != "" {
		notifier = NewNotifier(client, cfg.NotifyURL)
	}
	if strings.TrimSpace(cfg.TaskURL) != "" {
		tasks = NewTaskSink(client, cfg.TaskURL)
	}
	return notifier, tasks
}

var (
	_ core.Notifier = (*Notifier)(nil)
	_ core.TaskSink = (*TaskSink)(nil)
)
