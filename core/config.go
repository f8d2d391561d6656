package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	SignatureEncodingHex    = "hex"
	SignatureEncodingBase64 = "base64"

	DefaultSignatureHeader = "X-Courier-Signature"
	DefaultTimestampHeader = "X-Courier-Timestamp"
	DefaultEventTypeHeader = "X-Courier-Event"
)

// CourierFieldMapping names the JSON fields of a courier payload. Nested
// fields use dot paths, e.g. "shipment.awb".
type CourierFieldMapping struct {
	EventID     string `koanf:"event_id" mapstructure:"event_id"`
	EventType   string `koanf:"event_type" mapstructure:"event_type"`
	TrackingRef string `koanf:"tracking_ref" mapstructure:"tracking_ref"`
	Status      string `koanf:"status" mapstructure:"status"`
	Reason      string `koanf:"reason" mapstructure:"reason"`
	OccurredAt  string `koanf:"occurred_at" mapstructure:"occurred_at"`
}

type CourierConfig struct {
	ID                string              `koanf:"id" mapstructure:"id"`
	Secret            string              `koanf:"secret" mapstructure:"secret"`
	SignatureHeader   string              `koanf:"signature_header" mapstructure:"signature_header"`
	TimestampHeader   string              `koanf:"timestamp_header" mapstructure:"timestamp_header"`
	EventTypeHeader   string              `koanf:"event_type_header" mapstructure:"event_type_header"`
	SignatureEncoding string              `koanf:"signature_encoding" mapstructure:"signature_encoding"`
	Fields            CourierFieldMapping `koanf:"fields" mapstructure:"fields"`
}

type WebhooksConfig struct {
	Tolerance    time.Duration `koanf:"tolerance" mapstructure:"tolerance"`
	MaxBodyBytes int64         `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
}

type AdmissionConfig struct {
	Retention  time.Duration `koanf:"retention" mapstructure:"retention"`
	PurgeBatch int           `koanf:"purge_batch" mapstructure:"purge_batch"`
}

type RetryConfig struct {
	BaseDelay   time.Duration `koanf:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `koanf:"max_delay" mapstructure:"max_delay"`
	Jitter      float64       `koanf:"jitter" mapstructure:"jitter"`
	MaxAttempts int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	ClaimLease  time.Duration `koanf:"claim_lease" mapstructure:"claim_lease"`
	BatchSize   int           `koanf:"batch_size" mapstructure:"batch_size"`
	Interval    time.Duration `koanf:"interval" mapstructure:"interval"`
}

type DeadLetterConfig struct {
	ReplayBatchSize int           `koanf:"replay_batch_size" mapstructure:"replay_batch_size"`
	ReplayInterval  time.Duration `koanf:"replay_interval" mapstructure:"replay_interval"`
	DepthInterval   time.Duration `koanf:"depth_interval" mapstructure:"depth_interval"`
}

type NDRConfig struct {
	SLA         time.Duration `koanf:"sla" mapstructure:"sla"`
	ActionLease time.Duration `koanf:"action_lease" mapstructure:"action_lease"`
	SweepLease  time.Duration `koanf:"sweep_lease" mapstructure:"sweep_lease"`
	BatchSize   int           `koanf:"batch_size" mapstructure:"batch_size"`
	Interval    time.Duration `koanf:"interval" mapstructure:"interval"`
	WorkflowTTL time.Duration `koanf:"workflow_ttl" mapstructure:"workflow_ttl"`
}

type WorkersConfig struct {
	Count          int           `koanf:"count" mapstructure:"count"`
	QueueSize      int           `koanf:"queue_size" mapstructure:"queue_size"`
	ProcessTimeout time.Duration `koanf:"process_timeout" mapstructure:"process_timeout"`
}

type ArchiveConfig struct {
	Retention time.Duration `koanf:"retention" mapstructure:"retention"`
	BatchSize int           `koanf:"batch_size" mapstructure:"batch_size"`
	Interval  time.Duration `koanf:"interval" mapstructure:"interval"`
}

type MappingConfig struct {
	Files           []string      `koanf:"files" mapstructure:"files"`
	RefreshInterval time.Duration `koanf:"refresh_interval" mapstructure:"refresh_interval"`
}

type HTTPConfig struct {
	Addr         string        `koanf:"addr" mapstructure:"addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout" mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver      string        `koanf:"driver" mapstructure:"driver"`
	DSN         string        `koanf:"dsn" mapstructure:"dsn"`
	Debug       bool          `koanf:"debug" mapstructure:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout"`
}

// OutboundConfig points NDR notifications and operator tasks at HTTP
// endpoints. Empty URLs leave the corresponding hook unset.
type OutboundConfig struct {
	NotifyURL string            `koanf:"notify_url" mapstructure:"notify_url"`
	TaskURL   string            `koanf:"task_url" mapstructure:"task_url"`
	Token     string            `koanf:"token" mapstructure:"token"`
	Timeout   time.Duration     `koanf:"timeout" mapstructure:"timeout"`
	Headers   map[string]string `koanf:"headers" mapstructure:"headers"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	Webhooks    WebhooksConfig   `koanf:"webhooks" mapstructure:"webhooks"`
	Couriers    []CourierConfig  `koanf:"couriers" mapstructure:"couriers"`
	Admission   AdmissionConfig  `koanf:"admission" mapstructure:"admission"`
	Retry       RetryConfig      `koanf:"retry" mapstructure:"retry"`
	DeadLetter  DeadLetterConfig `koanf:"dead_letter" mapstructure:"dead_letter"`
	NDR         NDRConfig        `koanf:"ndr" mapstructure:"ndr"`
	Workers     WorkersConfig    `koanf:"workers" mapstructure:"workers"`
	Archive     ArchiveConfig    `koanf:"archive" mapstructure:"archive"`
	Mapping     MappingConfig    `koanf:"mapping" mapstructure:"mapping"`
	HTTP        HTTPConfig       `koanf:"http" mapstructure:"http"`
	Database    DatabaseConfig   `koanf:"database" mapstructure:"database"`
	Outbound    OutboundConfig   `koanf:"outbound" mapstructure:"outbound"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "courier-sync",
		Webhooks: WebhooksConfig{
			Tolerance:    5 * time.Minute,
			MaxBodyBytes: 1 << 20,
		},
		Admission: AdmissionConfig{
			Retention:  14 * 24 * time.Hour,
			PurgeBatch: 500,
		},
		Retry: RetryConfig{
			BaseDelay:   time.Second,
			MaxDelay:    5 * time.Minute,
			Jitter:      0.2,
			MaxAttempts: 5,
			ClaimLease:  time.Minute,
			BatchSize:   100,
			Interval:    time.Second,
		},
		DeadLetter: DeadLetterConfig{
			ReplayBatchSize: 100,
			ReplayInterval:  24 * time.Hour,
			DepthInterval:   time.Minute,
		},
		NDR: NDRConfig{
			SLA:         48 * time.Hour,
			ActionLease: 2 * time.Minute,
			SweepLease:  2 * time.Minute,
			BatchSize:   100,
			Interval:    30 * time.Second,
			WorkflowTTL: 5 * time.Minute,
		},
		Workers: WorkersConfig{
			Count:          8,
			QueueSize:      1024,
			ProcessTimeout: 10 * time.Second,
		},
		Archive: ArchiveConfig{
			Retention: 90 * 24 * time.Hour,
			BatchSize: 500,
			Interval:  time.Hour,
		},
		Mapping: MappingConfig{
			RefreshInterval: 5 * time.Minute,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:      "sqlite3",
			DSN:         "file:courier-sync.db?cache=shared&_foreign_keys=on",
			PingTimeout: 5 * time.Second,
		},
		Outbound: OutboundConfig{
			Timeout: 10 * time.Second,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Webhooks.Tolerance <= 0 {
		return fmt.Errorf("core: webhooks.tolerance must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("core: retry.max_attempts must be positive")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("core: retry delays are invalid")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		return fmt.Errorf("core: retry.jitter must be in [0,1)")
	}
	if c.NDR.SLA <= 0 {
		return fmt.Errorf("core: ndr.sla must be positive")
	}
	if c.Admission.Retention <= 0 {
		return fmt.Errorf("core: admission.retention must be positive")
	}
	for name, raw := range map[string]string{"notify_url": c.Outbound.NotifyURL, "task_url": c.Outbound.TaskURL} {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
			return fmt.Errorf("core: outbound.%s must be an http(s) url", name)
		}
	}
	seen := map[string]struct{}{}
	for _, courier := range c.Couriers {
		id := strings.TrimSpace(courier.ID)
		if id == "" {
			return fmt.Errorf("core: courier id is required")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("core: courier %q configured twice", id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(courier.Secret) == "" {
			return fmt.Errorf("core: courier %q secret is required", id)
		}
		switch strings.ToLower(strings.TrimSpace(courier.SignatureEncoding)) {
		case "", SignatureEncodingHex, SignatureEncodingBase64:
		default:
			return fmt.Errorf("core: courier %q signature_encoding is invalid", id)
		}
	}
	return nil
}

// Courier returns the normalized config for id with header defaults applied.
func (c Config) Courier(id string) (CourierConfig, bool) {
	id = strings.TrimSpace(id)
	for _, courier := range c.Couriers {
		if strings.TrimSpace(courier.ID) != id {
			continue
		}
		return courier.normalized(), true
	}
	return CourierConfig{}, false
}

func (c CourierConfig) normalized() CourierConfig {
	out := c
	out.ID = strings.TrimSpace(c.ID)
	if strings.TrimSpace(out.SignatureHeader) == "" {
		out.SignatureHeader = DefaultSignatureHeader
	}
	if strings.TrimSpace(out.TimestampHeader) == "" {
		out.TimestampHeader = DefaultTimestampHeader
	}
	if strings.TrimSpace(out.EventTypeHeader) == "" {
		out.EventTypeHeader = DefaultEventTypeHeader
	}
	out.SignatureEncoding = strings.ToLower(strings.TrimSpace(out.SignatureEncoding))
	if out.SignatureEncoding == "" {
		out.SignatureEncoding = SignatureEncodingHex
	}
	fields := out.Fields
	if fields.EventID == "" {
		fields.EventID = "event_id"
	}
	if fields.EventType == "" {
		fields.EventType = "event_type"
	}
	if fields.TrackingRef == "" {
		fields.TrackingRef = "tracking_ref"
	}
	if fields.Status == "" {
		fields.Status = "status"
	}
	if fields.Reason == "" {
		fields.Reason = "reason"
	}
	if fields.OccurredAt == "" {
		fields.OccurredAt = "occurred_at"
	}
	out.Fields = fields
	return out
}
