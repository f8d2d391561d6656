package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// ResolveConfig layers defaults, provider-loaded config and runtime overrides.
func ResolveConfig(ctx context.Context, runtime Config, provider ConfigProvider, resolver OptionsResolver) (Config, error) {
	defaults := DefaultConfig()
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, fmt.Errorf("core: load config: %w", err)
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

type layerBuilder struct {
	includeZero bool
	values      map[string]any
}

func (b layerBuilder) set(key string, value any, isZero bool) {
	if b.includeZero || !isZero {
		b.values[key] = value
	}
}

func (b layerBuilder) section(key string, fill func(layerBuilder)) {
	child := layerBuilder{includeZero: b.includeZero, values: map[string]any{}}
	fill(child)
	if len(child.values) > 0 {
		b.values[key] = child.values
	}
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	root := layerBuilder{includeZero: includeZero, values: map[string]any{}}
	root.set("service_name", cfg.ServiceName, strings.TrimSpace(cfg.ServiceName) == "")
	root.section("webhooks", func(b layerBuilder) {
		b.set("tolerance", cfg.Webhooks.Tolerance, cfg.Webhooks.Tolerance == 0)
		b.set("max_body_bytes", cfg.Webhooks.MaxBodyBytes, cfg.Webhooks.MaxBodyBytes == 0)
	})
	if includeZero || len(cfg.Couriers) > 0 {
		couriers := make([]any, 0, len(cfg.Couriers))
		for _, courier := range cfg.Couriers {
			couriers = append(couriers, map[string]any{
				"id":                 courier.ID,
				"secret":             courier.Secret,
				"signature_header":   courier.SignatureHeader,
				"timestamp_header":   courier.TimestampHeader,
				"event_type_header":  courier.EventTypeHeader,
				"signature_encoding": courier.SignatureEncoding,
				"fields": map[string]any{
					"event_id":     courier.Fields.EventID,
					"event_type":   courier.Fields.EventType,
					"tracking_ref": courier.Fields.TrackingRef,
					"status":       courier.Fields.Status,
					"reason":       courier.Fields.Reason,
					"occurred_at":  courier.Fields.OccurredAt,
				},
			})
		}
		root.values["couriers"] = couriers
	}
	root.section("admission", func(b layerBuilder) {
		b.set("retention", cfg.Admission.Retention, cfg.Admission.Retention == 0)
		b.set("purge_batch", cfg.Admission.PurgeBatch, cfg.Admission.PurgeBatch == 0)
	})
	root.section("retry", func(b layerBuilder) {
		b.set("base_delay", cfg.Retry.BaseDelay, cfg.Retry.BaseDelay == 0)
		b.set("max_delay", cfg.Retry.MaxDelay, cfg.Retry.MaxDelay == 0)
		b.set("jitter", cfg.Retry.Jitter, cfg.Retry.Jitter == 0)
		b.set("max_attempts", cfg.Retry.MaxAttempts, cfg.Retry.MaxAttempts == 0)
		b.set("claim_lease", cfg.Retry.ClaimLease, cfg.Retry.ClaimLease == 0)
		b.set("batch_size", cfg.Retry.BatchSize, cfg.Retry.BatchSize == 0)
		b.set("interval", cfg.Retry.Interval, cfg.Retry.Interval == 0)
	})
	root.section("dead_letter", func(b layerBuilder) {
		b.set("replay_batch_size", cfg.DeadLetter.ReplayBatchSize, cfg.DeadLetter.ReplayBatchSize == 0)
		b.set("replay_interval", cfg.DeadLetter.ReplayInterval, cfg.DeadLetter.ReplayInterval == 0)
		b.set("depth_interval", cfg.DeadLetter.DepthInterval, cfg.DeadLetter.DepthInterval == 0)
	})
	root.section("ndr", func(b layerBuilder) {
		b.set("sla", cfg.NDR.SLA, cfg.NDR.SLA == 0)
		b.set("action_lease", cfg.NDR.ActionLease, cfg.NDR.ActionLease == 0)
		b.set("sweep_lease", cfg.NDR.SweepLease, cfg.NDR.SweepLease == 0)
		b.set("batch_size", cfg.NDR.BatchSize, cfg.NDR.BatchSize == 0)
		b.set("interval", cfg.NDR.Interval, cfg.NDR.Interval == 0)
		b.set("workflow_ttl", cfg.NDR.WorkflowTTL, cfg.NDR.WorkflowTTL == 0)
	})
	root.section("workers", func(b layerBuilder) {
		b.set("count", cfg.Workers.Count, cfg.Workers.Count == 0)
		b.set("queue_size", cfg.Workers.QueueSize, cfg.Workers.QueueSize == 0)
		b.set("process_timeout", cfg.Workers.ProcessTimeout, cfg.Workers.ProcessTimeout == 0)
	})
	root.section("archive", func(b layerBuilder) {
		b.set("retention", cfg.Archive.Retention, cfg.Archive.Retention == 0)
		b.set("batch_size", cfg.Archive.BatchSize, cfg.Archive.BatchSize == 0)
		b.set("interval", cfg.Archive.Interval, cfg.Archive.Interval == 0)
	})
	root.section("mapping", func(b layerBuilder) {
		b.set("files", append([]string(nil), cfg.Mapping.Files...), len(cfg.Mapping.Files) == 0)
		b.set("refresh_interval", cfg.Mapping.RefreshInterval, cfg.Mapping.RefreshInterval == 0)
	})
	root.section("http", func(b layerBuilder) {
		b.set("addr", cfg.HTTP.Addr, strings.TrimSpace(cfg.HTTP.Addr) == "")
		b.set("read_timeout", cfg.HTTP.ReadTimeout, cfg.HTTP.ReadTimeout == 0)
		b.set("write_timeout", cfg.HTTP.WriteTimeout, cfg.HTTP.WriteTimeout == 0)
	})
	root.section("database", func(b layerBuilder) {
		b.set("driver", cfg.Database.Driver, strings.TrimSpace(cfg.Database.Driver) == "")
		b.set("dsn", cfg.Database.DSN, strings.TrimSpace(cfg.Database.DSN) == "")
		b.set("debug", cfg.Database.Debug, !cfg.Database.Debug)
		b.set("ping_timeout", cfg.Database.PingTimeout, cfg.Database.PingTimeout == 0)
	})
	root.section("outbound", func(b layerBuilder) {
		b.set("notify_url", cfg.Outbound.NotifyURL, strings.TrimSpace(cfg.Outbound.NotifyURL) == "")
		b.set("task_url", cfg.Outbound.TaskURL, strings.TrimSpace(cfg.Outbound.TaskURL) == "")
		b.set("token", cfg.Outbound.Token, strings.TrimSpace(cfg.Outbound.Token) == "")
		b.set("timeout", cfg.Outbound.Timeout, cfg.Outbound.Timeout == 0)
		headers := map[string]any{}
		for key, value := range cfg.Outbound.Headers {
			headers[key] = value
		}
		b.set("headers", headers, len(headers) == 0)
	})
	return root.values
}
