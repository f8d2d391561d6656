package core

import (
	"context"
	"testing"
	"time"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

func TestResolveConfig_Defaults(t *testing.T) {
	cfg, err := ResolveConfig(context.Background(), Config{}, nil, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.ServiceName != "courier-sync" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BaseDelay != time.Second || cfg.Retry.MaxDelay != 5*time.Minute {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Webhooks.Tolerance != 5*time.Minute {
		t.Fatalf("expected 5m tolerance, got %s", cfg.Webhooks.Tolerance)
	}
	if cfg.NDR.SLA != 48*time.Hour {
		t.Fatalf("expected 48h sla, got %s", cfg.NDR.SLA)
	}
	if cfg.Admission.Retention != 14*24*time.Hour {
		t.Fatalf("expected 14d admission retention, got %s", cfg.Admission.Retention)
	}
}

func TestResolveConfig_RuntimeOverridesLoaded(t *testing.T) {
	loaded := DefaultConfig()
	loaded.ServiceName = "from-provider"
	loaded.Retry.MaxAttempts = 7
	loaded.Couriers = []CourierConfig{{ID: "bluedart", Secret: "s3cret"}}

	cfg, err := ResolveConfig(context.Background(),
		Config{ServiceName: "runtime"},
		&fixedConfigProvider{cfg: loaded},
		GoOptionsResolver{},
	)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.ServiceName != "runtime" {
		t.Fatalf("expected runtime override, got %q", cfg.ServiceName)
	}
	if cfg.Retry.MaxAttempts != 7 {
		t.Fatalf("expected loaded retry attempts, got %d", cfg.Retry.MaxAttempts)
	}
	courier, ok := cfg.Courier("bluedart")
	if !ok {
		t.Fatalf("expected courier config to survive resolution")
	}
	if courier.SignatureHeader != DefaultSignatureHeader || courier.SignatureEncoding != SignatureEncodingHex {
		t.Fatalf("expected header defaults, got %+v", courier)
	}
}

func TestConfigValidate_RejectsCourierWithoutSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Couriers = []CourierConfig{{ID: "delhivery"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing secret to fail validation")
	}
}

func TestCfgxConfigProvider_LoadsRawValues(t *testing.T) {
	provider := NewCfgxConfigProvider(StaticRawConfigLoader{Values: map[string]any{
		"service_name": "raw",
	}})
	cfg, err := provider.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "raw" {
		t.Fatalf("expected raw service name, got %q", cfg.ServiceName)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Fatalf("expected defaults to fill gaps, got %d", cfg.Retry.MaxAttempts)
	}
}

func TestResolveConfig_OutboundFromLoaded(t *testing.T) {
	loaded := DefaultConfig()
	loaded.Outbound.NotifyURL = "https://hooks.example.com/notify"
	loaded.Outbound.Headers = map[string]string{"X-Tenant": "acme"}

	cfg, err := ResolveConfig(context.Background(), Config{}, &fixedConfigProvider{cfg: loaded}, GoOptionsResolver{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Outbound.NotifyURL != "https://hooks.example.com/notify" {
		t.Fatalf("expected loaded notify url, got %q", cfg.Outbound.NotifyURL)
	}
	if cfg.Outbound.Timeout != 10*time.Second {
		t.Fatalf("expected default outbound timeout, got %s", cfg.Outbound.Timeout)
	}
	if cfg.Outbound.Headers["X-Tenant"] != "acme" {
		t.Fatalf("expected outbound headers carried, got %v", cfg.Outbound.Headers)
	}
}

func TestConfigValidate_RejectsNonHTTPOutbound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Outbound.TaskURL = "ftp://tasks.example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected task_url validation error")
	}
}
