package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	couriersync "github.com/goliatone/go-courier-sync"
	"gopkg.in/yaml.v3"
)

const (
	envConfigFile = "COURIER_SYNC_CONFIG"
	envHTTPAddr   = "COURIER_SYNC_HTTP_ADDR"
	envDBDriver   = "COURIER_SYNC_DATABASE_DRIVER"
	envDBDSN      = "COURIER_SYNC_DATABASE_DSN"
)

// fileLoader reads a YAML document into the raw map cfgx decodes.
type fileLoader struct {
	path string
}

func (l fileLoader) LoadRaw(context.Context) (map[string]any, error) {
	if strings.TrimSpace(l.path) == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", l.path, err)
	}
	return raw, nil
}

// persistenceConfig satisfies the go-persistence-bun client config.
type persistenceConfig struct {
	cfg couriersync.Config
}

func (c persistenceConfig) GetDebug() bool { return c.cfg.Database.Debug }
func (c persistenceConfig) GetDriver() string { return c.cfg.Database.Driver }
func (c persistenceConfig) GetServer() string { return c.cfg.Database.DSN }

func (c persistenceConfig) GetPingTimeout() time.Duration {
	if c.cfg.Database.PingTimeout > 0 {
		return c.cfg.Database.PingTimeout
	}
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string { return c.cfg.ServiceName }

func loadConfig(ctx context.Context) (couriersync.Config, error) {
	runtime := couriersync.Config{}
	runtime.HTTP.Addr = os.Getenv(envHTTPAddr)
	runtime.Database.Driver = os.Getenv(envDBDriver)
	runtime.Database.DSN = os.Getenv(envDBDSN)

	provider := couriersync.NewConfigProvider(fileLoader{path: os.Getenv(envConfigFile)})
	return couriersync.ResolveConfig(ctx, runtime, provider)
}
