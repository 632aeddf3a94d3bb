package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTopology = `
workers: 2
logging:
  level: debug
  format: text
agents:
  - id: planner
    kind: model
    instruction: break tasks into steps
    activation_keywords: [task]
    cache_capacity: 64
    dedup: true
    max_retries: 2
    timeout: 20s
    discoverable: [task]
  - id: console
    kind: console
    consume: true
connections:
  - source: planner
    destination: console
    keyword: step
schedule:
  - interval: 1m
    keyword: task
    prompt: "check status at {{timestamp}}"
persistence:
  backend: file
  path: ./checkpoints
  interval: 30s
  keep: 5
  resume: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidTopology(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTopology))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, 20*time.Second, time.Duration(cfg.Agents[0].Timeout))
	assert.True(t, cfg.Agents[1].Consume)
	require.Len(t, cfg.Connections, 1)
	assert.Equal(t, "step", cfg.Connections[0].Keyword)
	assert.Equal(t, "file", cfg.Persistence.Backend)
	assert.True(t, cfg.Persistence.Resume)
	require.Len(t, cfg.Schedule, 1)
	assert.Equal(t, time.Minute, time.Duration(cfg.Schedule[0].Interval))
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "no agents",
			mutate:  func(c *Config) { c.Agents = nil },
			wantErr: "at least one agent",
		},
		{
			name:    "duplicate id",
			mutate:  func(c *Config) { c.Agents[1].ID = c.Agents[0].ID },
			wantErr: "duplicate agent id",
		},
		{
			name:    "missing kind",
			mutate:  func(c *Config) { c.Agents[0].Kind = "" },
			wantErr: "kind required",
		},
		{
			name:    "unknown connection source",
			mutate:  func(c *Config) { c.Connections[0].Source = "ghost" },
			wantErr: "unknown source",
		},
		{
			name:    "unknown connection destination",
			mutate:  func(c *Config) { c.Connections[0].Destination = "ghost" },
			wantErr: "unknown destination",
		},
		{
			name:    "bad backend",
			mutate:  func(c *Config) { c.Persistence.Backend = "redis" },
			wantErr: "unknown persistence backend",
		},
		{
			name:    "backend without path",
			mutate:  func(c *Config) { c.Persistence.Path = "" },
			wantErr: "requires a path",
		},
		{
			name:    "schedule without keyword",
			mutate:  func(c *Config) { c.Schedule[0].Keyword = "" },
			wantErr: "keyword required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, sampleTopology))
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReservedProducerSourcesAllowed(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTopology))
	require.NoError(t, err)
	cfg.Connections = append(cfg.Connections,
		ConnectionConfig{Source: ProducerScheduler, Destination: "planner", Keyword: "task"},
		ConnectionConfig{Source: ProducerStdin, Destination: "planner", Keyword: "task"},
	)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "agents: [broken"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
