package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"backsim/internal/config"
	"backsim/internal/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBuilderConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		App: config.App{
			Env:      "test",
			LogLevel: "info",
			HTTPAddr: ":0",
		},
		Data: config.Data{
			CandleDir:   filepath.Join(dir, "candles"),
			ResultsPath: filepath.Join(dir, "results.db"),
		},
		Fetch: config.Fetch{
			RateLimitPerMin: 480,
			MaxBatch:        1000,
			MaxConcurrent:   2,
		},
		Engine: engine.DefaultConfig(),
		Backtest: config.Backtest{
			MaxConcurrentRuns: 1,
		},
	}
}

func TestBuildAssemblesStack(t *testing.T) {
	cfg := testBuilderConfig(t)
	b := NewAppBuilder(cfg)

	application, err := b.Build(context.Background())
	require.NoError(t, err)
	defer application.Backtest().Close()

	assert.NotNil(t, application.Backtest().Simulator())
	require.NotNil(t, application.Summary)
	assert.Equal(t, ":0", application.Summary.HTTPAddr)
	assert.NotEmpty(t, application.Summary.Strategies)
	assert.Equal(t, "-", application.Summary.HaltPath)
}

func TestBuildWithHaltCalendar(t *testing.T) {
	cfg := testBuilderConfig(t)
	dir := t.TempDir()
	calendar := filepath.Join(dir, "halts.yaml")
	require.NoError(t, os.WriteFile(calendar, []byte(`
halts:
  "600519":
    - start: "2024-03-04"
      end: "2024-03-05"
`), 0o644))
	cfg.Constraints = config.Constraints{
		Enabled:          true,
		EnableHaltCheck:  true,
		HaltCalendarPath: calendar,
	}

	b := NewAppBuilder(cfg)
	application, err := b.Build(context.Background())
	require.NoError(t, err)
	defer application.Backtest().Close()

	assert.Equal(t, calendar, application.Summary.HaltPath)
}

func TestBuildNilConfig(t *testing.T) {
	b := NewAppBuilder(nil)
	_, err := b.Build(context.Background())
	assert.Error(t, err)
}
