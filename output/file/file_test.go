package file

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/config"
	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/metric"
	"github.com/reelyactive/barnowl/pipeline"
	"github.com/reelyactive/barnowl/topology"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Directory: "/tmp/x"}, false},
		{"missing directory", Config{}, true},
		{"negative size", Config{Directory: "/tmp/x", MaxSize: -1}, true},
		{"negative files", Config{Directory: "/tmp/x", MaxFiles: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.FileOutputConfig{Enabled: true, Directory: "/data", Prefix: "owl", MaxSize: 1024, MaxFiles: 3})
	assert.Equal(t, Config{Directory: "/data", Prefix: "owl", MaxSize: 1024, MaxFiles: 3}, cfg)
}

func TestOutput_Defaults(t *testing.T) {
	out, err := New(Config{}, component.Dependencies{})
	require.NoError(t, err)

	assert.Equal(t, "file-output", out.Name())
	assert.Equal(t, filepath.Join(DefaultDirectory, DefaultPrefix+".jsonl"), out.Path())
	meta := out.Meta()
	assert.Equal(t, "output", meta.Type)
}

func TestOutput_WritesEnvelopes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	out, err := New(Config{Directory: dir, Prefix: "events"}, component.Dependencies{
		Platform: component.PlatformMeta{ID: "gw-1"},
	})
	require.NoError(t, err)
	require.NoError(t, out.Start(context.Background()))
	assert.True(t, out.Health().Healthy)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, out.HandleVisibility(&pipeline.Visibility{Timestamp: ts}))
	require.NoError(t, out.HandleStatistics(&topology.Telemetry{Origin: "serial", Timestamp: ts}))
	require.NoError(t, out.Stop(time.Second))
	assert.False(t, out.Health().Healthy)

	lines := readLines(t, filepath.Join(dir, "events.jsonl"))
	require.Len(t, lines, 2)
	assert.Equal(t, "visibility", lines[0]["type"])
	assert.Equal(t, "statistics", lines[1]["type"])
	assert.Equal(t, "gw-1", lines[1]["platform"])
	assert.Equal(t, "2026-03-01T12:00:00.000Z", lines[1]["timestamp"])
}

func TestOutput_AppendsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		out, err := New(Config{Directory: dir}, component.Dependencies{})
		require.NoError(t, err)
		require.NoError(t, out.Start(context.Background()))
		require.NoError(t, out.HandleSensor(&pipeline.SensorReading{}))
		require.NoError(t, out.Stop(time.Second))
	}
	assert.Len(t, readLines(t, filepath.Join(dir, DefaultPrefix+".jsonl")), 2)
}

func TestOutput_FlushesWhenBufferFull(t *testing.T) {
	dir := t.TempDir()
	out, err := New(Config{Directory: dir, BufferSize: 2}, component.Dependencies{})
	require.NoError(t, err)
	require.NoError(t, out.Start(context.Background()))
	defer out.Stop(time.Second)

	require.NoError(t, out.HandleSensor(&pipeline.SensorReading{}))
	require.NoError(t, out.HandleSensor(&pipeline.SensorReading{}))

	assert.Len(t, readLines(t, out.Path()), 2)
}

func TestOutput_Rotation(t *testing.T) {
	dir := t.TempDir()
	registry := metric.NewMetricsRegistry()
	out, err := New(Config{Directory: dir, MaxSize: 400, MaxFiles: 2, BufferSize: 1},
		component.Dependencies{MetricsRegistry: registry})
	require.NoError(t, err)
	require.NoError(t, out.Start(context.Background()))

	for i := 0; i < 20; i++ {
		require.NoError(t, out.HandleSensor(&pipeline.SensorReading{Battery: float64(i)}))
	}
	require.NoError(t, out.Stop(time.Second))

	rotated, err := out.Rotated()
	require.NoError(t, err)
	assert.Len(t, rotated, 2)

	for _, path := range append(rotated, out.Path()) {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.LessOrEqual(t, info.Size(), int64(400))
	}

	// The live file holds the newest envelope
	lines := readLines(t, out.Path())
	require.NotEmpty(t, lines)
	last := lines[len(lines)-1]["data"].(map[string]any)
	assert.Equal(t, 19.0, last["battery"])

	assert.Greater(t, testutil.ToFloat64(out.metrics.rotations), 2.0)
	assert.Equal(t, 20.0, testutil.ToFloat64(out.metrics.written))
}

func TestOutput_RotatedNamesSortByAge(t *testing.T) {
	dir := t.TempDir()
	out, err := New(Config{Directory: dir}, component.Dependencies{})
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := out.rotatedName(now)
	require.NoError(t, os.WriteFile(first, nil, 0o644))
	second := out.rotatedName(now)
	require.NoError(t, os.WriteFile(second, nil, 0o644))
	third := out.rotatedName(now.Add(time.Millisecond))
	require.NoError(t, os.WriteFile(third, nil, 0o644))

	assert.Equal(t, filepath.Join(dir, "barnowl-20260301T120000.000Z.jsonl"), first)
	rotated, err := out.Rotated()
	require.NoError(t, err)
	assert.Equal(t, []string{first, second, third}, rotated)
}

func TestOutput_StartTwice(t *testing.T) {
	out, err := New(Config{Directory: t.TempDir()}, component.Dependencies{})
	require.NoError(t, err)
	require.NoError(t, out.Start(context.Background()))
	defer out.Stop(time.Second)

	assert.ErrorIs(t, out.Start(context.Background()), errors.ErrAlreadyStarted)
}

func TestOutput_FlushBeforeStartLoses(t *testing.T) {
	out, err := New(Config{Directory: t.TempDir(), BufferSize: 10}, component.Dependencies{})
	require.NoError(t, err)

	require.NoError(t, out.HandleSensor(&pipeline.SensorReading{}))
	out.Flush()
	assert.Equal(t, 1, out.Health().ErrorCount)
}
