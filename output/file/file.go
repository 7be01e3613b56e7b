package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/config"
	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/metric"
	"github.com/reelyactive/barnowl/output"
)

// Defaults
const (
	DefaultDirectory  = "./data"
	DefaultPrefix     = "barnowl"
	DefaultBufferSize = 100
	FlushInterval     = time.Second
)

const (
	extension   = ".jsonl"
	stampLayout = "20060102T150405.000Z"
)

// Config holds configuration for the file output
type Config struct {
	Name       string
	Directory  string
	Prefix     string
	MaxSize    int64 // bytes before rotation; 0 never rotates
	MaxFiles   int   // rotated files kept; 0 keeps all
	BufferSize int
}

// FromConfig converts the outputs.file section
func FromConfig(cfg config.FileOutputConfig) Config {
	return Config{
		Directory: cfg.Directory,
		Prefix:    cfg.Prefix,
		MaxSize:   cfg.MaxSize,
		MaxFiles:  cfg.MaxFiles,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "directory is required")
	}
	if c.MaxSize < 0 || c.MaxFiles < 0 || c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_size, max_files and buffer_size cannot be negative")
	}
	return nil
}

type metrics struct {
	written   prometheus.Counter
	bytes     prometheus.Counter
	errors    prometheus.Counter
	rotations prometheus.Counter
}

func newMetrics(registrar metric.MetricsRegistrar, name string) *metrics {
	if registrar == nil {
		return nil
	}
	m := &metrics{
		written: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barnowl", Subsystem: "file_output",
			Name: "envelopes_written_total", Help: "Envelopes written to disk",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barnowl", Subsystem: "file_output",
			Name: "bytes_written_total", Help: "Bytes written to disk",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barnowl", Subsystem: "file_output",
			Name: "write_errors_total", Help: "Envelopes lost to write failures",
		}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barnowl", Subsystem: "file_output",
			Name: "rotations_total", Help: "Output file rotations",
		}),
	}
	_ = registrar.RegisterCounter(name, "envelopes_written", m.written)
	_ = registrar.RegisterCounter(name, "bytes_written", m.bytes)
	_ = registrar.RegisterCounter(name, "write_errors", m.errors)
	_ = registrar.RegisterCounter(name, "rotations", m.rotations)
	return m
}

// Output writes every event as one JSON envelope per line to
// <directory>/<prefix>.jsonl, rotating the file by size.
type Output struct {
	output.Encoder

	name       string
	directory  string
	prefix     string
	maxSize    int64
	maxFiles   int
	bufferSize int
	logger     *slog.Logger
	metrics    *metrics
	now        func() time.Time

	// File handling
	file   *os.File
	size   int64
	fileMu sync.Mutex

	// Buffer for batching writes
	buffer   [][]byte
	bufferMu sync.Mutex

	flow        component.FlowTracker
	running     atomic.Bool
	shutdown    chan struct{}
	wg          sync.WaitGroup
	lifecycleMu sync.Mutex
}

// New creates a file output
func New(cfg Config, deps component.Dependencies) (*Output, error) {
	if cfg.Name == "" {
		cfg.Name = "file-output"
	}
	if cfg.Directory == "" {
		cfg.Directory = DefaultDirectory
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Output{
		name:       cfg.Name,
		directory:  cfg.Directory,
		prefix:     cfg.Prefix,
		maxSize:    cfg.MaxSize,
		maxFiles:   cfg.MaxFiles,
		bufferSize: cfg.BufferSize,
		logger:     deps.GetLoggerWithComponent(cfg.Name),
		metrics:    newMetrics(deps.Registrar(), cfg.Name),
		now:        time.Now,
		buffer:     make([][]byte, 0, cfg.BufferSize),
	}
	o.Encoder = output.NewEncoder(deps.Platform.ID, o.enqueue)
	return o, nil
}

// Name implements pipeline.Sink
func (o *Output) Name() string { return o.name }

// Path returns the file currently written to
func (o *Output) Path() string {
	return filepath.Join(o.directory, o.prefix+extension)
}

// Initialize creates the output directory
func (o *Output) Initialize() error {
	if err := os.MkdirAll(o.directory, 0o755); err != nil {
		return errors.WrapFatal(err, o.name, "Initialize", "create output directory")
	}
	return nil
}

// Start opens the output file and begins periodic flushing
func (o *Output) Start(context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, o.name, "Start", "check running state")
	}
	if err := o.Initialize(); err != nil {
		return err
	}

	o.fileMu.Lock()
	err := o.open()
	o.fileMu.Unlock()
	if err != nil {
		return errors.WrapFatal(err, o.name, "Start", "open output file")
	}

	o.shutdown = make(chan struct{})
	o.wg.Add(1)
	go o.flushLoop(o.shutdown)

	o.running.Store(true)
	o.flow.Begin(o.now())

	o.logger.Info("File output started",
		"output_file", o.Path(),
		"max_size", o.maxSize,
		"max_files", o.maxFiles,
		"buffer_size", o.bufferSize)
	return nil
}

// Stop flushes what is buffered and closes the file
func (o *Output) Stop(timeout time.Duration) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if !o.running.Swap(false) {
		return nil
	}
	close(o.shutdown)

	waitCh := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), o.name, "Stop", "shutdown")
	}

	o.Flush()

	o.fileMu.Lock()
	defer o.fileMu.Unlock()
	if o.file != nil {
		if err := o.file.Close(); err != nil {
			o.logger.Warn("Failed to close output file", "error", err, "path", o.Path())
		}
		o.file = nil
	}
	return nil
}

func (o *Output) enqueue(env *output.Envelope) error {
	line, err := env.Marshal()
	if err != nil {
		o.flow.Fail(err)
		return errors.WrapInvalid(err, o.name, "enqueue", "marshal envelope")
	}
	line = append(line, '\n')

	o.bufferMu.Lock()
	o.buffer = append(o.buffer, line)
	full := len(o.buffer) >= o.bufferSize
	o.bufferMu.Unlock()

	o.flow.Record(len(line), o.now())
	if full {
		o.Flush()
	}
	return nil
}

func (o *Output) flushLoop(shutdown <-chan struct{}) {
	defer o.wg.Done()

	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			o.Flush()
		}
	}
}

// Flush writes buffered envelopes to the file, rotating as needed
func (o *Output) Flush() {
	o.bufferMu.Lock()
	if len(o.buffer) == 0 {
		o.bufferMu.Unlock()
		return
	}
	lines := o.buffer
	o.buffer = make([][]byte, 0, o.bufferSize)
	o.bufferMu.Unlock()

	o.fileMu.Lock()
	defer o.fileMu.Unlock()

	if o.file == nil {
		o.lost(len(lines), errors.ErrNotStarted)
		return
	}

	for i, line := range lines {
		if o.maxSize > 0 && o.size > 0 && o.size+int64(len(line)) > o.maxSize {
			if err := o.rotate(); err != nil {
				o.logger.Error("Failed to rotate output file", "error", err)
				if o.file == nil {
					o.lost(len(lines)-i, err)
					return
				}
			}
		}

		n, err := o.file.Write(line)
		o.size += int64(n)
		if err != nil {
			o.lost(1, err)
			continue
		}
		if o.metrics != nil {
			o.metrics.written.Inc()
			o.metrics.bytes.Add(float64(n))
		}
	}
}

func (o *Output) lost(n int, err error) {
	o.flow.Fail(err)
	if o.metrics != nil {
		o.metrics.errors.Add(float64(n))
	}
	o.logger.Error("Envelopes lost", "count", n, "error", err)
}

// open must be called with fileMu held
func (o *Output) open() error {
	file, err := os.OpenFile(o.Path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	o.file = file
	o.size = info.Size()
	return nil
}

// rotate must be called with fileMu held
func (o *Output) rotate() error {
	if err := o.file.Close(); err != nil {
		o.logger.Warn("Failed to close output file", "error", err, "path", o.Path())
	}
	o.file = nil

	target := o.rotatedName(o.now())
	if err := os.Rename(o.Path(), target); err != nil {
		if openErr := o.open(); openErr != nil {
			return openErr
		}
		return err
	}
	if o.metrics != nil {
		o.metrics.rotations.Inc()
	}
	o.logger.Debug("Rotated output file", "rotated", target)

	if err := o.open(); err != nil {
		return err
	}
	return o.prune()
}

func (o *Output) rotatedName(now time.Time) string {
	base := filepath.Join(o.directory, o.prefix+"-"+now.UTC().Format(stampLayout))
	name := base + extension
	for i := 1; ; i++ {
		if _, err := os.Stat(name); os.IsNotExist(err) {
			return name
		}
		name = fmt.Sprintf("%s_%03d%s", base, i, extension)
	}
}

// Rotated lists rotated files, oldest first
func (o *Output) Rotated() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(o.directory, o.prefix+"-*"+extension))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func (o *Output) prune() error {
	if o.maxFiles <= 0 {
		return nil
	}
	rotated, err := o.Rotated()
	if err != nil {
		return err
	}
	for len(rotated) > o.maxFiles {
		if err := os.Remove(rotated[0]); err != nil && !os.IsNotExist(err) {
			return err
		}
		rotated = rotated[1:]
	}
	return nil
}

// Meta implements component.Discoverable
func (o *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        o.name,
		Type:        "output",
		Description: "Writes gateway events to " + o.Path(),
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable
func (o *Output) Health() component.HealthStatus {
	o.fileMu.Lock()
	open := o.file != nil
	o.fileMu.Unlock()
	return o.flow.Health(o.running.Load() && open, o.now())
}

// DataFlow implements component.Discoverable
func (o *Output) DataFlow() component.FlowMetrics {
	return o.flow.Flow(o.now())
}
