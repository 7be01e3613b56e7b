package serial

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/pkg/term"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/config"
	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/input"
)

// DefaultBaud is the line rate of a reel
const DefaultBaud = 230400

const readBufferSize = 4096

// Opener opens a serial device at the given line rate
type Opener func(path string, baud int) (io.ReadCloser, error)

// OpenTerm opens path as a raw terminal
func OpenTerm(path string, baud int) (io.ReadCloser, error) {
	t, err := term.Open(path, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Listener reads a reel's byte stream from a serial device. The device is
// reopened with the reconnect policy whenever it disappears.
type Listener struct {
	*input.Base

	path   string
	origin string
	baud   int
	cfg    config.ListenerConfig
	open   Opener
}

// New creates a serial listener. cfg.Path is the device path and is
// required.
func New(cfg config.ListenerConfig, handler input.Handler, deps component.Dependencies) (input.Listener, error) {
	if cfg.Path == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: serial listener needs a device path", errors.ErrMissingConfig),
			"serial-listener", "New", "validate path")
	}

	name := cfg.Name
	if name == "" {
		name = "serial"
	}
	origin := cfg.Origin
	if origin == "" {
		origin = cfg.Path
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = DefaultBaud
	}

	return &Listener{
		Base:   input.NewBase(name, config.ListenerSerial, "Serial reel listener on "+cfg.Path, handler, deps.GetLogger()),
		path:   cfg.Path,
		origin: origin,
		baud:   baud,
		cfg:    cfg,
		open:   OpenTerm,
	}, nil
}

// Register adds the serial listener factory to registry
func Register(registry *input.Registry) error {
	return registry.Register(config.ListenerSerial, New)
}

// Start launches the read loop. Opening the device happens inside the loop
// so an unplugged reel is retried rather than failing startup.
func (l *Listener) Start(ctx context.Context) error {
	if l.Running() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, l.Meta().Name, "Start", "check running")
	}

	l.Go(ctx, func(ctx context.Context) {
		if err := l.Supervise(ctx, l.origin, l.cfg.Reconnect, l.session); err != nil {
			l.Logger().Error("Serial listener stopped", "path", l.path, "error", err)
		}
	})
	return nil
}

func (l *Listener) session(ctx context.Context) error {
	port, err := l.open(l.path, l.baud)
	if err != nil {
		return errors.WrapTransient(err, l.Meta().Name, "session", "open device")
	}
	l.SetConnected(true)
	l.Logger().Info("Serial port opened", "path", l.path, "baud", l.baud)

	// Closing the port is the only way to unblock a pending Read
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = port.Close()
	}()

	buf := make([]byte, readBufferSize)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if herr := l.Emit(ctx, l.origin, data, time.Time{}); herr != nil && ctx.Err() == nil {
				l.Logger().Debug("Handler rejected data", "origin", l.origin, "error", herr)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if stderrors.Is(err, io.EOF) {
				err = errors.ErrDeviceClosed
			}
			return errors.WrapTransient(err, l.Meta().Name, "session", "read device")
		}
	}
}
