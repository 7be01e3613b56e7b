package serial

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/config"
	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/input/inputtest"
	"github.com/reelyactive/barnowl/pkg/retry"
)

// fakeDevice hands out pipes in place of a tty
type fakeDevice struct {
	mu      sync.Mutex
	writers []*io.PipeWriter
	fail    int
	opened  chan int
	baud    int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{opened: make(chan int, 8)}
}

func (d *fakeDevice) open(_ string, baud int) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baud = baud
	if d.fail > 0 {
		d.fail--
		return nil, fmt.Errorf("no such device")
	}
	r, w := io.Pipe()
	d.writers = append(d.writers, w)
	d.opened <- len(d.writers)
	return r, nil
}

func (d *fakeDevice) writer(i int) *io.PipeWriter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writers[i]
}

func newListener(t *testing.T, dev *fakeDevice) (*Listener, *inputtest.Recorder) {
	t.Helper()
	rec := inputtest.NewRecorder()
	l, err := New(config.ListenerConfig{
		Type:      config.ListenerSerial,
		Name:      "reel-0",
		Path:      "/dev/ttyUSB0",
		Reconnect: retry.Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
	}, rec, component.Dependencies{})
	require.NoError(t, err)

	listener := l.(*Listener)
	listener.open = dev.open
	t.Cleanup(func() { _ = listener.Stop(time.Second) })
	return listener, rec
}

func waitOpened(t *testing.T, dev *fakeDevice) {
	t.Helper()
	select {
	case <-dev.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("device not opened")
	}
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(config.ListenerConfig{Type: config.ListenerSerial}, inputtest.NewRecorder(), component.Dependencies{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestNew_Defaults(t *testing.T) {
	l, err := New(config.ListenerConfig{Type: config.ListenerSerial, Path: "/dev/ttyUSB1"},
		inputtest.NewRecorder(), component.Dependencies{})
	require.NoError(t, err)

	listener := l.(*Listener)
	assert.Equal(t, DefaultBaud, listener.baud)
	assert.Equal(t, "/dev/ttyUSB1", listener.origin)
	assert.Equal(t, "serial", listener.Meta().Name)
}

func TestListener_ReadsChunks(t *testing.T) {
	dev := newFakeDevice()
	listener, rec := newListener(t, dev)

	require.NoError(t, listener.Start(context.Background()))
	waitOpened(t, dev)
	assert.Equal(t, DefaultBaud, dev.baud)

	w := dev.writer(0)
	_, err := w.Write([]byte{0xaa, 0xaa})
	require.NoError(t, err)
	_, err = w.Write([]byte{0x04, 0x02})
	require.NoError(t, err)

	require.True(t, rec.WaitFor(2*time.Second, func(r *inputtest.Recorder) bool {
		return len(r.Bytes("/dev/ttyUSB0")) == 4
	}))
	assert.Equal(t, []byte{0xaa, 0xaa, 0x04, 0x02}, rec.Bytes("/dev/ttyUSB0"))
	assert.True(t, listener.Health().Healthy)
}

func TestListener_ReopensAfterUnplug(t *testing.T) {
	dev := newFakeDevice()
	listener, rec := newListener(t, dev)

	require.NoError(t, listener.Start(context.Background()))
	waitOpened(t, dev)

	require.NoError(t, dev.writer(0).Close())
	waitOpened(t, dev)

	failures := rec.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "/dev/ttyUSB0", failures[0].Origin)
	assert.ErrorIs(t, failures[0].Err, errors.ErrDeviceClosed)

	_, err := dev.writer(1).Write([]byte{0xaa})
	require.NoError(t, err)
	assert.True(t, rec.WaitFor(2*time.Second, func(r *inputtest.Recorder) bool {
		return len(r.Bytes("/dev/ttyUSB0")) == 1
	}))
}

func TestListener_RetriesOpen(t *testing.T) {
	dev := newFakeDevice()
	dev.fail = 2
	listener, rec := newListener(t, dev)

	require.NoError(t, listener.Start(context.Background()))
	waitOpened(t, dev)

	assert.Len(t, rec.Failures(), 2)
	assert.Eventually(t, func() bool { return listener.Health().Healthy }, time.Second, 5*time.Millisecond)
}

func TestListener_StopClosesDevice(t *testing.T) {
	dev := newFakeDevice()
	listener, _ := newListener(t, dev)

	require.NoError(t, listener.Start(context.Background()))
	waitOpened(t, dev)

	require.NoError(t, listener.Stop(time.Second))
	assert.False(t, listener.Health().Healthy)

	_, err := dev.writer(0).Write([]byte{0x01})
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
