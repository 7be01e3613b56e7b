package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/config"
	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/input"
	"github.com/reelyactive/barnowl/input/inputtest"
)

func TestPublish_NotStarted(t *testing.T) {
	l := NewListener(config.ListenerConfig{}, inputtest.NewRecorder(), component.Dependencies{})
	err := l.Publish(context.Background(), []byte{0xaa}, "", time.Time{})
	assert.ErrorIs(t, err, errors.ErrNotStarted)
}

func TestPublish_Relays(t *testing.T) {
	rec := inputtest.NewRecorder()
	l := NewListener(config.ListenerConfig{}, rec, component.Dependencies{})
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop(time.Second) })

	ts := time.Unix(1_700_000_000, 0)
	ctx := context.Background()
	require.NoError(t, l.Publish(ctx, []byte{0xaa, 0xaa}, "", ts))
	require.NoError(t, l.Publish(ctx, []byte{0x04}, "reel-7", time.Time{}))

	require.True(t, rec.WaitFor(2*time.Second, func(r *inputtest.Recorder) bool { return len(r.Chunks()) == 2 }))
	chunks := rec.Chunks()

	assert.Equal(t, DefaultOrigin, chunks[0].Origin)
	assert.Equal(t, ts, chunks[0].Time)
	assert.Equal(t, "reel-7", chunks[1].Origin)
	assert.False(t, chunks[1].Time.IsZero())
}

func TestPublish_CustomOrigin(t *testing.T) {
	rec := inputtest.NewRecorder()
	l := NewListener(config.ListenerConfig{Origin: "lab"}, rec, component.Dependencies{})
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop(time.Second) })

	require.NoError(t, l.Publish(context.Background(), []byte{0x01}, "", time.Time{}))
	require.True(t, rec.WaitFor(2*time.Second, func(r *inputtest.Recorder) bool { return len(r.Bytes("lab")) == 1 }))
}

func TestPublish_CopiesData(t *testing.T) {
	rec := inputtest.NewRecorder()
	l := NewListener(config.ListenerConfig{}, rec, component.Dependencies{})
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop(time.Second) })

	data := []byte{0x01, 0x02}
	require.NoError(t, l.Publish(context.Background(), data, "", time.Time{}))
	data[0] = 0xff

	require.True(t, rec.WaitFor(2*time.Second, func(r *inputtest.Recorder) bool { return len(r.Chunks()) == 1 }))
	assert.Equal(t, []byte{0x01, 0x02}, rec.Chunks()[0].Data)
}

func TestRegistry_Create(t *testing.T) {
	registry := input.NewRegistry()
	require.NoError(t, Register(registry))

	l, err := registry.Create(config.ListenerConfig{Type: config.ListenerEvent, Name: "embedded"},
		inputtest.NewRecorder(), component.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, "embedded", l.Meta().Name)
	_, ok := l.(*Listener)
	assert.True(t, ok)
}
