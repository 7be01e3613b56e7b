package bluecats

import (
	"context"
	"encoding/hex"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/config"
	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/input"
	"github.com/reelyactive/barnowl/input/inputtest"
	"github.com/reelyactive/barnowl/input/udp"
	"github.com/reelyactive/barnowl/reel"
)

const report = `{"edgeMAC":"A0B1C2D3E4F5","beaconMAC":"fee150bada55","rssiSmooth":-62,"adData":"02010504ff0d0001"}`

func TestTranslate_RadioSignal(t *testing.T) {
	tr := NewTranslator()
	frames, err := tr.Translate("10.0.0.5:50000", []byte(report), time.Now())
	require.NoError(t, err)
	require.Len(t, frames, 2)

	assert.Equal(t, "aaaa7000"+"02d3e4f5"+"00000000000000000000000000000000", hex.EncodeToString(frames[0]))

	// payload: header 40, length 0e, reversed address, adData; then offset 0, raw rssi 38
	assert.Equal(t, "aaaa1001"+"400e"+"55daba50e1fe"+"02010504ff0d0001"+"0026", hex.EncodeToString(frames[1]))

	pkt, _, err := reel.Decode(frames[1], "10.0.0.5:50000", time.Now())
	require.NoError(t, err)
	sig := pkt.(*reel.RadioSignal)
	require.Len(t, sig.Decodings, 1)
	assert.Equal(t, reel.DecodeRSSI(38), sig.Decodings[0].RSSI)
}

func TestTranslate_AnnounceSchedule(t *testing.T) {
	tr := NewTranslator()
	start := time.Unix(1_700_000_000, 0)

	frames, err := tr.Translate("", []byte(report), start)
	require.NoError(t, err)
	assert.Len(t, frames, 2)

	frames, err = tr.Translate("", []byte(report), start.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, frames, 1, "no announce inside the interval")

	frames, err = tr.Translate("", []byte(report), start.Add(AnnounceInterval+time.Second))
	require.NoError(t, err)
	assert.Len(t, frames, 2, "announce repeats after the interval")
}

func TestTranslate_EdgesNumberedInOrder(t *testing.T) {
	tr := NewTranslator()
	now := time.Now()

	_, err := tr.Translate("", []byte(report), now)
	require.NoError(t, err)

	second := `{"edgeMAC":"a0b1c2000001","beaconMAC":"fee150bada55","rssiSmooth":-70,"adData":"020105"}`
	frames, err := tr.Translate("", []byte(second), now)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	pkt, _, err := reel.Decode(frames[0], "", now)
	require.NoError(t, err)
	announce := pkt.(*reel.ReelAnnounce)
	assert.Equal(t, 1, announce.DeviceCount)
	assert.Equal(t, "2000001", announce.Receiver.Hex())
}

func TestTranslate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"not json", `edgeMAC=1`, errors.ErrParsingFailed},
		{"missing rssi", `{"edgeMAC":"a0b1c2d3e4f5","beaconMAC":"fee150bada55","adData":"020105"}`, errors.ErrInvalidData},
		{"missing adData", `{"edgeMAC":"a0b1c2d3e4f5","beaconMAC":"fee150bada55","rssiSmooth":-50}`, errors.ErrInvalidData},
		{"short beacon", `{"edgeMAC":"a0b1c2d3e4f5","beaconMAC":"fee150","rssiSmooth":-50,"adData":"020105"}`, errors.ErrInvalidData},
		{"bad adData", `{"edgeMAC":"a0b1c2d3e4f5","beaconMAC":"fee150bada55","rssiSmooth":-50,"adData":"zz"}`, errors.ErrParsingFailed},
		{"short edge", `{"edgeMAC":"a0b1","beaconMAC":"fee150bada55","rssiSmooth":-50,"adData":"020105"}`, errors.ErrInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTranslator().Translate("", []byte(tt.data), time.Now())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestListener_EndToEnd(t *testing.T) {
	rec := inputtest.NewRecorder()
	l, err := New(config.ListenerConfig{Type: config.ListenerBlueCats, Path: "127.0.0.1:0"}, rec, component.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, config.ListenerBlueCats, l.Meta().Name)

	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop(time.Second) })

	conn, err := net.Dial("udp", l.(*udp.Listener).Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("garbage"))
	require.NoError(t, err)
	_, err = conn.Write([]byte(report))
	require.NoError(t, err)

	require.True(t, rec.WaitFor(2*time.Second, func(r *inputtest.Recorder) bool { return len(r.Chunks()) == 2 }))

	origin := conn.LocalAddr().String()
	packets, errs := reel.NewFramer().Submit(origin, rec.Bytes(origin), time.Now())
	assert.Empty(t, errs)
	require.Len(t, packets, 2)
	assert.Equal(t, reel.KindReelAnnounce, packets[0].Kind())
	assert.Equal(t, reel.KindRadioSignal, packets[1].Kind())
}

func TestRegister(t *testing.T) {
	registry := input.NewRegistry()
	require.NoError(t, Register(registry))
	assert.Equal(t, []string{config.ListenerBlueCats}, registry.Types())
}
