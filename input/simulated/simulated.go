package simulated

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/config"
	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/identifier"
	"github.com/reelyactive/barnowl/input"
	"github.com/reelyactive/barnowl/reel"
)

// Defaults
const (
	DefaultOrigin   = "test"
	DefaultInterval = time.Second

	// StatisticsEvery is the number of intervals between statistics rounds
	StatisticsEvery = 60

	maxRawRSSI = 18
)

// Receivers are the simulated reel's receivers ordered by offset from the
// far end.
var Receivers = []string{"00800000", "00810000", "00800001", "00810001"}

var (
	shortPayload = []byte{0x01, 0x00, 0x00, 0x00}
	// ADV_NONCONN_IND from 0xfee150baba1655 with flags and the name "reelyActive"
	namedPayload = []byte{
		0x42, 0x16, 0x55, 0xda, 0xba, 0x50, 0xe1, 0xfe,
		0x02, 0x01, 0x05, 0x0c, 0x09, 0x72, 0x65, 0x65,
		0x6c, 0x79, 0x41, 0x63, 0x74, 0x69, 0x76, 0x65,
	}
)

// Listener emits two radio signals per interval, each decoded by two of
// the four receivers, plus announces and statistics so the reel topology
// resolves.
type Listener struct {
	*input.Base

	origin   string
	interval time.Duration

	mu   sync.Mutex
	rng  *rand.Rand
	rssi [4]int
}

// New creates a simulated listener. cfg.Interval sets the signal period.
func New(cfg config.ListenerConfig, handler input.Handler, deps component.Dependencies) (input.Listener, error) {
	name := cfg.Name
	if name == "" {
		name = "simulated"
	}
	origin := cfg.Origin
	if origin == "" {
		origin = DefaultOrigin
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Listener{
		Base:     input.NewBase(name, config.ListenerSimulated, "Simulated four-receiver reel", handler, deps.GetLogger()),
		origin:   origin,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Register adds the simulated listener factory to registry
func Register(registry *input.Registry) error {
	return registry.Register(config.ListenerSimulated, New)
}

// Start emits the reel's announces and statistics, then runs the signal
// ticker
func (l *Listener) Start(ctx context.Context) error {
	if l.Running() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, l.Meta().Name, "Start", "check running")
	}

	l.SetConnected(true)
	l.Go(ctx, l.run)
	return nil
}

func (l *Listener) run(ctx context.Context) {
	l.emitAll(ctx, l.housekeeping())

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ticks++
			l.emitAll(ctx, l.signals())
			if ticks%StatisticsEvery == 0 {
				l.emitAll(ctx, l.housekeeping())
			}
		}
	}
}

func (l *Listener) emitAll(ctx context.Context, frames [][]byte) {
	for _, frame := range frames {
		if err := l.Emit(ctx, l.origin, frame, time.Time{}); err != nil {
			if ctx.Err() == nil {
				l.Logger().Debug("Handler rejected simulated frame", "error", err)
			}
			return
		}
	}
}

// walk moves each receiver's raw RSSI by -2..+2, bounded to the simulated
// range
func (l *Listener) walk() [4]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.rssi {
		v := l.rssi[i] + l.rng.Intn(5) - 2
		if v < 0 {
			v = 0
		}
		if v > maxRawRSSI {
			v = maxRawRSSI
		}
		l.rssi[i] = v
	}
	return l.rssi
}

// signals builds the frames for one interval
func (l *Listener) signals() [][]byte {
	raw := l.walk()
	decoding := func(offset int) reel.Decoding {
		return reel.Decoding{Offset: offset, RSSI: reel.DecodeRSSI(byte(raw[offset]))}
	}

	var frames [][]byte
	if f, err := reel.EncodeRadioSignal(shortPayload, []reel.Decoding{decoding(0), decoding(2)}); err == nil {
		frames = append(frames, f)
	}
	if f, err := reel.EncodeRadioSignal(namedPayload, []reel.Decoding{decoding(1), decoding(3)}); err == nil {
		frames = append(frames, f)
	}
	return frames
}

// housekeeping builds one announce and one statistics frame per receiver.
// The receiver at offset o announces a device count of 3-o.
func (l *Listener) housekeeping() [][]byte {
	var frames [][]byte
	last := len(Receivers) - 1
	for offset, hex := range Receivers {
		id, err := identifier.FromHex(identifier.RA28, hex)
		if err != nil {
			continue
		}
		if f, err := reel.EncodeReelAnnounce(last-offset, id, [reel.NonceLength]byte{}); err == nil {
			frames = append(frames, f)
		}
		stats := &reel.ReceiverStatistics{
			Receiver:     id,
			Offset:       offset,
			RSSIMax:      reel.DecodeRSSI(0),
			RSSIAvg:      reel.DecodeRSSI(0),
			RSSIMin:      reel.DecodeRSSI(0),
			Temperature:  0,
			RadioVoltage: 1.8 + 51.0/34,
		}
		if f, err := reel.EncodeReceiverStatistics(stats); err == nil {
			frames = append(frames, f)
		}
	}
	return frames
}
