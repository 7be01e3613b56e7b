package bluecats

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/config"
	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/input"
	"github.com/reelyactive/barnowl/input/udp"
	"github.com/reelyactive/barnowl/reel"
)

// AnnounceInterval is how often each edge relay is re-announced
const AnnounceInterval = 15 * time.Second

const (
	rssiOffset = 100
	// random TxAdd, ADV_IND
	advHeader = 0x40
)

// Report is one advertisement as forwarded by an edge relay
type Report struct {
	EdgeMAC    string   `json:"edgeMAC"`
	BeaconMAC  string   `json:"beaconMAC"`
	RSSISmooth *float64 `json:"rssiSmooth"`
	AdData     string   `json:"adData"`
}

// Translator converts edge relay reports into reel frames. Each new edge is
// given the next device count, in order of first appearance.
type Translator struct {
	mu           sync.Mutex
	edges        map[string]int
	lastAnnounce map[string]time.Time
}

// NewTranslator creates a translator with no known edges
func NewTranslator() *Translator {
	return &Translator{
		edges:        make(map[string]int),
		lastAnnounce: make(map[string]time.Time),
	}
}

// Translate parses a datagram and returns the frames to emit: an announce
// when the edge is new or due, then the radio signal.
func (t *Translator) Translate(_ string, datagram []byte, now time.Time) ([][]byte, error) {
	var report Report
	if err := json.Unmarshal(datagram, &report); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	if report.EdgeMAC == "" || report.BeaconMAC == "" || report.RSSISmooth == nil || report.AdData == "" {
		return nil, fmt.Errorf("%w: incomplete BlueCats report", errors.ErrInvalidData)
	}

	signal, err := radioSignal(report)
	if err != nil {
		return nil, err
	}

	var frames [][]byte
	if announce, err := t.announce(strings.ToLower(report.EdgeMAC), now); err != nil {
		return nil, err
	} else if announce != nil {
		frames = append(frames, announce)
	}
	return append(frames, signal), nil
}

func (t *Translator) announce(edge string, now time.Time) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	index, known := t.edges[edge]
	if !known {
		index = len(t.edges)
	}
	if last, ok := t.lastAnnounce[edge]; ok && now.Sub(last) <= AnnounceInterval {
		return nil, nil
	}

	frame, err := input.AnnounceFrame(index, edge)
	if err != nil {
		return nil, err
	}
	t.edges[edge] = index
	t.lastAnnounce[edge] = now
	return frame, nil
}

// radioSignal builds the reel RadioSignal for one report, decoded at offset 0
func radioSignal(r Report) ([]byte, error) {
	address, err := hex.DecodeString(strings.ReplaceAll(r.BeaconMAC, ":", ""))
	if err != nil || len(address) != 6 {
		return nil, fmt.Errorf("%w: beacon MAC %q", errors.ErrInvalidData, r.BeaconMAC)
	}
	adData, err := hex.DecodeString(r.AdData)
	if err != nil {
		return nil, fmt.Errorf("%w: adData: %v", errors.ErrParsingFailed, err)
	}

	payload := make([]byte, 0, 2+len(address)+len(adData))
	payload = append(payload, advHeader, byte(len(adData)+len(address)))
	for i := len(address) - 1; i >= 0; i-- {
		payload = append(payload, address[i])
	}
	payload = append(payload, adData...)

	raw := byte(int(math.Round(*r.RSSISmooth)) + rssiOffset)
	return reel.EncodeRadioSignal(payload, []reel.Decoding{{Offset: 0, RSSI: reel.DecodeRSSI(raw)}})
}

// New creates a BlueCats listener. cfg.Path is the bind address.
func New(cfg config.ListenerConfig, handler input.Handler, deps component.Dependencies) (input.Listener, error) {
	address := cfg.Path
	if address == "" {
		address = udp.DefaultAddress
	}
	l, err := udp.NewListener(udp.Options{
		Name:        cfg.Name,
		Kind:        config.ListenerBlueCats,
		Description: "BlueCats edge relay listener on " + address,
		Address:     address,
		Reconnect:   cfg.Reconnect,
		Transform:   NewTranslator().Translate,
	}, handler, deps)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Register adds the BlueCats listener factory to registry
func Register(registry *input.Registry) error {
	return registry.Register(config.ListenerBlueCats, New)
}
