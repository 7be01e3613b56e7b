package hci

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/config"
	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/input"
	"github.com/reelyactive/barnowl/reel"
)

// HCI packet and event codes
const (
	pktCommand = 0x01
	pktEvent   = 0x04

	evtCmdComplete   = 0x0e
	evtCmdStatus     = 0x0f
	evtLEMeta        = 0x3e
	evtLEAdvertising = 0x02

	ogfInfoParam = 0x04
	ogfLECtl     = 0x08

	cmdReadBDAddr        = 0x0009 | ogfInfoParam<<10
	cmdLESetScanParams   = 0x000b | ogfLECtl<<10
	cmdLESetScanEnable   = 0x000c | ogfLECtl<<10
	advReportHeaderBytes = 14
)

// advertising report event type to PDU type
var advTypes = [...]byte{0x0, 0x1, 0x6, 0x2, 0x4}

// Device is an open HCI socket. Read returns 0 bytes and no error when no
// packet arrived within the socket's poll interval.
type Device interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Opener opens the HCI device with the given index
type Opener func(index int) (Device, error)

// Listener scans for BLE advertisements on a local adapter and emits each
// as a RadioSignal decoded at offset 0. The adapter announces itself as a
// receiver using its own address.
type Listener struct {
	*input.Base

	index  int
	origin string
	cfg    config.ListenerConfig
	open   Opener
}

// New creates an HCI listener. cfg.Path selects the adapter ("hci1" or
// "1"); the default is hci0.
func New(cfg config.ListenerConfig, handler input.Handler, deps component.Dependencies) (input.Listener, error) {
	index, err := parseIndex(cfg.Path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "hci-listener", "New", "parse device")
	}

	name := cfg.Name
	if name == "" {
		name = config.ListenerHCI
	}
	origin := cfg.Origin
	if origin == "" {
		origin = "hci"
		if cfg.Path != "" {
			origin += "-" + cfg.Path
		}
	}

	return &Listener{
		Base:   input.NewBase(name, config.ListenerHCI, fmt.Sprintf("Bluetooth HCI listener on hci%d", index), handler, deps.GetLogger()),
		index:  index,
		origin: origin,
		cfg:    cfg,
		open:   OpenSocket,
	}, nil
}

// Register adds the HCI listener factory to registry
func Register(registry *input.Registry) error {
	return registry.Register(config.ListenerHCI, New)
}

func parseIndex(path string) (int, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(path, "/dev/"), "hci")
	if s == "" {
		return 0, nil
	}
	index, err := strconv.Atoi(s)
	if err != nil || index < 0 || index > 0xffff {
		return 0, fmt.Errorf("%w: HCI device %q", errors.ErrInvalidConfig, path)
	}
	return index, nil
}

// Start launches the scan loop. The adapter is opened inside the loop and
// reopened on failure.
func (l *Listener) Start(ctx context.Context) error {
	if l.Running() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, l.Meta().Name, "Start", "check running")
	}

	l.Go(ctx, func(ctx context.Context) {
		if err := l.Supervise(ctx, l.origin, l.cfg.Reconnect, l.session); err != nil {
			l.Logger().Error("HCI listener stopped", "device", l.index, "error", err)
		}
	})
	return nil
}

func (l *Listener) session(ctx context.Context) error {
	dev, err := l.open(l.index)
	if err != nil {
		return errors.WrapTransient(err, l.Meta().Name, "session", "open adapter")
	}
	defer dev.Close()

	for _, cmd := range [][]byte{
		ScanEnableCommand(false, true),
		ScanParametersCommand(),
		ScanEnableCommand(true, true),
		ReadBDAddrCommand(),
	} {
		if _, err := dev.Write(cmd); err != nil {
			return errors.WrapTransient(err, l.Meta().Name, "session", "configure scan")
		}
	}
	l.SetConnected(true)
	l.Logger().Info("HCI scan started", "device", l.index)

	buf := make([]byte, 1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := dev.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.WrapTransient(err, l.Meta().Name, "session", "read adapter")
		}
		if n == 0 {
			continue
		}

		frame, err := l.translate(buf[:n])
		if err != nil {
			l.Logger().Debug("HCI event ignored", "error", err)
			continue
		}
		if frame == nil {
			continue
		}
		if err := l.Emit(ctx, l.origin, frame, l.Now()); err != nil && ctx.Err() == nil {
			l.Logger().Debug("Handler rejected HCI frame", "error", err)
		}
	}
}

// translate turns one HCI event into the reel frame to emit, if any
func (l *Listener) translate(data []byte) ([]byte, error) {
	if address, ok := BDAddr(data); ok {
		l.Logger().Info("HCI adapter address", "address", address)
		return input.AnnounceFrame(0, address)
	}
	return AdvertisingReport(data)
}

// FilterBytes returns the socket filter passing command complete, command
// status and LE meta events.
func FilterBytes() []byte {
	filter := make([]byte, 14)
	binary.LittleEndian.PutUint32(filter[0:], 1<<pktEvent)
	binary.LittleEndian.PutUint32(filter[4:], 1<<evtCmdComplete|1<<evtCmdStatus)
	binary.LittleEndian.PutUint32(filter[8:], 1<<(evtLEMeta-32))
	return filter
}

func command(opcode uint16, params ...byte) []byte {
	cmd := make([]byte, 4, 4+len(params))
	cmd[0] = pktCommand
	binary.LittleEndian.PutUint16(cmd[1:], opcode)
	cmd[3] = byte(len(params))
	return append(cmd, params...)
}

// ScanParametersCommand sets active scanning with a 10ms interval and
// window, public own address and no filtering
func ScanParametersCommand() []byte {
	return command(cmdLESetScanParams, 0x01, 0x10, 0x00, 0x10, 0x00, 0x00, 0x00)
}

// ScanEnableCommand enables or disables scanning
func ScanEnableCommand(enabled, duplicates bool) []byte {
	return command(cmdLESetScanEnable, boolByte(enabled), boolByte(duplicates))
}

// ReadBDAddrCommand asks the adapter for its address
func ReadBDAddrCommand() []byte {
	return command(cmdReadBDAddr)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// BDAddr extracts the adapter address, most significant byte first, from a
// READ_BD_ADDR command complete event
func BDAddr(data []byte) (string, bool) {
	if len(data) < 13 || data[0] != pktEvent || data[1] != evtCmdComplete {
		return "", false
	}
	if binary.LittleEndian.Uint16(data[4:]) != cmdReadBDAddr || data[6] != 0 {
		return "", false
	}
	addr := make([]byte, 6)
	for i := range addr {
		addr[i] = data[12-i]
	}
	return hex.EncodeToString(addr), true
}

// AdvertisingReport converts the first report of an LE advertising report
// event into a RadioSignal frame. Other events yield nil.
func AdvertisingReport(data []byte) ([]byte, error) {
	if len(data) < 4 || data[0] != pktEvent || data[1] != evtLEMeta || data[3] != evtLEAdvertising {
		return nil, nil
	}
	if len(data) < advReportHeaderBytes+1 {
		return nil, fmt.Errorf("%w: advertising report of %d bytes", errors.ErrInvalidData, len(data))
	}

	eventType := data[5]
	addrType := data[6]
	eirLength := int(data[13])
	if int(eventType) >= len(advTypes) || addrType > 1 {
		return nil, fmt.Errorf("%w: event type %d address type %d", errors.ErrInvalidData, eventType, addrType)
	}
	if len(data) < advReportHeaderBytes+eirLength+1 {
		return nil, fmt.Errorf("%w: report truncated", errors.ErrInvalidData)
	}
	address := data[7:13]
	eir := data[advReportHeaderBytes : advReportHeaderBytes+eirLength]
	rssi := int8(data[advReportHeaderBytes+eirLength])

	payload := make([]byte, 0, 2+len(address)+len(eir))
	payload = append(payload, addrType<<6|advTypes[eventType], byte(len(address)+len(eir)))
	payload = append(payload, address...)
	payload = append(payload, eir...)

	raw := byte(int(rssi) + 128)
	return reel.EncodeRadioSignal(payload, []reel.Decoding{{Offset: 0, RSSI: reel.DecodeRSSI(raw)}})
}
