package input

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/identifier"
	"github.com/reelyactive/barnowl/reel"
)

// ReceiverFromMAC derives the RA-28 receiver identifier a non-reel receiver
// announces itself as: the low four bytes of its 48-bit address with the
// reserved top nibble cleared.
func ReceiverFromMAC(mac string) (identifier.Identifier, error) {
	mac = strings.ToLower(strings.ReplaceAll(mac, ":", ""))
	if len(mac) != 12 {
		return identifier.None, fmt.Errorf("%w: MAC address %q", errors.ErrInvalidData, mac)
	}
	raw, err := hex.DecodeString(mac[4:])
	if err != nil {
		return identifier.None, fmt.Errorf("%w: MAC address %q: %v", errors.ErrParsingFailed, mac, err)
	}
	raw[0] &= 0x0f
	return identifier.New(identifier.RA28, raw)
}

// AnnounceFrame builds the synthetic ReelAnnounce a non-reel receiver
// emits so the topology manager can place it at deviceCount.
func AnnounceFrame(deviceCount int, mac string) ([]byte, error) {
	id, err := ReceiverFromMAC(mac)
	if err != nil {
		return nil, err
	}
	return reel.EncodeReelAnnounce(deviceCount, id, [reel.NonceLength]byte{})
}
