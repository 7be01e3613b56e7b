//go:build !linux

package hci

import (
	"fmt"

	"github.com/reelyactive/barnowl/errors"
)

// OpenSocket is only available on Linux
func OpenSocket(int) (Device, error) {
	return nil, errors.WrapFatal(fmt.Errorf("raw HCI sockets require Linux"), "hci-listener", "OpenSocket", "open adapter")
}
