//go:build linux

package hci

import (
	stderrors "errors"

	"golang.org/x/sys/unix"
)

// Linux HCI socket options not exported by x/sys/unix
const (
	solHCI        = 0
	hciFilter     = 2
	hciChannelRaw = 0
	pollInterval  = 100_000 // microseconds
)

type socket struct {
	fd int
}

// OpenSocket opens a raw HCI socket on adapter index with the event filter
// installed
func OpenSocket(index int) (Device, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return nil, err
	}
	s := &socket{fd: fd}

	if err := unix.Bind(fd, &unix.SockaddrHCI{Dev: uint16(index), Channel: hciChannelRaw}); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := unix.SetsockoptString(fd, solHCI, hciFilter, string(FilterBytes())); err != nil {
		_ = s.Close()
		return nil, err
	}
	tv := unix.Timeval{Usec: pollInterval}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *socket) Read(p []byte) (int, error) {
	n, err := unix.Read(s.fd, p)
	if err != nil {
		if stderrors.Is(err, unix.EAGAIN) || stderrors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (s *socket) Write(p []byte) (int, error) {
	return unix.Write(s.fd, p)
}

func (s *socket) Close() error {
	return unix.Close(s.fd)
}
