// Package hci provides the Bluetooth HCI listener.
//
// On Linux the listener opens a raw HCI socket on the configured adapter,
// filters it down to command complete, command status and LE meta events,
// and turns on active scanning. Each LE advertising report becomes a reel
// RadioSignal decoded at offset 0: the payload is the advertising PDU
// header, the advertiser address and the EIR data, and the report's signed
// RSSI is shifted by 128 into the raw range.
//
// The listener also reads the adapter's own address and emits a
// ReelAnnounce for it with a device count of 0, so decodings resolve to the
// adapter as receiver. The origin is "hci", or "hci-<path>" when a device
// path is configured.
//
// Opening the socket needs CAP_NET_RAW and CAP_NET_ADMIN.
package hci
