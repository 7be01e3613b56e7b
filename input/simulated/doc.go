// Package simulated provides a listener that needs no hardware.
//
// It behaves like a reel of four receivers (RA-28 00800000, 00810000,
// 00800001 and 00810001) behind a hub. Every interval (default 1s) it emits
// two RadioSignal frames: a short payload decoded at offsets 0 and 2, and a
// reelyActive-named advertisement decoded at offsets 1 and 3. Raw RSSI
// bytes random-walk in [0, 18].
//
// At start, and every StatisticsEvery intervals, it emits a ReelAnnounce
// and a ReceiverStatistics frame per receiver so the topology manager can
// resolve offsets to receiver identifiers.
package simulated
