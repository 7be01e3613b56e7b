// Package bluecats provides the BlueCats edge relay listener.
//
// Edge relays send one JSON object per advertisement:
//
//	{"edgeMAC":"a0b1c2d3e4f5","beaconMAC":"fee150bada55","rssiSmooth":-62,"adData":"0201050c09..."}
//
// The listener rebuilds each report as a reel RadioSignal decoded at offset
// 0, with the advertiser address in over-the-air byte order and the RSSI
// shifted by 100 into the reel's raw range. Each edge relay is announced as
// a receiver when first seen and every AnnounceInterval after, with a device
// count equal to its order of appearance. Reports missing a field are
// dropped.
package bluecats
