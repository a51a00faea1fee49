package model

// ConnectionType identifies the transport the device is currently using.
type ConnectionType string

// ConnectionType values, per spec section 3.
const (
	ConnectionWiFi     ConnectionType = "wifi"
	ConnectionCellular ConnectionType = "cellular"
	ConnectionEthernet ConnectionType = "ethernet"
	ConnectionUnknown  ConnectionType = "unknown"
)

// SignalStrength is the ordered quality band the bandwidth optimizer keys
// its admission and adaptive-chunking tables on: unknown < poor < fair <
// good < excellent.
type SignalStrength int

// SignalStrength values, ordered for direct integer comparison.
const (
	SignalUnknown SignalStrength = iota
	SignalPoor
	SignalFair
	SignalGood
	SignalExcellent
)

// PathEvent is emitted by the Network Path Observer (section 6) whenever
// the OS-reported connection changes.
type PathEvent struct {
	ConnectionType ConnectionType
	IsExpensive    bool
	IsConstrained  bool
}

// NetworkQuality is a point-in-time snapshot of observed network
// conditions. SignalStrength is populated by Classify from the measured
// figures below; it is never set independently by a caller.
type NetworkQuality struct {
	ConnectionType     ConnectionType
	IsExpensive        bool
	IsConstrained      bool
	EstimatedBandwidth float64 // bytes/sec
	Latency            float64 // seconds
	PacketLoss         float64 // fraction in [0, 1]
	SignalStrength     SignalStrength
}

// Quality classification thresholds. The "good" and "fair" bands are fixed
// exactly by spec section 3; "excellent" extends that table with a top
// band for the adaptive-chunking multiplier of 4x (section 4.B), since the
// spec's three-band classifier alone cannot drive a five-way chunk-size
// table. See DESIGN.md's networkquality resolution.
const (
	excellentBandwidth = 5 << 20 // 5 MB/s
	excellentLatency   = 0.050   // 50ms
	excellentLoss      = 0.005   // 0.5%

	goodBandwidth = 1 << 20 // 1 MB/s
	goodLatency   = 0.100   // 100ms
	goodLoss      = 0.01    // 1%

	fairBandwidth = 100 << 10 // 100 KB/s
	fairLatency   = 0.500     // 500ms
	fairLoss      = 0.05      // 5%
)

// Classify derives q.SignalStrength from the measured bandwidth, latency,
// and packet loss, per spec section 3's banding rules (extended with an
// "excellent" top band, see DESIGN.md). If ConnectionType is unknown or
// unset, SignalStrength is forced to SignalUnknown regardless of the
// measured figures.
func Classify(q NetworkQuality) NetworkQuality {
	if q.ConnectionType == ConnectionUnknown || q.ConnectionType == "" {
		q.SignalStrength = SignalUnknown
		return q
	}
	switch {
	case q.EstimatedBandwidth > excellentBandwidth && q.Latency < excellentLatency && q.PacketLoss < excellentLoss:
		q.SignalStrength = SignalExcellent
	case q.EstimatedBandwidth > goodBandwidth && q.Latency < goodLatency && q.PacketLoss < goodLoss:
		q.SignalStrength = SignalGood
	case q.EstimatedBandwidth > fairBandwidth && q.Latency < fairLatency && q.PacketLoss < fairLoss:
		q.SignalStrength = SignalFair
	default:
		q.SignalStrength = SignalPoor
	}
	return q
}
