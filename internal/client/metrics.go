package client

import "time"

// Quality is the UI-facing classification of the latest latency sample.
type Quality int

const (
	QualityDisconnected Quality = iota
	QualityPoor
	QualityFair
	QualityGood
	QualityExcellent
)

func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	default:
		return "disconnected"
	}
}

// Classify maps a round-trip time onto a Quality. Samples are not smoothed.
func Classify(rtt time.Duration) Quality {
	switch {
	case rtt < 50*time.Millisecond:
		return QualityExcellent
	case rtt < 150*time.Millisecond:
		return QualityGood
	case rtt < 300*time.Millisecond:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Metrics is a read-only snapshot. It lives as long as the Supervisor, so
// counters span every connect/disconnect cycle.
type Metrics struct {
	LatencyMs         int64
	Quality           Quality
	ReconnectAttempts uint64
	TotalMessagesSent uint64
	ErrorCount        uint64
}
