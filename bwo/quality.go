package bwo

import "github.com/offlinefirst/synccore/model"

// shouldDeferSync reports whether a task at the given priority should be
// deferred rather than admitted, per spec section 4.B: never for critical
// priority, and otherwise when quality is poor and priority
// is below high, or the connection is expensive/constrained and priority is
// below normal.
func shouldDeferSync(q model.NetworkQuality, priority model.Priority) bool {
	if priority >= model.PriorityCritical {
		return false
	}
	if q.SignalStrength == model.SignalPoor && priority < model.PriorityHigh {
		return true
	}
	if (q.IsExpensive || q.IsConstrained) && priority < model.PriorityNormal {
		return true
	}
	return false
}

// eligible reports whether a task of the given size is a candidate for
// admission under q, per spec section 4.B's admission policy clause (a)/(b).
func eligible(q model.NetworkQuality, size int64, largeFileThreshold int64, wifiOnlyForLargeFiles bool) bool {
	if q.SignalStrength == model.SignalUnknown {
		return false
	}
	if size > largeFileThreshold && wifiOnlyForLargeFiles {
		return q.ConnectionType == model.ConnectionWiFi || q.ConnectionType == model.ConnectionEthernet
	}
	return true
}

// concurrencyCap returns the maximum number of concurrently active
// transfers for the current quality band: maxConcurrentTransfers at fair or
// better, halved (minimum 1) on poor, and halved identically when unknown
// since unknown admits nothing but callers still need a well-defined cap.
func concurrencyCap(q model.NetworkQuality, maxConcurrentTransfers int) int {
	if q.SignalStrength == model.SignalPoor || q.SignalStrength == model.SignalUnknown {
		cap := maxConcurrentTransfers / 2
		if cap < 1 {
			cap = 1
		}
		return cap
	}
	return maxConcurrentTransfers
}
