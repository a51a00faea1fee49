package bwo

import "github.com/offlinefirst/synccore/model"

// chunkMultiplier and batchMultiplier implement spec section 4.B's adaptive
// chunking table, extended to the excellent/unknown bands introduced by
// model.Classify (see DESIGN.md).
var chunkMultiplier = map[model.SignalStrength]float64{
	model.SignalExcellent: 4,
	model.SignalGood:      2,
	model.SignalFair:      1,
	model.SignalPoor:      0.5,
	model.SignalUnknown:   1,
}

var batchMultiplier = map[model.SignalStrength]float64{
	model.SignalExcellent: 8,
	model.SignalGood:      4,
	model.SignalFair:      2,
	model.SignalPoor:      1,
	model.SignalUnknown:   0.5,
}

// optimalChunkSize returns baseChunk scaled by the current quality band's
// chunk multiplier.
func optimalChunkSize(baseChunk int, signal model.SignalStrength) int {
	return int(float64(baseChunk) * chunkMultiplier[signal])
}

// recommendedBatchSize returns baseChunk scaled by the current quality
// band's batch multiplier.
func recommendedBatchSize(baseChunk int, signal model.SignalStrength) int {
	return int(float64(baseChunk) * batchMultiplier[signal])
}
