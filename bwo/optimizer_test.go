package bwo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/offlinefirst/synccore/bwo"
	"github.com/offlinefirst/synccore/model"
)

func goodQuality() model.NetworkQuality {
	return model.NetworkQuality{
		ConnectionType:     model.ConnectionWiFi,
		EstimatedBandwidth: 2 << 20,
		Latency:            0.05,
		PacketLoss:         0.001,
	}
}

func TestLargeFileRequiresWifi(t *testing.T) {
	ctx := context.Background()
	o := bwo.New(zap.NewNop(), bwo.Config{LargeFileThreshold: 1024, WifiOnlyForLargeFiles: true})
	o.OnPathChange(ctx, model.NetworkQuality{
		ConnectionType:     model.ConnectionCellular,
		EstimatedBandwidth: 2 << 20,
		Latency:            0.05,
		PacketLoss:         0.001,
	})

	id, err := o.Enqueue(ctx, model.TransferTask{Type: model.TransferUpload, Size: 4096, Priority: model.PriorityNormal})
	require.NoError(t, err)

	var snapshot []*model.TransferTask
	o.ObserveTransfers(func(tasks []*model.TransferTask) { snapshot = tasks })
	o.OnPathChange(ctx, model.NetworkQuality{
		ConnectionType:     model.ConnectionCellular,
		EstimatedBandwidth: 2 << 20,
		Latency:            0.05,
		PacketLoss:         0.001,
	})

	found := false
	for _, task := range snapshot {
		if task.TaskID == id {
			found = true
			require.Equal(t, model.TransferPaused, task.Status, "large file on cellular with wifi-only gating must pause, never activate")
		}
	}
	require.True(t, found)
}

// TestLargeFileResumesOnWifi covers S6's second half: once the path changes
// back to wifi, a paused large-file task is promoted queued -> active.
func TestLargeFileResumesOnWifi(t *testing.T) {
	ctx := context.Background()
	o := bwo.New(zap.NewNop(), bwo.Config{LargeFileThreshold: 1024, WifiOnlyForLargeFiles: true})
	o.OnPathChange(ctx, model.NetworkQuality{
		ConnectionType:     model.ConnectionCellular,
		EstimatedBandwidth: 2 << 20,
		Latency:            0.05,
		PacketLoss:         0.001,
	})

	id, err := o.Enqueue(ctx, model.TransferTask{Type: model.TransferUpload, Size: 4096, Priority: model.PriorityNormal})
	require.NoError(t, err)

	o.OnPathChange(ctx, model.NetworkQuality{
		ConnectionType:     model.ConnectionCellular,
		EstimatedBandwidth: 2 << 20,
		Latency:            0.05,
		PacketLoss:         0.001,
	})

	var snapshot []*model.TransferTask
	o.ObserveTransfers(func(tasks []*model.TransferTask) { snapshot = tasks })
	o.OnPathChange(ctx, goodQuality())

	found := false
	for _, task := range snapshot {
		if task.TaskID == id {
			found = true
			require.Equal(t, model.TransferActive, task.Status, "task must resume once connection satisfies wifi-only gating")
		}
	}
	require.True(t, found)
}

func TestPriorityOrdersAdmission(t *testing.T) {
	ctx := context.Background()
	o := bwo.New(zap.NewNop(), bwo.Config{MaxConcurrentTransfers: 1})
	// Both tasks are enqueued while the network is still unknown, so neither
	// is admitted until the path change below promotes the higher priority.

	lowID, err := o.Enqueue(ctx, model.TransferTask{Type: model.TransferUpload, Size: 10, Priority: model.PriorityLow})
	require.NoError(t, err)
	highID, err := o.Enqueue(ctx, model.TransferTask{Type: model.TransferUpload, Size: 10, Priority: model.PriorityCritical})
	require.NoError(t, err)

	var snapshot []*model.TransferTask
	o.ObserveTransfers(func(tasks []*model.TransferTask) { snapshot = tasks })
	o.OnPathChange(ctx, goodQuality())

	statuses := map[model.Priority]model.TransferStatus{}
	for _, task := range snapshot {
		if task.TaskID == highID {
			statuses[model.PriorityCritical] = task.Status
		}
		if task.TaskID == lowID {
			statuses[model.PriorityLow] = task.Status
		}
	}
	require.Equal(t, model.TransferActive, statuses[model.PriorityCritical])
	require.Equal(t, model.TransferQueued, statuses[model.PriorityLow])
}

func TestShouldDeferSyncOnPoorQuality(t *testing.T) {
	ctx := context.Background()
	o := bwo.New(zap.NewNop(), bwo.Config{})
	o.OnPathChange(ctx, model.NetworkQuality{
		ConnectionType:     model.ConnectionCellular,
		EstimatedBandwidth: 10 << 10,
		Latency:            1,
		PacketLoss:         0.2,
	})
	require.True(t, o.ShouldDeferSync(model.PriorityNormal))
	require.False(t, o.ShouldDeferSync(model.PriorityCritical))
}

func TestAdaptiveChunkSizeScalesWithQuality(t *testing.T) {
	ctx := context.Background()
	o := bwo.New(zap.NewNop(), bwo.Config{BaseChunkSize: 1024})
	o.OnPathChange(ctx, model.NetworkQuality{
		ConnectionType:     model.ConnectionEthernet,
		EstimatedBandwidth: 10 << 20,
		Latency:            0.01,
		PacketLoss:         0,
	})
	require.Equal(t, 4096, o.OptimalChunkSize())
	require.Equal(t, 8192, o.RecommendedBatchSize())
}
