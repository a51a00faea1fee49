// Package orchestrator wires the Retry Queue, Bandwidth Optimizer, and
// Optimistic Update Manager into the pull driver and online/offline
// supervisor described in spec section 4.E.
package orchestrator

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"github.com/offlinefirst/synccore/bwo"
	"github.com/offlinefirst/synccore/model"
	"github.com/offlinefirst/synccore/oum"
	"github.com/offlinefirst/synccore/retryqueue"
)

// Error is the default error class for the orchestrator package.
var Error = errs.Class("orchestrator")

var mon = monkit.Package()

// Config configures an Orchestrator.
type Config struct {
	// CursorPath is where the last-applied remote cursor is persisted
	// between runs (spec section 4 supplemental SyncCursor record).
	CursorPath string
}

// Orchestrator wires RQ, BWO, and OUM (spec section 4.E): it subscribes to
// network-quality events, drives the RQ executor loop when reachable, and
// runs a pull cycle applying remote changes with last-writer-wins.
type Orchestrator struct {
	log    *zap.Logger
	config Config

	queue     *retryqueue.Queue
	optimizer *bwo.Optimizer
	manager   *oum.Manager
	puller    model.RemotePuller
	resolver  *Resolver
	cursor    *cursorStore

	reachable bool
}

// New constructs an Orchestrator, per the Design Notes' explicit-factory
// guidance (spec section 9) — never a package-level singleton.
func New(
	log *zap.Logger,
	config Config,
	queue *retryqueue.Queue,
	optimizer *bwo.Optimizer,
	manager *oum.Manager,
	puller model.RemotePuller,
	resolver *Resolver,
) *Orchestrator {
	return &Orchestrator{
		log:       log,
		config:    config,
		queue:     queue,
		optimizer: optimizer,
		manager:   manager,
		puller:    puller,
		resolver:  resolver,
		cursor:    newCursorStore(config.CursorPath),
	}
}

// Run starts the OUM rollback timer and blocks until ctx is cancelled,
// mirroring storagenode/peer.go's errgroup-driven Run(ctx) shape. On
// return it stops both the OUM timer and RQ processing.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		o.manager.Run(ctx)
		return nil
	})

	<-ctx.Done()
	o.manager.Stop()
	o.queue.StopProcessing()
	return group.Wait()
}

// OnPathChange is the Network Path Observer callback (spec section 4.E):
// on a reachable transition it starts RQ processing and runs one pull
// cycle; on an unreachable transition it stops RQ processing without
// cancelling queued operations.
func (o *Orchestrator) OnPathChange(ctx context.Context, event model.PathEvent) {
	o.optimizer.OnPathChange(ctx, model.NetworkQuality{
		ConnectionType: event.ConnectionType,
		IsExpensive:    event.IsExpensive,
		IsConstrained:  event.IsConstrained,
	})

	wasReachable := o.reachable
	nowReachable := event.ConnectionType != model.ConnectionUnknown && event.ConnectionType != ""

	switch {
	case nowReachable && !wasReachable:
		o.reachable = true
		o.queue.StartProcessing(ctx)
		if err := o.PullOnce(ctx); err != nil && o.log != nil {
			o.log.Error("orchestrator: pull cycle failed", zap.Error(err))
		}
	case !nowReachable && wasReachable:
		o.reachable = false
		o.queue.StopProcessing()
	}
}

// PullOnce fetches remote changes since the last cursor, applies them with
// last-writer-wins via the Resolver, and advances the cursor.
func (o *Orchestrator) PullOnce(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	since := o.cursor.get()
	changes, err := o.puller.FetchChanges(since)
	if err != nil {
		return model.TransientNetwork(Error.Wrap(err))
	}

	for _, change := range changes {
		if applyErr := o.resolver.Apply(ctx, change); applyErr != nil && o.log != nil {
			o.log.Error("orchestrator: failed applying remote change", zap.Error(applyErr))
		}
	}

	return o.cursor.advance(cursorFromChanges(changes, since))
}
