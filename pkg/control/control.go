// Package control implements the background maintenance loops of
// spec.md §4.J: periodic sweeps that run independent of any single
// wire message, each a ticker-driven goroutine in the shape of the
// teacher's pkg/cache/flusher.BackgroundFlusher (Start/Stop/run; no
// final sweep is made on shutdown). Capacity classification has no loop of its
// own — it is computed at read time by GetNodeCapacityPools, per
// spec.md §4.F.
package control

import (
	"context"
	"net"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/internal/logger"
	"github.com/clusterfs/fleetmgmtd/pkg/dynconfig"
	"github.com/clusterfs/fleetmgmtd/pkg/metrics"
	"github.com/clusterfs/fleetmgmtd/pkg/peerresolve"
	"github.com/clusterfs/fleetmgmtd/pkg/store"
	"github.com/clusterfs/fleetmgmtd/pkg/transport"
	"github.com/clusterfs/fleetmgmtd/pkg/wire"
)

// Loop is one periodic sweep, run on its own goroutine.
type Loop struct {
	name     string
	interval time.Duration
	sweep    func(ctx context.Context)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newLoop(name string, interval time.Duration, sweep func(ctx context.Context)) *Loop {
	return &Loop{name: name, interval: interval, sweep: sweep}
}

// Start begins the loop's goroutine; it runs until Stop is called or
// ctx is cancelled.
func (l *Loop) Start(ctx context.Context) {
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.run()
}

// Stop cancels the loop and waits for its goroutine to exit.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *Loop) run() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.sweep(l.ctx)
		}
	}
}

// Supervisor owns every background loop the service runs.
type Supervisor struct {
	loops []*Loop
}

// Deps bundles the shared collaborators every loop needs.
type Deps struct {
	Store    *store.Store
	Config   *dynconfig.Cache
	Resolver *peerresolve.Resolver
	Outbound *transport.OutboundPool
	Metrics  metrics.Recorder
}

// New builds every loop; reapInterval/switchoverInterval are fixed
// sweep cadences, distinct from the quota loop's configurable interval
// (spec.md §4.G QuotaUpdateInterval) which is re-read from the config
// cache on every sweep rather than fixed at construction time.
func New(d Deps) *Supervisor {
	if d.Metrics == nil {
		d.Metrics = metrics.Noop
	}
	// The quota loop ticks every 5s and sweeps once QuotaUpdateInterval
	// has elapsed since its previous sweep.
	var lastQuotaSweep time.Time
	quotaSweep := func(ctx context.Context) {
		if time.Since(lastQuotaSweep) < d.Config.Get().QuotaUpdateInterval {
			return
		}
		lastQuotaSweep = time.Now()
		d.sweepQuotaRefresh(ctx)
	}
	s := &Supervisor{}
	s.loops = append(s.loops,
		newLoop("stale-client-reaper", 30*time.Second, d.sweepStaleClients),
		newLoop("quota-refresh", 5*time.Second, quotaSweep),
		newLoop("switchover-watchdog", 15*time.Second, d.sweepSwitchover),
	)
	return s
}

func (s *Supervisor) Start(ctx context.Context) {
	for _, l := range s.loops {
		l.Start(ctx)
	}
}

func (s *Supervisor) Stop() {
	for _, l := range s.loops {
		l.Stop()
	}
}

// sweepStaleClients removes client nodes that have not sent a
// heartbeat within ClientAutoRemoveTimeout, per spec.md §4.J.1. No
// fan-out accompanies this removal.
func (d Deps) sweepStaleClients(ctx context.Context) {
	cutoff := time.Now().Add(-d.Config.Get().ClientAutoRemoveTimeout).Unix()
	n, err := store.Write(ctx, d.Store.Engine, func(tx *gorm.DB) (int64, error) {
		return store.ReapStaleClients(tx, cutoff)
	})
	if err != nil {
		logger.Error(ctx, "stale client reap failed", "err", err)
		d.Metrics.IncControlLoopError("stale-client-reaper")
		return
	}
	if n > 0 {
		logger.Info(ctx, "reaped stale clients", "count", n)
	}
}

// sweepQuotaRefresh recomputes the exceeded-quota set when quota
// enforcement is enabled, at the operator-configured cadence, and
// pushes a SetExceededQuota notification to storage nodes whenever the
// set is non-empty. Storage nodes still pull the authoritative detail
// through RequestExceededQuota; the push carries no body and only tells
// them it is worth asking, the same trigger-only idiom every other
// fan-out in this service uses (see FanOut in pkg/wireserver).
func (d Deps) sweepQuotaRefresh(ctx context.Context) {
	if !d.Config.Get().QuotaEnable {
		return
	}
	entries, err := store.Read(ctx, d.Store.Engine, func(tx *gorm.DB) ([]store.ExceededQuotaEntry, error) {
		return store.ExceededQuotaEntries(tx)
	})
	if err != nil {
		logger.Error(ctx, "quota refresh failed", "err", err)
		d.Metrics.IncControlLoopError("quota-refresh")
		return
	}
	if len(entries) == 0 {
		return
	}
	d.Metrics.IncFanOut("SetExceededQuota")
	go d.notifyStorageOfExceededQuota(ctx)
}

func (d Deps) notifyStorageOfExceededQuota(ctx context.Context) {
	nodes, err := store.Read(ctx, d.Store.Engine, func(tx *gorm.DB) ([]store.NodeView, error) {
		return store.ListNodes(tx, store.NodeKindStorage)
	})
	if err != nil {
		logger.Warn(ctx, "quota fan-out: failed to list storage nodes", "err", err)
		return
	}
	for _, n := range nodes {
		addrs, err := d.Resolver.Resolve(ctx, peerresolve.ByUID(n.NodeUID))
		if err != nil || len(addrs) == 0 {
			continue
		}
		d.Outbound.Broadcast(toUDPAddrs(addrs), wire.MsgSetExceededQuota, nil)
	}
}

// sweepSwitchover finds buddy groups whose primary has gone offline
// while the secondary remains healthy, swaps them, and fans out
// RefreshTargetStates so peers pick up the new primary.
func (d Deps) sweepSwitchover(ctx context.Context) {
	snap := d.Config.Get()
	now := time.Now().Unix()
	offlineSeconds := int64(snap.NodeOfflineTimeout / time.Second)

	candidates, err := store.Read(ctx, d.Store.Engine, func(tx *gorm.DB) ([]store.BuddyGroup, error) {
		return store.FindSwitchoverCandidates(tx, offlineSeconds, now)
	})
	if err != nil {
		logger.Error(ctx, "switchover scan failed", "err", err)
		d.Metrics.IncControlLoopError("switchover-watchdog")
		return
	}
	if len(candidates) == 0 {
		return
	}

	for _, g := range candidates {
		g := g
		_, err := store.Write(ctx, d.Store.Engine, func(tx *gorm.DB) (struct{}, error) {
			return struct{}{}, store.SwapPrimarySecondary(tx, g.GroupUID, g.NodeKind, g.PTargetID, g.STargetID)
		})
		if err != nil {
			logger.Error(ctx, "switchover failed", "group", g.GroupID, "err", err)
			d.Metrics.IncControlLoopError("switchover-watchdog")
			continue
		}
		logger.Info(ctx, "switched over buddy group", "group", g.GroupID, "new_primary", g.STargetID)
		d.fanOutRefresh(ctx, g.NodeKind)
	}
}

func (d Deps) fanOutRefresh(ctx context.Context, kind store.NodeKind) {
	kinds := []store.NodeKind{store.NodeKindMeta, store.NodeKindClient}
	if kind == store.NodeKindStorage {
		kinds = append(kinds, store.NodeKindStorage)
	}
	d.Metrics.IncFanOut("RefreshTargetStates")
	for _, k := range kinds {
		k := k
		go func() {
			nodes, err := store.Read(ctx, d.Store.Engine, func(tx *gorm.DB) ([]store.NodeView, error) {
				return store.ListNodes(tx, k)
			})
			if err != nil {
				return
			}
			for _, n := range nodes {
				addrs, err := d.Resolver.Resolve(ctx, peerresolve.ByUID(n.NodeUID))
				if err != nil || len(addrs) == 0 {
					continue
				}
				d.Outbound.Broadcast(toUDPAddrs(addrs), wire.MsgRefreshTargetStates, nil)
			}
		}()
	}
}

// toUDPAddrs converts resolved TCP peer addresses to UDP addresses for
// the outbound pool's fire-and-forget broadcast; TCP and UDP share the
// same service port per spec.md §4.A.
func toUDPAddrs(addrs []*net.TCPAddr) []*net.UDPAddr {
	out := make([]*net.UDPAddr, len(addrs))
	for i, a := range addrs {
		out[i] = &net.UDPAddr{IP: a.IP, Port: a.Port, Zone: a.Zone}
	}
	return out
}
