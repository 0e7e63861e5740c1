package wireserver

import (
	"context"
	"net"
	"time"

	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/pkg/dynconfig"
	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
	"github.com/clusterfs/fleetmgmtd/pkg/store"
	"github.com/clusterfs/fleetmgmtd/pkg/transport"
	"github.com/clusterfs/fleetmgmtd/pkg/wire"
)

func capLimitsFor(kind store.NodeKind, snap *dynconfig.Snapshot) store.CapPoolLimits {
	src := snap.CapPoolStorageLimits
	if kind == store.NodeKindMeta {
		src = snap.CapPoolMetaLimits
	}
	return store.CapPoolLimits{
		SpaceLow: src.SpaceLow, SpaceEmergency: src.SpaceEmergency,
		InodesLow: src.InodesLow, InodesEmergency: src.InodesEmergency,
	}
}

func handleRegisterTarget(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	req, err := wire.DecodeRegisterTarget(wire.NewReader(body))
	if err != nil {
		return encodeGenericError(mgmterr.ErrUndecodable)
	}
	regEnabled := d.Config.Get().RegistrationEnable

	id, err := store.Write(ctx, d.Store.Engine, func(tx *gorm.DB) (uint16, error) {
		return store.RegisterTarget(tx, req.NumericID, req.Alias, regEnabled)
	})
	if err != nil {
		return encodeGenericError(err)
	}

	w := wire.NewWriter(nil)
	wire.RegisterTargetRespMsg{NumericID: id}.Encode(w)
	return wire.MsgRegisterTargetResp, w.Bytes(), true
}

func handleMapTargets(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	req, err := wire.DecodeMapTargets(wire.NewReader(body))
	if err != nil {
		return encodeGenericError(mgmterr.ErrUndecodable)
	}

	_, err = store.Write(ctx, d.Store.Engine, func(tx *gorm.DB) (struct{}, error) {
		return struct{}{}, store.MapTargets(tx, req.NodeNumericID, req.TargetIDs)
	})
	if err != nil {
		return encodeGenericError(err)
	}

	notifyMsg := wire.NewWriter(nil)
	req.Encode(notifyMsg)
	d.fanOut(ctx, "MapTargets", wire.MsgMapTargets, []store.NodeKind{store.NodeKindMeta, store.NodeKindStorage, store.NodeKindClient}, notifyMsg.Bytes())
	return encodeGenericOK()
}

func handleSetTargetConsistency(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	req, err := wire.DecodeSetTargetConsistency(wire.NewReader(body))
	if err != nil {
		return encodeGenericError(mgmterr.ErrUndecodable)
	}
	kind := storeKind(req.Kind)
	consistency := consistencyFromWire(req.Consistency)

	changed, err := store.Write(ctx, d.Store.Engine, func(tx *gorm.DB) (bool, error) {
		return store.SetConsistency(tx, kind, req.TargetID, consistency, req.BumpLastContact)
	})
	if err != nil {
		return encodeGenericError(err)
	}

	if changed {
		d.fanOut(ctx, "RefreshTargetStates", wire.MsgRefreshTargetStates, []store.NodeKind{store.NodeKindMeta, store.NodeKindStorage, store.NodeKindClient}, nil)
	}
	return encodeGenericOK()
}

func consistencyFromWire(v uint8) store.Consistency {
	switch v {
	case 1:
		return store.ConsistencyNeedsResync
	case 2:
		return store.ConsistencyBad
	default:
		return store.ConsistencyGood
	}
}

func consistencyToWire(c store.Consistency) uint8 {
	switch c {
	case store.ConsistencyNeedsResync:
		return 1
	case store.ConsistencyBad:
		return 2
	default:
		return 0
	}
}

func handleSetTargetCapacities(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	req, err := wire.DecodeSetTargetCapacities(wire.NewReader(body))
	if err != nil {
		return encodeGenericError(mgmterr.ErrUndecodable)
	}

	caps := make([]store.TargetCapacities, 0, len(req.Reports))
	for _, r := range req.Reports {
		c := store.TargetCapacities{TargetID: r.TargetID}
		if r.TotalSpace >= 0 {
			v := r.TotalSpace
			c.TotalSpace = &v
		}
		if r.FreeSpace >= 0 {
			v := r.FreeSpace
			c.FreeSpace = &v
		}
		if r.TotalInodes >= 0 {
			v := r.TotalInodes
			c.TotalInodes = &v
		}
		if r.FreeInodes >= 0 {
			v := r.FreeInodes
			c.FreeInodes = &v
		}
		caps = append(caps, c)
	}

	_, err = store.WriteNoSync(ctx, d.Store.Engine, func(tx *gorm.DB) (struct{}, error) {
		return struct{}{}, store.SetTargetCapacities(tx, caps)
	})
	if err != nil {
		return encodeGenericError(err)
	}
	// No fan-out: capacity classification is derived at read time by
	// GetNodeCapacityPools, per spec.md §4.F.
	return encodeGenericOK()
}

func handleGetTargetStates(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	req, err := wire.DecodeGetTargetStates(wire.NewReader(body))
	if err != nil {
		return encodeGenericError(mgmterr.ErrUndecodable)
	}
	kind := storeKind(req.Kind)
	snap := d.Config.Get()

	states, err := store.Read(ctx, d.Store.Engine, func(tx *gorm.DB) ([]store.Target, error) {
		var targets []store.Target
		return targets, tx.Where("node_kind = ?", kind).Find(&targets).Error
	})
	if err != nil {
		return encodeGenericError(err)
	}

	now := time.Now()
	resp := wire.GetTargetStatesRespMsg{States: make([]wire.TargetStateInfo, 0, len(states))}
	for _, t := range states {
		age := now.Sub(time.Unix(t.LastContact, 0))
		reach := store.ClassifyReachability(age, snap.NodeOfflineTimeout)
		resp.States = append(resp.States, wire.TargetStateInfo{
			TargetID:     t.TargetID,
			Consistency:  consistencyToWire(t.Consistency),
			Reachability: uint8(reach),
		})
	}

	w := wire.NewWriter(nil)
	resp.Encode(w)
	return wire.MsgGetTargetStatesResp, w.Bytes(), true
}

func handleGetStatesAndBuddyGroups(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	req, err := wire.DecodeGetTargetStates(wire.NewReader(body))
	if err != nil {
		return encodeGenericError(mgmterr.ErrUndecodable)
	}
	kind := storeKind(req.Kind)
	snap := d.Config.Get()

	type combined struct {
		targets []store.Target
		groups  []store.BuddyGroup
	}
	res, err := store.Read(ctx, d.Store.Engine, func(tx *gorm.DB) (combined, error) {
		var c combined
		if err := tx.Where("node_kind = ?", kind).Find(&c.targets).Error; err != nil {
			return c, err
		}
		err := tx.Where("node_kind = ?", kind).Find(&c.groups).Error
		return c, err
	})
	if err != nil {
		return encodeGenericError(err)
	}

	now := time.Now()
	statesResp := wire.GetTargetStatesRespMsg{States: make([]wire.TargetStateInfo, 0, len(res.targets))}
	for _, t := range res.targets {
		age := now.Sub(time.Unix(t.LastContact, 0))
		reach := store.ClassifyReachability(age, snap.NodeOfflineTimeout)
		statesResp.States = append(statesResp.States, wire.TargetStateInfo{
			TargetID: t.TargetID, Consistency: consistencyToWire(t.Consistency), Reachability: uint8(reach),
		})
	}
	groupsResp := wire.GetMirrorBuddyGroupsRespMsg{Groups: make([]wire.BuddyGroupInfo, 0, len(res.groups))}
	for _, g := range res.groups {
		groupsResp.Groups = append(groupsResp.Groups, wire.BuddyGroupInfo{GroupID: g.GroupID, PrimaryID: g.PTargetID, SecondaryID: g.STargetID})
	}

	w := wire.NewWriter(nil)
	statesResp.Encode(w)
	groupsResp.Encode(w)
	return wire.MsgGetStatesAndBuddyGroupsResp, w.Bytes(), true
}

// capPoolBucket groups target ids by capacity class for a
// GetNodeCapacityPools response.
type capPoolBucket struct {
	Normal, Low, Emergency []uint16
}

func handleGetNodeCapacityPools(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	req, err := wire.DecodeGetTargetStates(wire.NewReader(body))
	if err != nil {
		return encodeGenericError(mgmterr.ErrUndecodable)
	}
	kind := storeKind(req.Kind)
	limits := capLimitsFor(kind, d.Config.Get())

	type row struct {
		TargetID  uint16
		FreeSpace *int64
		FreeInodes *int64
	}
	rows, err := store.Read(ctx, d.Store.Engine, func(tx *gorm.DB) ([]row, error) {
		var out []row
		err := tx.Table("targets").
			Select("targets.target_id, storage_targets.free_space, storage_targets.free_inodes").
			Joins("JOIN storage_targets ON storage_targets.target_uid = targets.target_uid").
			Where("targets.node_kind = ?", kind).
			Scan(&out).Error
		return out, err
	})
	if err != nil {
		return encodeGenericError(err)
	}

	var bucket capPoolBucket
	for _, r := range rows {
		switch store.ClassifyCapacity(r.FreeSpace, r.FreeInodes, limits) {
		case store.CapEmergency:
			bucket.Emergency = append(bucket.Emergency, r.TargetID)
		case store.CapLow:
			bucket.Low = append(bucket.Low, r.TargetID)
		default:
			bucket.Normal = append(bucket.Normal, r.TargetID)
		}
	}

	w := wire.NewWriter(nil)
	w.U32(uint32(len(bucket.Normal)))
	for _, id := range bucket.Normal {
		w.U16(id)
	}
	w.U32(uint32(len(bucket.Low)))
	for _, id := range bucket.Low {
		w.U16(id)
	}
	w.U32(uint32(len(bucket.Emergency)))
	for _, id := range bucket.Emergency {
		w.U16(id)
	}
	return wire.MsgGetNodeCapacityPoolsResp, w.Bytes(), true
}
