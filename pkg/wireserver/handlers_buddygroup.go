package wireserver

import (
	"context"
	"fmt"
	"net"

	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/internal/logger"
	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
	"github.com/clusterfs/fleetmgmtd/pkg/peerresolve"
	"github.com/clusterfs/fleetmgmtd/pkg/store"
	"github.com/clusterfs/fleetmgmtd/pkg/transport"
	"github.com/clusterfs/fleetmgmtd/pkg/wire"
)

func handleSetMirrorBuddyGroup(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	req, err := wire.DecodeSetMirrorBuddyGroup(wire.NewReader(body))
	if err != nil {
		return encodeGenericError(mgmterr.ErrUndecodable)
	}
	kind := storeKind(req.Kind)

	set, err := store.Write(ctx, d.Store.Engine, func(tx *gorm.DB) (store.EntityIDSet, error) {
		alias := fmt.Sprintf("group-%s-%d", kind, req.GroupID)
		if req.GroupID == 0 {
			alias = fmt.Sprintf("group-%s-auto", kind)
		}
		return store.CreateBuddyGroup(tx, kind, alias, req.GroupID, req.PrimaryID, req.SecondaryID, store.DefaultPoolID)
	})
	if err != nil {
		logger.Warn(ctx, "SetMirrorBuddyGroup rejected", "err", err)
		w := wire.NewWriter(nil)
		wire.SetMirrorBuddyGroupRespMsg{Code: int32(mgmterr.ToOpsErr(err))}.Encode(w)
		return wire.MsgSetMirrorBuddyGroupResp, w.Bytes(), true
	}

	kinds := []store.NodeKind{store.NodeKindMeta, store.NodeKindClient}
	if kind == store.NodeKindStorage {
		kinds = append(kinds, store.NodeKindStorage)
	}
	notifyMsg := wire.NewWriter(nil)
	req.Encode(notifyMsg)
	d.fanOut(ctx, "SetMirrorBuddyGroup", wire.MsgSetMirrorBuddyGroup, kinds, notifyMsg.Bytes())

	w := wire.NewWriter(nil)
	wire.SetMirrorBuddyGroupRespMsg{Code: int32(mgmterr.Success)}.Encode(w)
	_ = set
	return wire.MsgSetMirrorBuddyGroupResp, w.Bytes(), true
}

func handleGetMirrorBuddyGroups(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	req, err := wire.DecodeGetMirrorBuddyGroups(wire.NewReader(body))
	if err != nil {
		return encodeGenericError(mgmterr.ErrUndecodable)
	}
	kind := storeKind(req.Kind)

	groups, err := store.Read(ctx, d.Store.Engine, func(tx *gorm.DB) ([]store.BuddyGroup, error) {
		var g []store.BuddyGroup
		return g, tx.Where("node_kind = ?", kind).Find(&g).Error
	})
	if err != nil {
		return encodeGenericError(err)
	}

	resp := wire.GetMirrorBuddyGroupsRespMsg{Groups: make([]wire.BuddyGroupInfo, 0, len(groups))}
	for _, g := range groups {
		resp.Groups = append(resp.Groups, wire.BuddyGroupInfo{GroupID: g.GroupID, PrimaryID: g.PTargetID, SecondaryID: g.STargetID})
	}
	w := wire.NewWriter(nil)
	resp.Encode(w)
	return wire.MsgGetMirrorBuddyGroupsResp, w.Bytes(), true
}

// handleRemoveBuddyGroup runs the two-phase delete protocol of spec.md
// §4.F: stage (validate-only, safe in a read transaction), notify both
// member nodes over the outbound pool, and only commit the delete once
// both have acknowledged. A peer that never was reachable fails the
// whole operation rather than leaving the group half-torn-down.
func handleRemoveBuddyGroup(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	req, err := wire.DecodeRemoveBuddyGroup(wire.NewReader(body))
	if err != nil {
		return encodeGenericError(mgmterr.ErrUndecodable)
	}
	kind := storeKind(req.Kind)

	staged, err := store.Read(ctx, d.Store.Engine, func(tx *gorm.DB) (store.StagedBuddyGroupDelete, error) {
		return store.StageBuddyGroupDelete(tx, kind, req.GroupID)
	})
	if err != nil {
		return encodeGenericError(err)
	}

	notifyMsg := wire.NewWriter(nil)
	wire.RemoveBuddyGroupMsg{Kind: req.Kind, GroupID: req.GroupID}.Encode(notifyMsg)
	body2 := notifyMsg.Bytes()

	for _, nodeUID := range []uint64{staged.PrimaryNodeUID, staged.SecondaryNodeUID} {
		addrs, err := d.Resolver.Resolve(ctx, peerresolve.ByUID(nodeUID))
		if err != nil || len(addrs) == 0 {
			return encodeGenericError(fmt.Errorf("%w: member node %d unreachable", mgmterr.ErrTimeout, nodeUID))
		}
		respHdr, respBody, err := d.Outbound.Request(ctx, addrs[0], wire.MsgRemoveBuddyGroup, body2)
		if err != nil {
			return encodeGenericError(fmt.Errorf("%w: %v", mgmterr.ErrTimeout, err))
		}
		if respHdr.MsgID == wire.MsgGenericResponse {
			gr, err := wire.DecodeGenericResponse(wire.NewReader(respBody))
			if err == nil && gr.Code != int32(mgmterr.Success) {
				return encodeGenericError(fmt.Errorf("%w: peer rejected removal (code %d)", mgmterr.ErrInvariantViolated, gr.Code))
			}
		}
	}

	_, err = store.Write(ctx, d.Store.Engine, func(tx *gorm.DB) (struct{}, error) {
		return struct{}{}, store.CommitBuddyGroupDelete(tx, staged.GroupUID)
	})
	if err != nil {
		return encodeGenericError(err)
	}

	// Storage buddy groups alter pool membership, so trigger an
	// immediate pool refresh rather than a generic target-state one;
	// there is no distinct RemoveBuddyGroup notification type.
	d.fanOut(ctx, "RemoveBuddyGroup", wire.MsgRefreshStoragePools, []store.NodeKind{store.NodeKindMeta, store.NodeKindStorage}, nil)
	return encodeGenericOK()
}

func handleSetMetadataMirroring(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	req, err := wire.DecodeSetMetadataMirroringReq(wire.NewReader(body))
	if err != nil {
		return encodeGenericError(mgmterr.ErrUndecodable)
	}

	_, err = store.Write(ctx, d.Store.Engine, func(tx *gorm.DB) (struct{}, error) {
		return struct{}{}, store.EnableMetadataMirroring(tx, req.PrimaryTargetID)
	})
	if err != nil {
		return encodeGenericError(err)
	}

	d.fanOut(ctx, "SetMetadataMirroring", wire.MsgSetMetadataMirroring, []store.NodeKind{store.NodeKindMeta, store.NodeKindClient}, nil)
	return encodeGenericOK()
}
