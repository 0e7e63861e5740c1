package wireserver

import (
	"context"
	"net"

	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/internal/logger"
	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
	"github.com/clusterfs/fleetmgmtd/pkg/store"
	"github.com/clusterfs/fleetmgmtd/pkg/transport"
	"github.com/clusterfs/fleetmgmtd/pkg/wire"
)

func handleHeartbeat(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	msg, err := wire.DecodeHeartbeat(wire.NewReader(body))
	if err != nil {
		return encodeGenericError(mgmterr.ErrUndecodable)
	}

	nics := make([]store.NICInput, 0, len(msg.NICs))
	for _, n := range msg.NICs {
		nics = append(nics, store.NICInput{
			Addr: net.IP(n.Addr[:]).String(),
			Name: n.Name,
			Kind: n.Kind,
		})
	}
	kind := storeKind(msg.Kind)
	regEnabled := d.Config.Get().RegistrationEnable

	result, err := store.Write(ctx, d.Store.Engine, func(tx *gorm.DB) (store.HeartbeatResult, error) {
		return store.RegisterOrHeartbeat(tx, kind, msg.NumericID, msg.Alias, msg.Port, nics, msg.Fingerprint, regEnabled)
	})
	if err != nil {
		logger.Warn(ctx, "heartbeat rejected", "err", err)
		return encodeGenericError(err)
	}

	if result.Created || result.Rebound {
		n, err := store.Read(ctx, d.Store.Engine, func(tx *gorm.DB) (store.Node, error) {
			var n store.Node
			return n, tx.Where("node_kind = ? AND node_id = ?", kind, result.NumericID).First(&n).Error
		})
		if err == nil {
			d.Resolver.Invalidate(n.NodeUID)
		}
	}
	if result.AliasChanged {
		if kinds, ok := fanOutHeartbeatAliasChange[kind]; ok {
			d.fanOut(ctx, "Heartbeat", wire.MsgHeartbeat, kinds, nil)
		}
	}

	w := wire.NewWriter(nil)
	wire.AckMsg{AckID: msg.AckID}.Encode(w)
	return wire.MsgAck, w.Bytes(), true
}

func handleGetNodes(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	req, err := wire.DecodeGetNodes(wire.NewReader(body))
	if err != nil {
		return encodeGenericError(mgmterr.ErrUndecodable)
	}
	kind := storeKind(req.Kind)

	nodes, err := store.Read(ctx, d.Store.Engine, func(tx *gorm.DB) ([]store.NodeView, error) {
		return store.ListNodes(tx, kind)
	})
	if err != nil {
		return encodeGenericError(err)
	}

	resp := wire.GetNodesRespMsg{Nodes: make([]wire.NodeInfo, 0, len(nodes))}
	for _, n := range nodes {
		info := wire.NodeInfo{NumericID: n.NodeID, Alias: n.Alias, Port: n.Port}
		for _, nic := range n.NICs {
			var nw wire.NIC
			ip := net.ParseIP(nic.Addr).To4()
			if ip != nil {
				copy(nw.Addr[:], ip)
			}
			nw.Name = nic.Name
			nw.Kind = nic.NicType
			info.NICs = append(info.NICs, nw)
		}
		resp.Nodes = append(resp.Nodes, info)
	}

	w := wire.NewWriter(nil)
	resp.Encode(w)
	return wire.MsgGetNodesResp, w.Bytes(), true
}

func handleRemoveNode(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	req, err := wire.DecodeRemoveNode(wire.NewReader(body))
	if err != nil {
		return encodeGenericError(mgmterr.ErrUndecodable)
	}
	kind := storeKind(req.Kind)
	if kind == store.NodeKindManagement {
		return encodeGenericError(mgmterr.ErrInvariantViolated)
	}

	_, err = store.Write(ctx, d.Store.Engine, func(tx *gorm.DB) (struct{}, error) {
		return struct{}{}, store.DeleteNodeChecked(tx, kind, req.NumericID)
	})
	if err != nil {
		return encodeGenericError(err)
	}

	if kinds, ok := fanOutRemoveNode[kind]; ok {
		d.fanOut(ctx, "RemoveNode", wire.MsgRemoveNode, kinds, nil)
	}
	return encodeGenericOK()
}
