// Package wireserver implements component H: per-message handler logic
// dispatched from a static (msg_id -> decoder, handler) registry table,
// per spec.md §9 "static registries of message -> handler", plus the
// fixed fan-out notification table of §4.H.
package wireserver

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/internal/logger"
	"github.com/clusterfs/fleetmgmtd/pkg/dynconfig"
	"github.com/clusterfs/fleetmgmtd/pkg/metrics"
	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
	"github.com/clusterfs/fleetmgmtd/pkg/peerresolve"
	"github.com/clusterfs/fleetmgmtd/pkg/store"
	"github.com/clusterfs/fleetmgmtd/pkg/transport"
	"github.com/clusterfs/fleetmgmtd/pkg/wire"
)

// handlerFunc processes one decoded message and optionally returns a
// response body plus the msg id to tag it with.
type handlerFunc func(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (respMsgID uint16, respBody []byte, hasResp bool)

// registryEntry marks handlers that must be rejected during pre-shutdown.
type registryEntry struct {
	handler  handlerFunc
	mutating bool
}

// Dispatcher is the central per-connection-independent dispatch table;
// one instance serves every TCP/UDP stream, as transport.Dispatcher.
type Dispatcher struct {
	Store    *store.Store
	Config   *dynconfig.Cache
	Resolver *peerresolve.Resolver
	Outbound *transport.OutboundPool
	Metrics  metrics.Recorder

	preShutdown atomic.Bool
	registry    map[uint16]registryEntry
}

var _ transport.Dispatcher = (*Dispatcher)(nil)

// New builds the dispatch table. Unknown ids are logged and the
// connection is preserved, per spec.md §9.
func New(st *store.Store, cfg *dynconfig.Cache, resolver *peerresolve.Resolver, outbound *transport.OutboundPool, rec metrics.Recorder) *Dispatcher {
	if rec == nil {
		rec = metrics.Noop
	}
	d := &Dispatcher{Store: st, Config: cfg, Resolver: resolver, Outbound: outbound, Metrics: rec}
	d.registry = map[uint16]registryEntry{
		wire.MsgHeartbeat:               {handleHeartbeat, true},
		wire.MsgGetNodes:                {handleGetNodes, false},
		wire.MsgRemoveNode:              {handleRemoveNode, true},
		wire.MsgRemoveNodeResp:          {handleAckOnly, false},
		wire.MsgRegisterTarget:          {handleRegisterTarget, true},
		wire.MsgMapTargets:              {handleMapTargets, true},
		wire.MsgMapTargetsResp:          {handleAckOnly, false},
		wire.MsgSetTargetConsistency:    {handleSetTargetConsistency, true},
		wire.MsgSetTargetCapacities:     {handleSetTargetCapacities, true},
		wire.MsgGetTargetStates:         {handleGetTargetStates, false},
		wire.MsgGetStatesAndBuddyGroups: {handleGetStatesAndBuddyGroups, false},
		wire.MsgGetNodeCapacityPools:    {handleGetNodeCapacityPools, false},
		wire.MsgSetMirrorBuddyGroup:     {handleSetMirrorBuddyGroup, true},
		wire.MsgSetMirrorBuddyGroupResp: {handleAckOnly, false},
		wire.MsgGetMirrorBuddyGroups:    {handleGetMirrorBuddyGroups, false},
		wire.MsgRemoveBuddyGroup:        {handleRemoveBuddyGroup, true},
		wire.MsgRemoveBuddyGroupResp:    {handleAckOnly, false},
		wire.MsgSetMetadataMirroring:    {handleSetMetadataMirroring, true},
		wire.MsgSetExceededQuota:        {handleSetExceededQuota, true},
		wire.MsgRequestExceededQuota:    {handleRequestExceededQuota, false},
		wire.MsgAck:                     {handleAckOnly, false},
		wire.MsgAuthenticateChannel:     {handleAuthenticateChannel, false},
	}
	return d
}

// SetPreShutdown flips the service into pre-shutdown; every mutating
// handler subsequently rejects without performing work.
func (d *Dispatcher) SetPreShutdown(v bool) { d.preShutdown.Store(v) }
func (d *Dispatcher) IsPreShutdown() bool   { return d.preShutdown.Load() }

// Dispatch implements transport.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	start := time.Now()
	ctx = logger.WithContext(ctx, logger.LogContext{
		Peer:      peer.String(),
		MsgID:     h.MsgID,
		Operation: wire.Name(h.MsgID),
		RequestID: uuid.NewString(),
	})
	d.Metrics.IncWireMessage(h.MsgID, "in")
	defer func() {
		d.Metrics.ObserveHandlerDuration(wire.Name(h.MsgID), time.Since(start).Seconds())
	}()

	entry, ok := d.registry[h.MsgID]
	if !ok {
		logger.Warn(ctx, "unknown message id, connection preserved")
		return 0, nil, false
	}

	if h.MsgID != wire.MsgAuthenticateChannel && !auth.Authorized() {
		logger.Warn(ctx, "rejecting message on unauthenticated stream")
		return encodeGenericError(mgmterr.ErrUnauthorized)
	}

	if entry.mutating && d.preShutdown.Load() {
		logger.Info(ctx, "rejecting mutating message during pre-shutdown")
		return encodeGenericError(mgmterr.ErrPreShutdown)
	}

	respMsgID, respBody, hasResp := entry.handler(ctx, d, auth, peer, h, body)
	if hasResp {
		d.Metrics.IncWireMessage(respMsgID, "out")
	}
	return respMsgID, respBody, hasResp
}

func encodeGenericError(err error) (uint16, []byte, bool) {
	w := wire.NewWriter(nil)
	wire.GenericResponseMsg{Code: int32(mgmterr.ToOpsErr(err)), Message: err.Error()}.Encode(w)
	return wire.MsgGenericResponse, w.Bytes(), true
}

func encodeGenericOK() (uint16, []byte, bool) {
	w := wire.NewWriter(nil)
	wire.GenericResponseMsg{Code: int32(mgmterr.Success)}.Encode(w)
	return wire.MsgGenericResponse, w.Bytes(), true
}

// handleAckOnly covers every ack-style response handler (RemoveNodeResp,
// MapTargetsResp, SetMirrorBuddyGroupResp, Ack itself): log and discard.
func handleAckOnly(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	logger.Debug(ctx, "received acknowledgement, no-op")
	return 0, nil, false
}

// handleAuthenticateChannel validates the presented secret against the
// connection's ChannelAuth, which is owned by the transport layer and
// carries state across every subsequent message on this stream.
func handleAuthenticateChannel(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	r := wire.NewReader(body)
	msg, err := wire.DecodeAuthenticateChannel(r)
	if err != nil {
		logger.Warn(ctx, "undecodable AuthenticateChannel")
		return encodeGenericError(mgmterr.ErrUndecodable)
	}
	if !auth.Authenticate(msg.Secret) {
		logger.Warn(ctx, "channel authentication failed")
		return encodeGenericError(mgmterr.ErrUnauthorized)
	}
	return encodeGenericOK()
}

// fanOutHeartbeatAliasChange and fanOutRemoveNode are the fixed tables
// of spec.md §4.H.
var fanOutHeartbeatAliasChange = map[store.NodeKind][]store.NodeKind{
	store.NodeKindMeta:    {store.NodeKindMeta, store.NodeKindClient},
	store.NodeKindStorage: {store.NodeKindMeta, store.NodeKindClient, store.NodeKindStorage},
	store.NodeKindClient:  {store.NodeKindMeta},
}

var fanOutRemoveNode = map[store.NodeKind][]store.NodeKind{
	store.NodeKindMeta:    {store.NodeKindMeta, store.NodeKindClient},
	store.NodeKindStorage: {store.NodeKindMeta, store.NodeKindClient, store.NodeKindStorage},
}

// RemoveNodeFanOutKinds exposes fanOutRemoveNode to pkg/adminrpc, which
// performs the same removal outside the wire protocol and must notify
// the same audience.
func RemoveNodeFanOutKinds(kind store.NodeKind) ([]store.NodeKind, bool) {
	kinds, ok := fanOutRemoveNode[kind]
	return kinds, ok
}

// BuddyGroupFanOutKinds is the fixed audience for SetMirrorBuddyGroup
// (handlers_buddygroup.go), exposed for adminrpc's equivalent
// operation. RemoveBuddyGroup does not use it: it sends a
// RefreshStoragePools trigger to meta and storage nodes.
func BuddyGroupFanOutKinds(kind store.NodeKind) []store.NodeKind {
	kinds := []store.NodeKind{store.NodeKindMeta, store.NodeKindClient}
	if kind == store.NodeKindStorage {
		kinds = append(kinds, store.NodeKindStorage)
	}
	return kinds
}

// fanOut broadcasts msgID/body to every node of the given kinds, over
// UDP via the outbound pool's dedicated outbound socket, best-effort: a
// failure to reach one peer logs and never affects the
// already-committed mutation that triggered the notification. This
// must only be called after the mutating transaction has committed.
// body may be nil for trigger-only notifications (the receiver re-pulls
// the changed state with a follow-up request) per spec.md §4.H.
func (d *Dispatcher) fanOut(ctx context.Context, notification string, msgID uint16, kinds []store.NodeKind, body []byte) {
	FanOut(ctx, d.Store, d.Resolver, d.Outbound, d.Metrics, notification, msgID, kinds, body)
}

// FanOut is the free-standing form of (*Dispatcher).fanOut, exported so
// pkg/adminrpc's preview-or-execute operations can issue the same
// best-effort notification after their own commits without needing a
// wire Dispatcher of their own (admin RPC and the wire protocol are two
// independent listeners sharing the same store/resolver/outbound pool,
// per spec.md §4.I).
func FanOut(ctx context.Context, st *store.Store, resolver *peerresolve.Resolver, outbound *transport.OutboundPool, rec metrics.Recorder, notification string, msgID uint16, kinds []store.NodeKind, body []byte) {
	if rec == nil {
		rec = metrics.Noop
	}
	rec.IncFanOut(notification)
	for _, kind := range kinds {
		kind := kind
		go notifyKind(ctx, st, resolver, outbound, kind, msgID, body)
	}
}

// notifyKind broadcasts msgID/body over UDP (spec.md §4.B's
// fire-and-forget `send`, and the glossary's "fan-out notification ...
// a UDP broadcast") to every address of every node of kind, mirroring
// the original's conn_pool.broadcast over notify_nodes.
func notifyKind(ctx context.Context, st *store.Store, resolver *peerresolve.Resolver, outbound *transport.OutboundPool, kind store.NodeKind, msgID uint16, body []byte) {
	nodes, err := store.Read(ctx, st.Engine, func(tx *gorm.DB) ([]store.NodeView, error) {
		return store.ListNodes(tx, kind)
	})
	if err != nil {
		logger.Warn(ctx, "fan-out: failed to list nodes", "kind", kind, "err", err)
		return
	}
	for _, n := range nodes {
		addrs, err := resolver.Resolve(ctx, peerresolve.ByUID(n.NodeUID))
		if err != nil || len(addrs) == 0 {
			continue
		}
		udpAddrs := make([]*net.UDPAddr, len(addrs))
		for i, a := range addrs {
			udpAddrs[i] = &net.UDPAddr{IP: a.IP, Port: a.Port, Zone: a.Zone}
		}
		outbound.Broadcast(udpAddrs, msgID, body)
	}
}
