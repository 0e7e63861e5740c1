package adminrpc

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/pkg/license"
	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
	"github.com/clusterfs/fleetmgmtd/pkg/peerresolve"
	"github.com/clusterfs/fleetmgmtd/pkg/store"
	"github.com/clusterfs/fleetmgmtd/pkg/wire"
	"github.com/clusterfs/fleetmgmtd/pkg/wireserver"
)

type buddyGroupView struct {
	GroupID   uint16 `json:"group_id"`
	PrimaryID uint16 `json:"primary_target_id"`
	SecondaryID uint16 `json:"secondary_target_id"`
	PoolID    uint16 `json:"pool_id"`
}

func (s *Server) listBuddyGroups(w http.ResponseWriter, r *http.Request) {
	kind, err := parseKind(r.URL.Query().Get("kind"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	groups, err := store.Read(r.Context(), s.Store.Engine, func(tx *gorm.DB) ([]store.BuddyGroup, error) {
		var g []store.BuddyGroup
		return g, tx.Where("node_kind = ?", kind).Find(&g).Error
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	out := make([]buddyGroupView, 0, len(groups))
	for _, g := range groups {
		out = append(out, buddyGroupView{GroupID: g.GroupID, PrimaryID: g.PTargetID, SecondaryID: g.STargetID, PoolID: g.PoolID})
	}
	WriteJSONOK(w, out)
}

func (s *Server) createBuddyGroup(w http.ResponseWriter, r *http.Request) {
	if s.IsPreShutdown() {
		WriteError(w, mgmterr.ErrPreShutdown)
		return
	}
	if !s.License.Licensed(license.FeatureMirroring) {
		WriteError(w, mgmterr.ErrFeatureUnlicensed)
		return
	}
	var body struct {
		Kind              string `json:"kind"`
		Alias             string `json:"alias"`
		GroupID           uint16 `json:"group_id"`
		PrimaryTargetID   uint16 `json:"primary_target_id"`
		SecondaryTargetID uint16 `json:"secondary_target_id"`
		PoolID            uint16 `json:"pool_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		BadRequest(w, err.Error())
		return
	}
	kind, err := parseKind(body.Kind)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	poolID := body.PoolID
	if poolID == 0 {
		poolID = store.DefaultPoolID
	}

	run := func(tx *gorm.DB) (store.EntityIDSet, error) {
		return store.CreateBuddyGroup(tx, kind, body.Alias, body.GroupID, body.PrimaryTargetID, body.SecondaryTargetID, poolID)
	}
	var set store.EntityIDSet
	if execute(r) {
		set, err = store.Write(r.Context(), s.Store.Engine, run)
	} else {
		set, err = store.Read(r.Context(), s.Store.Engine, run)
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	if execute(r) {
		notifyMsg := wire.NewWriter(nil)
		wire.SetMirrorBuddyGroupMsg{Kind: wireKind(kind), GroupID: set.NumericID, PrimaryID: body.PrimaryTargetID, SecondaryID: body.SecondaryTargetID}.Encode(notifyMsg)
		wireserver.FanOut(r.Context(), s.Store, s.Resolver, s.Outbound, s.Metrics, "SetMirrorBuddyGroup", wire.MsgSetMirrorBuddyGroup, wireserver.BuddyGroupFanOutKinds(kind), notifyMsg.Bytes())
	}
	WriteJSONOK(w, toEntityIDSet(set))
}

// deleteBuddyGroup runs delete_buddy_group's two-phase protocol (spec.md
// §4.F): stage is a plain read and is always safe to run as a preview;
// only execute=true contacts both member nodes over the outbound pool
// and, once both acknowledge, commits the delete and fans out.
func (s *Server) deleteBuddyGroup(w http.ResponseWriter, r *http.Request) {
	if s.IsPreShutdown() {
		WriteError(w, mgmterr.ErrPreShutdown)
		return
	}
	kind, err := parseKind(chi.URLParam(r, "kind"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	id, err := parseUint16(chi.URLParam(r, "id"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	staged, err := store.Read(r.Context(), s.Store.Engine, func(tx *gorm.DB) (store.StagedBuddyGroupDelete, error) {
		return store.StageBuddyGroupDelete(tx, kind, id)
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	if !execute(r) {
		WriteJSONOK(w, map[string]bool{"would_succeed": true})
		return
	}

	notifyBody := wire.NewWriter(nil)
	wire.RemoveBuddyGroupMsg{Kind: wireKind(kind), GroupID: id}.Encode(notifyBody)
	body := notifyBody.Bytes()
	for _, nodeUID := range []uint64{staged.PrimaryNodeUID, staged.SecondaryNodeUID} {
		addrs, err := s.Resolver.Resolve(r.Context(), peerresolve.ByUID(nodeUID))
		if err != nil || len(addrs) == 0 {
			WriteError(w, fmt.Errorf("%w: member node %d unreachable", mgmterr.ErrTimeout, nodeUID))
			return
		}
		respHdr, respBody, err := s.Outbound.Request(r.Context(), addrs[0], wire.MsgRemoveBuddyGroup, body)
		if err != nil {
			WriteError(w, fmt.Errorf("%w: %v", mgmterr.ErrTimeout, err))
			return
		}
		if respHdr.MsgID == wire.MsgGenericResponse {
			gr, err := wire.DecodeGenericResponse(wire.NewReader(respBody))
			if err == nil && gr.Code != int32(mgmterr.Success) {
				WriteError(w, fmt.Errorf("%w: peer rejected removal (code %d)", mgmterr.ErrInvariantViolated, gr.Code))
				return
			}
		}
	}

	_, err = store.Write(r.Context(), s.Store.Engine, func(tx *gorm.DB) (struct{}, error) {
		return struct{}{}, store.CommitBuddyGroupDelete(tx, staged.GroupUID)
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	// Storage buddy groups alter pool membership, so trigger an
	// immediate pool refresh rather than a generic target-state one;
	// there is no distinct RemoveBuddyGroup notification type.
	wireserver.FanOut(r.Context(), s.Store, s.Resolver, s.Outbound, s.Metrics, "RemoveBuddyGroup", wire.MsgRefreshStoragePools, []store.NodeKind{store.NodeKindMeta, store.NodeKindStorage}, nil)
	WriteJSONOK(w, map[string]string{"status": "deleted"})
}

func (s *Server) setBuddyGroupAlias(w http.ResponseWriter, r *http.Request) {
	kind, err := parseKind(chi.URLParam(r, "kind"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	id, err := parseUint16(chi.URLParam(r, "id"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	var reqBody struct {
		Alias string `json:"alias"`
	}
	if err := decodeJSON(r, &reqBody); err != nil {
		BadRequest(w, err.Error())
		return
	}

	run := func(tx *gorm.DB) (store.EntityIDSet, error) {
		var g store.BuddyGroup
		if err := tx.Where("node_kind = ? AND group_id = ?", kind, id).First(&g).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return store.EntityIDSet{}, mgmterr.ErrNumericIDUnknown
			}
			return store.EntityIDSet{}, err
		}
		if err := store.UpdateAlias(tx, g.GroupUID, reqBody.Alias); err != nil {
			return store.EntityIDSet{}, err
		}
		return store.EntityIDSet{UID: g.GroupUID, Alias: reqBody.Alias, Kind: store.EntityBuddyGroup, NumericID: id}, nil
	}

	var set store.EntityIDSet
	if execute(r) {
		set, err = store.Write(r.Context(), s.Store.Engine, run)
	} else {
		set, err = store.Read(r.Context(), s.Store.Engine, run)
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, toEntityIDSet(set))
}

// wireKind is adminrpc's own copy of wireserver's unexported kind
// mapping, needed only to build the RemoveBuddyGroupMsg this package
// sends directly over the outbound pool.
func wireKind(k store.NodeKind) wire.NodeKind {
	switch k {
	case store.NodeKindMeta:
		return wire.NodeMeta
	case store.NodeKindStorage:
		return wire.NodeStorage
	case store.NodeKindClient:
		return wire.NodeClient
	default:
		return wire.NodeManagement
	}
}
