package adminrpc

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
	"github.com/clusterfs/fleetmgmtd/pkg/store"
	"github.com/clusterfs/fleetmgmtd/pkg/wire"
	"github.com/clusterfs/fleetmgmtd/pkg/wireserver"
)

type targetView struct {
	TargetID     uint16 `json:"target_id"`
	Consistency  string `json:"consistency"`
	Reachability string `json:"reachability"`
	Capacity     string `json:"capacity,omitempty"`
}

func reachabilityName(r store.Reachability) string {
	switch r {
	case store.Online:
		return "online"
	case store.ProbablyOffline:
		return "probably_offline"
	default:
		return "offline"
	}
}

func capacityName(c store.CapacityClass) string {
	switch c {
	case store.CapLow:
		return "low"
	case store.CapEmergency:
		return "emergency"
	default:
		return "normal"
	}
}

// listTargets mirrors handleGetStatesAndBuddyGroups's read side, adding
// the capacity classification GetNodeCapacityPools derives separately on
// the wire, since the admin surface has no equivalent size constraint
// forcing it into a second round trip.
func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	kind, err := parseKind(r.URL.Query().Get("kind"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	snap := s.Config.Get()
	limits := store.CapPoolLimits{
		SpaceLow: snap.CapPoolStorageLimits.SpaceLow, SpaceEmergency: snap.CapPoolStorageLimits.SpaceEmergency,
		InodesLow: snap.CapPoolStorageLimits.InodesLow, InodesEmergency: snap.CapPoolStorageLimits.InodesEmergency,
	}
	if kind == store.NodeKindMeta {
		limits = store.CapPoolLimits{
			SpaceLow: snap.CapPoolMetaLimits.SpaceLow, SpaceEmergency: snap.CapPoolMetaLimits.SpaceEmergency,
			InodesLow: snap.CapPoolMetaLimits.InodesLow, InodesEmergency: snap.CapPoolMetaLimits.InodesEmergency,
		}
	}

	type row struct {
		store.Target
		FreeSpace  *int64
		FreeInodes *int64
	}
	rows, err := store.Read(r.Context(), s.Store.Engine, func(tx *gorm.DB) ([]row, error) {
		var out []row
		q := tx.Table("targets").
			Select("targets.*, storage_targets.free_space, storage_targets.free_inodes").
			Joins("LEFT JOIN storage_targets ON storage_targets.target_uid = targets.target_uid").
			Where("targets.node_kind = ?", kind)
		return out, q.Scan(&out).Error
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	now := time.Now()
	out := make([]targetView, 0, len(rows))
	for _, rr := range rows {
		age := now.Sub(time.Unix(rr.LastContact, 0))
		v := targetView{
			TargetID:     rr.TargetID,
			Consistency:  string(rr.Consistency),
			Reachability: reachabilityName(store.ClassifyReachability(age, snap.NodeOfflineTimeout)),
		}
		if kind == store.NodeKindStorage {
			v.Capacity = capacityName(store.ClassifyCapacity(rr.FreeSpace, rr.FreeInodes, limits))
		}
		out = append(out, v)
	}
	WriteJSONOK(w, out)
}

// deleteTarget implements delete_target: only storage targets are
// individually deletable (a meta target is implicit to its node and
// goes away with delete_node), mirroring store.DeleteTargetChecked's
// own NodeKindStorage assumption.
func (s *Server) deleteTarget(w http.ResponseWriter, r *http.Request) {
	if s.IsPreShutdown() {
		WriteError(w, mgmterr.ErrPreShutdown)
		return
	}
	id, err := parseUint16(chi.URLParam(r, "id"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	run := func(tx *gorm.DB) (struct{}, error) {
		return struct{}{}, store.DeleteTargetChecked(tx, id)
	}
	if execute(r) {
		_, err = store.Write(r.Context(), s.Store.Engine, run)
	} else {
		_, err = store.Read(r.Context(), s.Store.Engine, run)
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	if !execute(r) {
		WriteJSONOK(w, map[string]bool{"would_succeed": true})
		return
	}

	wireserver.FanOut(r.Context(), s.Store, s.Resolver, s.Outbound, s.Metrics, "RemoveTarget", wire.MsgRefreshTargetStates,
		[]store.NodeKind{store.NodeKindMeta, store.NodeKindStorage, store.NodeKindClient}, nil)
	WriteJSONOK(w, map[string]string{"status": "deleted"})
}

func (s *Server) setTargetState(w http.ResponseWriter, r *http.Request) {
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
	var body struct {
		Consistency     string `json:"consistency"`
		BumpLastContact bool   `json:"bump_last_contact"`
	}
	if err := decodeJSON(r, &body); err != nil {
		BadRequest(w, err.Error())
		return
	}
	consistency := store.Consistency(body.Consistency)
	switch consistency {
	case store.ConsistencyGood, store.ConsistencyNeedsResync, store.ConsistencyBad:
	default:
		BadRequest(w, "unrecognized consistency value")
		return
	}

	run := func(tx *gorm.DB) (bool, error) {
		return store.SetConsistency(tx, kind, id, consistency, body.BumpLastContact)
	}
	var changed bool
	if execute(r) {
		changed, err = store.Write(r.Context(), s.Store.Engine, run)
	} else {
		changed, err = store.Read(r.Context(), s.Store.Engine, run)
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	if execute(r) && changed {
		wireserver.FanOut(r.Context(), s.Store, s.Resolver, s.Outbound, s.Metrics, "RefreshTargetStates", wire.MsgRefreshTargetStates,
			[]store.NodeKind{store.NodeKindMeta, store.NodeKindStorage, store.NodeKindClient}, nil)
	}
	WriteJSONOK(w, map[string]bool{"changed": changed})
}

func (s *Server) setTargetAlias(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint16(chi.URLParam(r, "id"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	var body struct {
		Alias string `json:"alias"`
	}
	if err := decodeJSON(r, &body); err != nil {
		BadRequest(w, err.Error())
		return
	}

	run := func(tx *gorm.DB) (store.EntityIDSet, error) {
		var t store.Target
		if err := tx.Where("node_kind = ? AND target_id = ?", store.NodeKindStorage, id).First(&t).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return store.EntityIDSet{}, mgmterr.ErrNumericIDUnknown
			}
			return store.EntityIDSet{}, err
		}
		if err := store.UpdateAlias(tx, t.TargetUID, body.Alias); err != nil {
			return store.EntityIDSet{}, err
		}
		return store.EntityIDSet{UID: t.TargetUID, Alias: body.Alias, Kind: store.EntityTarget, NumericID: id}, nil
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
