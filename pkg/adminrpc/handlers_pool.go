package adminrpc

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/pkg/license"
	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
	"github.com/clusterfs/fleetmgmtd/pkg/store"
	"github.com/clusterfs/fleetmgmtd/pkg/wire"
	"github.com/clusterfs/fleetmgmtd/pkg/wireserver"
)

type storagePoolView struct {
	PoolID uint16 `json:"pool_id"`
	Alias  string `json:"alias"`
}

func (s *Server) listStoragePools(w http.ResponseWriter, r *http.Request) {
	out, err := store.Read(r.Context(), s.Store.Engine, func(tx *gorm.DB) ([]storagePoolView, error) {
		pools, err := store.AllStoragePools(tx)
		if err != nil {
			return nil, err
		}
		views := make([]storagePoolView, 0, len(pools))
		for _, p := range pools {
			alias, _, err := store.GetAlias(tx, p.PoolUID)
			if err != nil {
				return nil, err
			}
			views = append(views, storagePoolView{PoolID: p.PoolID, Alias: alias})
		}
		return views, nil
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, out)
}

func (s *Server) createStoragePool(w http.ResponseWriter, r *http.Request) {
	if s.IsPreShutdown() {
		WriteError(w, mgmterr.ErrPreShutdown)
		return
	}
	if !s.License.Licensed(license.FeatureStoragePools) {
		WriteError(w, mgmterr.ErrFeatureUnlicensed)
		return
	}
	var body struct {
		Alias  string `json:"alias"`
		PoolID uint16 `json:"pool_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		BadRequest(w, err.Error())
		return
	}

	run := func(tx *gorm.DB) (store.EntityIDSet, error) {
		return store.CreateStoragePool(tx, body.Alias, body.PoolID)
	}
	var set store.EntityIDSet
	var err error
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

func (s *Server) deleteStoragePool(w http.ResponseWriter, r *http.Request) {
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
		return struct{}{}, store.DeleteStoragePool(tx, id)
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
	wireserver.FanOut(r.Context(), s.Store, s.Resolver, s.Outbound, s.Metrics, "RemoveStoragePool", wire.MsgRefreshStoragePools,
		[]store.NodeKind{store.NodeKindStorage}, nil)
	WriteJSONOK(w, map[string]string{"status": "deleted"})
}

func (s *Server) setStoragePoolAlias(w http.ResponseWriter, r *http.Request) {
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
		var p store.StoragePool
		if err := tx.Where("pool_id = ?", id).First(&p).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return store.EntityIDSet{}, mgmterr.ErrNumericIDUnknown
			}
			return store.EntityIDSet{}, err
		}
		if err := store.UpdateAlias(tx, p.PoolUID, body.Alias); err != nil {
			return store.EntityIDSet{}, err
		}
		return store.EntityIDSet{UID: p.PoolUID, Alias: body.Alias, Kind: store.EntityPool, NumericID: id}, nil
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

// assignPool implements pool assignment for both bare targets and whole
// buddy groups in one call, gated the same as storage pool creation
// since an assignment only matters once multiple pools exist. The
// RefreshStoragePools notification (wire.MsgRefreshStoragePools) exists
// in the legacy message set for exactly this: telling storage nodes
// their pool membership changed without the heavier RefreshTargetStates
// payload.
func (s *Server) assignPool(w http.ResponseWriter, r *http.Request) {
	if s.IsPreShutdown() {
		WriteError(w, mgmterr.ErrPreShutdown)
		return
	}
	if !s.License.Licensed(license.FeatureStoragePools) {
		WriteError(w, mgmterr.ErrFeatureUnlicensed)
		return
	}
	var body struct {
		TargetIDs []uint16 `json:"target_ids"`
		GroupIDs  []uint16 `json:"group_ids"`
		PoolID    uint16   `json:"pool_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		BadRequest(w, err.Error())
		return
	}

	run := func(tx *gorm.DB) (struct{}, error) {
		if err := store.AssignPoolToTargets(tx, body.TargetIDs, body.PoolID); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, store.AssignPoolToGroups(tx, body.GroupIDs, body.PoolID)
	}
	var err error
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
	wireserver.FanOut(r.Context(), s.Store, s.Resolver, s.Outbound, s.Metrics, "AssignPool", wire.MsgRefreshStoragePools,
		[]store.NodeKind{store.NodeKindStorage, store.NodeKindMeta, store.NodeKindClient}, nil)
	WriteJSONOK(w, map[string]string{"status": "assigned"})
}
