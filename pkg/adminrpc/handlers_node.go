package adminrpc

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
	"github.com/clusterfs/fleetmgmtd/pkg/store"
	"github.com/clusterfs/fleetmgmtd/pkg/wire"
	"github.com/clusterfs/fleetmgmtd/pkg/wireserver"
)

// nodeView is the JSON projection of store.NodeView returned by listNodes.
type nodeView struct {
	NumericID   uint16   `json:"numeric_id"`
	Alias       string   `json:"alias"`
	Port        uint16   `json:"port"`
	LastContact int64    `json:"last_contact"`
	MachineUUID string   `json:"machine_uuid,omitempty"`
	NICs        []nicView `json:"nics,omitempty"`
}

type nicView struct {
	Addr string `json:"addr"`
	Name string `json:"name"`
	Kind uint8  `json:"kind"`
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	kind, err := parseKind(r.URL.Query().Get("kind"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	nodes, err := store.Read(r.Context(), s.Store.Engine, func(tx *gorm.DB) ([]store.NodeView, error) {
		return store.ListNodes(tx, kind)
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	out := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		v := nodeView{NumericID: n.NodeID, Alias: n.Alias, Port: n.Port, LastContact: n.LastContact, MachineUUID: n.MachineUUID}
		for _, nic := range n.NICs {
			v.NICs = append(v.NICs, nicView{Addr: nic.Addr, Name: nic.Name, Kind: nic.NicType})
		}
		out = append(out, v)
	}
	WriteJSONOK(w, out)
}

// deleteNode implements delete_node (spec.md §4.I): execute=false runs
// store.DeleteNodeChecked's invariants inside a rolled-back transaction
// and reports what would happen; execute=true commits and fans out the
// same audience handleRemoveNode notifies on the wire side.
func (s *Server) deleteNode(w http.ResponseWriter, r *http.Request) {
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

	var nodeUID uint64
	run := func(tx *gorm.DB) (struct{}, error) {
		var n store.Node
		if err := tx.Where("node_kind = ? AND node_id = ?", kind, id).First(&n).Error; err == nil {
			nodeUID = n.NodeUID
		}
		return struct{}{}, store.DeleteNodeChecked(tx, kind, id)
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

	s.Resolver.Invalidate(nodeUID)
	if kinds, ok := wireserver.RemoveNodeFanOutKinds(kind); ok {
		wireserver.FanOut(r.Context(), s.Store, s.Resolver, s.Outbound, s.Metrics, "RemoveNode", wire.MsgRemoveNode, kinds, nil)
	}
	WriteJSONOK(w, map[string]string{"status": "deleted"})
}

func (s *Server) setNodeAlias(w http.ResponseWriter, r *http.Request) {
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
		Alias string `json:"alias"`
	}
	if err := decodeJSON(r, &body); err != nil {
		BadRequest(w, err.Error())
		return
	}

	run := func(tx *gorm.DB) (store.EntityIDSet, error) {
		var n store.Node
		if err := tx.Where("node_kind = ? AND node_id = ?", kind, id).First(&n).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return store.EntityIDSet{}, mgmterr.ErrNumericIDUnknown
			}
			return store.EntityIDSet{}, err
		}
		if err := store.UpdateAlias(tx, n.NodeUID, body.Alias); err != nil {
			return store.EntityIDSet{}, err
		}
		return store.EntityIDSet{UID: n.NodeUID, Alias: body.Alias, Kind: store.EntityNode, NumericID: id}, nil
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
		s.Resolver.Invalidate(set.UID)
	}
	WriteJSONOK(w, toEntityIDSet(set))
}
