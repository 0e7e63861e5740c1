package adminrpc

import (
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/pkg/license"
	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
	"github.com/clusterfs/fleetmgmtd/pkg/store"
	"github.com/clusterfs/fleetmgmtd/pkg/wire"
	"github.com/clusterfs/fleetmgmtd/pkg/wireserver"
)

type rootInodeView struct {
	Mirrored     bool    `json:"mirrored"`
	TargetID     *uint16 `json:"target_id,omitempty"`
	BuddyGroupID *uint16 `json:"buddy_group_id,omitempty"`
}

type rootInodeResult struct {
	kind     store.MetaRoot
	targetID *uint16
	groupID  *uint16
}

func (s *Server) getRootInode(w http.ResponseWriter, r *http.Request) {
	res, err := store.Read(r.Context(), s.Store.Engine, func(tx *gorm.DB) (rootInodeResult, error) {
		kind, targetID, groupID, err := store.GetMetaRoot(tx)
		return rootInodeResult{kind, targetID, groupID}, err
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, rootInodeView{Mirrored: res.kind == store.MetaRootMirrored, TargetID: res.targetID, BuddyGroupID: res.groupID})
}

// mirrorRootInode implements mirror_root_inode (spec.md §4.F): runs the
// three fleet-wide preconditions store.ValidateMirrorRootPreconditions
// enforces, then flips the root pointer via EnableMetadataMirroring.
// execute=false validates only, inside a transaction that always rolls
// back regardless of what EnableMetadataMirroring itself attempted to
// write.
func (s *Server) mirrorRootInode(w http.ResponseWriter, r *http.Request) {
	if s.IsPreShutdown() {
		WriteError(w, mgmterr.ErrPreShutdown)
		return
	}
	if !s.License.Licensed(license.FeatureMirroring) {
		WriteError(w, mgmterr.ErrFeatureUnlicensed)
		return
	}
	var body struct {
		PrimaryTargetID uint16 `json:"primary_target_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		BadRequest(w, err.Error())
		return
	}
	offlineTimeout := s.Config.Get().NodeOfflineTimeout

	run := func(tx *gorm.DB) (struct{}, error) {
		if err := store.ValidateMirrorRootPreconditions(tx, body.PrimaryTargetID, offlineTimeout, time.Now()); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, store.EnableMetadataMirroring(tx, body.PrimaryTargetID)
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
	wireserver.FanOut(r.Context(), s.Store, s.Resolver, s.Outbound, s.Metrics, "SetMetadataMirroring", wire.MsgSetMetadataMirroring,
		[]store.NodeKind{store.NodeKindMeta, store.NodeKindClient}, nil)
	WriteJSONOK(w, map[string]string{"status": "mirrored"})
}

func (s *Server) getLicense(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, map[string]bool{
		"mirroring":     s.License.Licensed(license.FeatureMirroring),
		"storage_pools": s.License.Licensed(license.FeatureStoragePools),
		"quota":         s.License.Licensed(license.FeatureQuota),
	})
}
