package adminrpc

import (
	"errors"
	"net/http"

	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/pkg/license"
	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
	"github.com/clusterfs/fleetmgmtd/pkg/store"
)

type exceededQuotaView struct {
	QuotaID   uint32 `json:"quota_id"`
	IDType    string `json:"id_type"`
	QuotaType string `json:"quota_type"`
	PoolID    uint16 `json:"pool_id"`
}

func (s *Server) listQuotaExceeded(w http.ResponseWriter, r *http.Request) {
	if !s.License.Licensed(license.FeatureQuota) {
		WriteError(w, mgmterr.ErrFeatureUnlicensed)
		return
	}
	entries, err := store.Read(r.Context(), s.Store.Engine, func(tx *gorm.DB) ([]store.ExceededQuotaEntry, error) {
		return store.ExceededQuotaEntries(tx)
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	out := make([]exceededQuotaView, 0, len(entries))
	for _, e := range entries {
		out = append(out, exceededQuotaView{QuotaID: e.QuotaID, IDType: string(e.IDType), QuotaType: string(e.QuotaType), PoolID: e.PoolID})
	}
	WriteJSONOK(w, out)
}

type quotaLimitBody struct {
	QuotaID   uint32 `json:"quota_id"`
	IDType    string `json:"id_type"`
	QuotaType string `json:"quota_type"`
	PoolID    uint16 `json:"pool_id"`
	Value     int64  `json:"value"`
}

func parseQuotaLimitBody(r *http.Request) (quotaLimitBody, store.QuotaIDType, store.QuotaType, error) {
	var body quotaLimitBody
	if err := decodeJSON(r, &body); err != nil {
		return body, "", "", err
	}
	idType := store.QuotaIDType(body.IDType)
	if idType != store.QuotaIDUser && idType != store.QuotaIDGroup {
		return body, "", "", errUnrecognizedIDType
	}
	quotaType := store.QuotaType(body.QuotaType)
	if quotaType != store.QuotaTypeSpace && quotaType != store.QuotaTypeInodes {
		return body, "", "", errUnrecognizedQuotaType
	}
	return body, idType, quotaType, nil
}

var (
	errUnrecognizedIDType    = errors.New("unrecognized id_type")
	errUnrecognizedQuotaType = errors.New("unrecognized quota_type")
)

// setQuotaLimit upserts an explicit per-id limit (spec.md §4.I); a
// value of -1 reverts the id to the pool default.
func (s *Server) setQuotaLimit(w http.ResponseWriter, r *http.Request) {
	if s.IsPreShutdown() {
		WriteError(w, mgmterr.ErrPreShutdown)
		return
	}
	if !s.License.Licensed(license.FeatureQuota) {
		WriteError(w, mgmterr.ErrFeatureUnlicensed)
		return
	}
	body, idType, quotaType, err := parseQuotaLimitBody(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	run := func(tx *gorm.DB) (struct{}, error) {
		return struct{}{}, store.SetQuotaLimit(tx, body.QuotaID, idType, quotaType, body.PoolID, body.Value)
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
	WriteJSONOK(w, map[string]bool{"applied": execute(r)})
}

func (s *Server) setDefaultQuotaLimit(w http.ResponseWriter, r *http.Request) {
	if s.IsPreShutdown() {
		WriteError(w, mgmterr.ErrPreShutdown)
		return
	}
	if !s.License.Licensed(license.FeatureQuota) {
		WriteError(w, mgmterr.ErrFeatureUnlicensed)
		return
	}
	body, _, quotaType, err := parseQuotaLimitBody(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	idType := store.QuotaIDType(body.IDType)

	run := func(tx *gorm.DB) (struct{}, error) {
		return struct{}{}, store.SetDefaultQuotaLimit(tx, idType, quotaType, body.PoolID, body.Value)
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
	WriteJSONOK(w, map[string]bool{"applied": execute(r)})
}
