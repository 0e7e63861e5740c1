package adminrpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clusterfs/fleetmgmtd/pkg/config"
	"github.com/clusterfs/fleetmgmtd/pkg/dynconfig"
	"github.com/clusterfs/fleetmgmtd/pkg/license"
	"github.com/clusterfs/fleetmgmtd/pkg/peerresolve"
	"github.com/clusterfs/fleetmgmtd/pkg/store"
	"github.com/clusterfs/fleetmgmtd/pkg/transport"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	st, err := store.Open(config.DatabaseConfig{
		Type:       config.DatabaseTypeSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "mgmtd.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	s := New(st, dynconfig.New(), peerresolve.New(st.Engine), transport.NewOutboundPool(0, false, nil), license.AlwaysLicensed{}, nil)
	return s, NewRouter(s)
}

func TestCreateStoragePoolPreviewDoesNotCommit(t *testing.T) {
	_, router := newTestServer(t)

	body := strings.NewReader(`{"alias":"pool-a","pool_id":2}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/storage-pools/", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got EntityIDSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "pool-a", got.Alias)

	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/storage-pools/", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	var pools []storagePoolView
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &pools))
	require.Len(t, pools, 1, "preview must not commit: only the seeded default pool exists")
}

func TestCreateStoragePoolExecuteCommits(t *testing.T) {
	_, router := newTestServer(t)

	body := strings.NewReader(`{"alias":"pool-a","pool_id":2}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/storage-pools/?execute=true", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/storage-pools/", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	var pools []storagePoolView
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &pools))
	require.Len(t, pools, 2)
}

func TestQuotaOperationsRejectedWhenUnlicensed(t *testing.T) {
	s, _ := newTestServer(t)
	s.License = denyAll{}
	router := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quota-limits/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestMirrorRootInodeRejectedDuringPreShutdown(t *testing.T) {
	s, router := newTestServer(t)
	s.SetPreShutdown(true)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/root-inode/mirror", strings.NewReader(`{"primary_target_id":1}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type denyAll struct{}

func (denyAll) Licensed(license.Feature) bool { return false }
