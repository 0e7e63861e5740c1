package control

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/pkg/config"
	"github.com/clusterfs/fleetmgmtd/pkg/dynconfig"
	"github.com/clusterfs/fleetmgmtd/pkg/store"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	st, err := store.Open(config.DatabaseConfig{
		Type:       config.DatabaseTypeSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "mgmtd.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := dynconfig.New()
	return Deps{Store: st, Config: cfg}
}

func TestSweepStaleClientsReapsOnlyExpired(t *testing.T) {
	d := newTestDeps(t)
	ctx := context.Background()

	now := time.Now().Unix()
	_, err := store.Write(ctx, d.Store.Engine, func(tx *gorm.DB) (any, error) {
		uidStale, err := store.InsertEntity(tx, store.EntityNode, "stale-client")
		if err != nil {
			return nil, err
		}
		if err := tx.Create(&store.Node{NodeUID: uidStale, NodeKind: store.NodeKindClient, NodeID: 1, LastContact: now - 3600}).Error; err != nil {
			return nil, err
		}
		uidFresh, err := store.InsertEntity(tx, store.EntityNode, "fresh-client")
		if err != nil {
			return nil, err
		}
		return nil, tx.Create(&store.Node{NodeUID: uidFresh, NodeKind: store.NodeKindClient, NodeID: 2, LastContact: now}).Error
	})
	require.NoError(t, err)

	d.sweepStaleClients(ctx)

	remaining, err := store.Read(ctx, d.Store.Engine, func(tx *gorm.DB) ([]store.NodeView, error) {
		return store.ListNodes(tx, store.NodeKindClient)
	})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, uint16(2), remaining[0].NodeID)
}

func TestSweepQuotaRefreshSkippedWhenDisabled(t *testing.T) {
	d := newTestDeps(t)
	require.False(t, d.Config.Get().QuotaEnable, "quota sweep should be a no-op against the default disabled snapshot")
	d.sweepQuotaRefresh(context.Background())
}
