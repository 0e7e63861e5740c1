package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/pkg/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.DatabaseConfig{
		Type:       config.DatabaseTypeSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "mgmtd.db"),
	}
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSeedDefaults(t *testing.T) {
	s := newTestStore(t)
	pools, err := Read(context.Background(), s.Engine, func(tx *gorm.DB) ([]StoragePool, error) {
		return AllStoragePools(tx)
	})
	require.NoError(t, err)
	require.Len(t, pools, 1)
	require.Equal(t, DefaultPoolID, pools[0].PoolID)
}

func TestEntityAliasUniqueAcrossKinds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := Write(ctx, s.Engine, func(tx *gorm.DB) (uint64, error) {
		return InsertEntity(tx, EntityNode, "shared")
	})
	require.NoError(t, err)

	_, err = Write(ctx, s.Engine, func(tx *gorm.DB) (uint64, error) {
		return InsertEntity(tx, EntityTarget, "shared")
	})
	require.Error(t, err)
}

func TestFindNewIDPrefersLargestHole(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := Write(ctx, s.Engine, func(tx *gorm.DB) (any, error) {
		// Pool 1 is the seeded default pool.
		for _, id := range []uint16{2, 4, 5} {
			uid, err := InsertEntity(tx, EntityPool, aliasFor(id))
			if err != nil {
				return nil, err
			}
			if err := tx.Create(&StoragePool{PoolUID: uid, PoolID: id}).Error; err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	require.NoError(t, err)

	id, err := Read(ctx, s.Engine, func(tx *gorm.DB) (uint32, error) {
		return FindNewID(tx, "storage_pools", "pool_id", 1, 10)
	})
	require.NoError(t, err)
	require.Equal(t, uint32(6), id, "should take the greatest hole (after 5) before filling the hole at 3")
}

func aliasFor(id uint16) string {
	return "pool-" + string(rune('a'+id))
}

func TestReachabilityClassification(t *testing.T) {
	require.Equal(t, Online, ClassifyReachability(0, 10))
	require.Equal(t, Offline, ClassifyReachability(20, 10))
	// ProbablyOffline is provably unreachable: any age satisfying
	// age < timeout/2 also satisfies age < timeout.
	require.NotEqual(t, ProbablyOffline, ClassifyReachability(3, 10))
}

func TestCapacityClassification(t *testing.T) {
	limits := CapPoolLimits{SpaceLow: 100, SpaceEmergency: 10, InodesLow: 100, InodesEmergency: 10}

	require.Equal(t, CapEmergency, ClassifyCapacity(nil, nil, limits))

	space, inodes := int64(5), int64(500)
	require.Equal(t, CapEmergency, ClassifyCapacity(&space, &inodes, limits))

	space, inodes = 50, 500
	require.Equal(t, CapLow, ClassifyCapacity(&space, &inodes, limits))

	space, inodes = 500, 500
	require.Equal(t, CapNormal, ClassifyCapacity(&space, &inodes, limits))
}

func TestQuotaUpsertInodesBugPreserved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := Write(ctx, s.Engine, func(tx *gorm.DB) (any, error) {
		return nil, UpsertQuotaUsage(tx, 7, []QuotaData{{QuotaID: 1, IDType: QuotaIDUser, Space: 100, Inodes: 50}})
	})
	require.NoError(t, err)

	count, err := Read(ctx, s.Engine, func(tx *gorm.DB) (int64, error) {
		var n int64
		err := tx.Model(&QuotaEntry{}).Where("quota_type = ?", QuotaTypeInodes).Count(&n).Error
		return n, err
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), count, "non-zero inodes usage is never persisted, matching the preserved original behavior")
}
