package store

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
)

const (
	PoolIDMin = 1
	PoolIDMax = 0xFFFF
)

// AllStoragePools lists every pool, grounded on the original's
// storage_pools::all.
func AllStoragePools(tx *gorm.DB) ([]StoragePool, error) {
	var pools []StoragePool
	if err := tx.Order("pool_id").Find(&pools).Error; err != nil {
		return nil, err
	}
	return pools, nil
}

// CreateStoragePool inserts a new pool, assigning a numeric id in
// [1,0xFFFF] when none is requested (id 1 itself is reserved for the
// seeded default pool and is never handed out by FindNewID because it
// is always occupied).
func CreateStoragePool(tx *gorm.DB, alias string, requestedID uint16) (EntityIDSet, error) {
	id := requestedID
	if id == 0 {
		found, err := FindNewID(tx, "storage_pools", "pool_id", PoolIDMin, PoolIDMax)
		if err != nil {
			return EntityIDSet{}, err
		}
		id = uint16(found)
	}
	uid, err := InsertEntity(tx, EntityPool, alias)
	if err != nil {
		return EntityIDSet{}, err
	}
	if err := tx.Create(&StoragePool{PoolUID: uid, PoolID: id}).Error; err != nil {
		return EntityIDSet{}, err
	}
	return EntityIDSet{UID: uid, Alias: alias, Kind: EntityPool, NumericID: id}, nil
}

// DeleteStoragePool refuses the default pool and any non-empty pool
// (targets or groups still referencing it), matching the original's
// delete() invariant check before the row delete.
func DeleteStoragePool(tx *gorm.DB, poolID uint16) error {
	if poolID == DefaultPoolID {
		return fmt.Errorf("%w: the default pool cannot be deleted", mgmterr.ErrInvariantViolated)
	}

	var targetCount, groupCount int64
	if err := tx.Model(&StorageTarget{}).Where("pool_id = ?", poolID).Count(&targetCount).Error; err != nil {
		return err
	}
	if err := tx.Model(&BuddyGroup{}).Where("pool_id = ?", poolID).Count(&groupCount).Error; err != nil {
		return err
	}
	if targetCount > 0 || groupCount > 0 {
		return fmt.Errorf("%w: pool %d still has members", mgmterr.ErrNotEmpty, poolID)
	}

	var pool StoragePool
	if err := tx.Where("pool_id = ?", poolID).First(&pool).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return mgmterr.ErrNumericIDUnknown
		}
		return err
	}
	if err := tx.Delete(&pool).Error; err != nil {
		return err
	}
	return tx.Where("uid = ?", pool.PoolUID).Delete(&Entity{}).Error
}

// ReassignPoolMembersToDefault moves every target and group out of
// poolID into the default pool, the precondition an admin-level
// "delete pool" flow runs before DeleteStoragePool when the operator
// asked for reassignment rather than a bare empty check.
func ReassignPoolMembersToDefault(tx *gorm.DB, poolID uint16) error {
	if err := tx.Model(&StorageTarget{}).Where("pool_id = ?", poolID).Update("pool_id", DefaultPoolID).Error; err != nil {
		return err
	}
	return tx.Model(&BuddyGroup{}).Where("pool_id = ?", poolID).Update("pool_id", DefaultPoolID).Error
}
