package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
)

// FindNewID assigns a numeric id within [min, max] for a per-kind id
// space, preferring the largest gap, then the smallest unused id, then
// the range minimum if the space is empty. Grounded exactly on the
// original's three-tier COALESCE query in db/misc.rs::find_new_id: the
// first subquery finds id+1 immediately after the largest id that still
// leaves a gap before the next used id (ordered by id DESC), the second
// finds the smallest id+1 not already used (ordered by id ASC), and the
// fallback is the range minimum when the table has no rows in range.
func FindNewID(tx *gorm.DB, table, column string, min, max uint32) (uint32, error) {
	var id *uint32

	// Largest hole: the highest used id whose successor is still free
	// and in range, preferring gaps near the top of the range.
	row := tx.Raw(fmt.Sprintf(`
		SELECT t1.%s + 1 FROM %s t1
		WHERE t1.%s + 1 <= ?
		  AND t1.%s + 1 >= ?
		  AND NOT EXISTS (SELECT 1 FROM %s t2 WHERE t2.%s = t1.%s + 1)
		ORDER BY t1.%s DESC
		LIMIT 1
	`, column, table, column, column, table, column, column, column), max, min).Row()
	var candidate uint32
	if err := row.Scan(&candidate); err == nil {
		id = &candidate
	}

	if id == nil {
		row = tx.Raw(fmt.Sprintf(`
			SELECT MIN(t1.%s + 1) FROM %s t1
			WHERE t1.%s + 1 <= ? AND t1.%s + 1 >= ?
			  AND NOT EXISTS (SELECT 1 FROM %s t2 WHERE t2.%s = t1.%s + 1)
		`, column, table, column, column, table, column, column), max, min).Row()
		var smallest *uint32
		if err := row.Scan(&smallest); err == nil && smallest != nil {
			id = smallest
		}
	}

	if id == nil {
		var count int64
		if err := tx.Table(table).Where(fmt.Sprintf("%s BETWEEN ? AND ?", column), min, max).Count(&count).Error; err != nil {
			return 0, err
		}
		if count == 0 {
			id = &min
		}
	}

	if id == nil {
		return 0, fmt.Errorf("%w: no free numeric id in range [%d,%d] for %s.%s", mgmterr.ErrInvariantViolated, min, max, table, column)
	}
	return *id, nil
}

// GetConfigValue returns the raw json-encoded value stored under key.
func GetConfigValue(tx *gorm.DB, key string) (string, bool, error) {
	var row ConfigEntry
	err := tx.Where("key = ?", key).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

// SetConfigValue upserts the raw json-encoded value for key. Callers in
// pkg/dynconfig validate the key and value shape before calling this;
// the store layer itself does not know the closed key set.
func SetConfigValue(tx *gorm.DB, key, value string) error {
	return tx.Save(&ConfigEntry{Key: key, Value: value}).Error
}

// AllConfigValues returns every persisted config row, used to seed the
// dynamic config cache at startup.
func AllConfigValues(tx *gorm.DB) (map[string]string, error) {
	var rows []ConfigEntry
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// MetaRoot classifies the current state of the root inode pointer.
type MetaRoot int

const (
	MetaRootUnknown MetaRoot = iota
	MetaRootNormal           // points at a target, unmirrored
	MetaRootMirrored         // points at a buddy group
)

// GetMetaRoot inspects the singleton root_inode row.
func GetMetaRoot(tx *gorm.DB) (MetaRoot, *uint16, *uint16, error) {
	var r RootInode
	if err := tx.First(&r, "id = ?", 1).Error; err != nil {
		return MetaRootUnknown, nil, nil, err
	}
	switch {
	case r.TargetID != nil && r.BuddyGroupID == nil:
		return MetaRootNormal, r.TargetID, nil, nil
	case r.BuddyGroupID != nil && r.TargetID == nil:
		return MetaRootMirrored, nil, r.BuddyGroupID, nil
	default:
		return MetaRootUnknown, nil, nil, fmt.Errorf("%w: root_inode row has invalid null pattern", mgmterr.ErrInternal)
	}
}

// ValidateMirrorRootPreconditions enforces the three preconditions of
// mirror_root_inode (spec.md §4.F) that EnableMetadataMirroring itself
// does not check because they are about the surrounding fleet, not the
// row being mutated: the root must currently be unmirrored, no client
// nodes may be registered, and no meta or storage node other than the
// root's own meta node may have contacted within offlineTimeout. The
// "target is a primary in a meta buddy group" precondition is enforced
// by EnableMetadataMirroring's own lookup and is not duplicated here.
func ValidateMirrorRootPreconditions(tx *gorm.DB, primaryTargetID uint16, offlineTimeout time.Duration, now time.Time) error {
	rootKind, _, _, err := GetMetaRoot(tx)
	if err != nil {
		return err
	}
	if rootKind != MetaRootNormal {
		return fmt.Errorf("%w: root inode is already mirrored", mgmterr.ErrInvariantViolated)
	}

	var clientCount int64
	if err := tx.Model(&Node{}).Where("node_kind = ?", NodeKindClient).Count(&clientCount).Error; err != nil {
		return err
	}
	if clientCount > 0 {
		return fmt.Errorf("%w: client nodes are still registered", mgmterr.ErrInvariantViolated)
	}

	cutoff := now.Add(-offlineTimeout).Unix()
	var recentOthers int64
	if err := tx.Model(&Node{}).
		Where("node_kind IN ? AND NOT (node_kind = ? AND node_id = ?) AND last_contact >= ?",
			[]NodeKind{NodeKindMeta, NodeKindStorage}, NodeKindMeta, primaryTargetID, cutoff).
		Count(&recentOthers).Error; err != nil {
		return err
	}
	if recentOthers > 0 {
		return fmt.Errorf("%w: other meta/storage nodes have contacted recently", mgmterr.ErrInvariantViolated)
	}
	return nil
}

// EnableMetadataMirroring flips the root pointer from (target_id) to
// (buddy_group_id) and marks the secondary target needs_resync, in the
// same two statements as the original's enable_metadata_mirroring: a
// single UPDATE joining buddy_groups on the primary target id to find
// the owning group, then a second UPDATE on that group's secondary.
func EnableMetadataMirroring(tx *gorm.DB, primaryTargetID uint16) error {
	var group BuddyGroup
	if err := tx.Where("node_kind = ? AND p_target_id = ?", NodeKindMeta, primaryTargetID).First(&group).Error; err != nil {
		return fmt.Errorf("%w: root target is not a primary in any meta buddy group: %v", mgmterr.ErrInvariantViolated, err)
	}

	res := tx.Model(&RootInode{}).Where("id = ? AND target_id = ?", 1, primaryTargetID).
		Updates(map[string]any{"target_id": nil, "buddy_group_id": group.GroupID})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: root inode was not pointing at the expected target", mgmterr.ErrInvariantViolated)
	}

	res = tx.Model(&Target{}).
		Where("node_kind = ? AND target_id = ?", NodeKindMeta, group.STargetID).
		Update("consistency", ConsistencyNeedsResync)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: secondary target row missing", mgmterr.ErrInternal)
	}
	return nil
}
