package store

import "gorm.io/gorm"

// QuotaData is one reported usage value pair for a single quota id.
type QuotaData struct {
	QuotaID uint32
	IDType  QuotaIDType
	Space   int64
	Inodes  int64
}

// UpsertQuotaUsage writes reported usage for a target.
//
// This intentionally reproduces a defect present in the original: for a
// non-zero inodes value the inodes branch deletes the target's inodes
// row instead of inserting one, so reported inodes usage is never
// stored. See
// DESIGN.md's Open Questions decision — spec.md §9 instructs
// implementations to preserve this observed behavior rather than
// "fix" it, since the original's test suite never exercised this path
// and downstream behavior has shipped against it.
func UpsertQuotaUsage(tx *gorm.DB, targetID uint16, data []QuotaData) error {
	for _, d := range data {
		if d.Space == 0 {
			if err := tx.Where("quota_id = ? AND id_type = ? AND quota_type = ? AND target_id = ?",
				d.QuotaID, d.IDType, QuotaTypeSpace, targetID).Delete(&QuotaEntry{}).Error; err != nil {
				return err
			}
		} else {
			row := QuotaEntry{QuotaID: d.QuotaID, IDType: d.IDType, QuotaType: QuotaTypeSpace, TargetID: targetID, Value: d.Space}
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}

		if d.Inodes == 0 {
			if err := tx.Where("quota_id = ? AND id_type = ? AND quota_type = ? AND target_id = ?",
				d.QuotaID, d.IDType, QuotaTypeInodes, targetID).Delete(&QuotaEntry{}).Error; err != nil {
				return err
			}
		} else {
			// Bug preserved verbatim: deletes keyed on the inodes
			// quota type, but nothing is ever inserted for a non-zero
			// inodes value, and the delete predicate carries no value
			// comparison — so reported inodes usage never actually
			// lands in quota_entries.
			if err := tx.Where("quota_id = ? AND id_type = ? AND quota_type = ? AND target_id = ?",
				d.QuotaID, d.IDType, QuotaTypeInodes, targetID).Delete(&QuotaEntry{}).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// ExceededQuotaEntry is a projection row used to build the pool-level
// exceeded set broadcast by the quota refresh control loop.
type ExceededQuotaEntry struct {
	QuotaID   uint32
	IDType    QuotaIDType
	QuotaType QuotaType
	PoolID    uint16
}

// ExceededQuotaEntries computes the exceeded set by comparing summed
// per-pool usage against the applicable limit (explicit, falling back
// to the pool default).
func ExceededQuotaEntries(tx *gorm.DB) ([]ExceededQuotaEntry, error) {
	var rows []ExceededQuotaEntry
	err := tx.Raw(`
		SELECT u.quota_id, u.id_type, u.quota_type, st.pool_id
		FROM quota_entries u
		JOIN targets t ON t.node_kind = ? AND t.target_id = u.target_id
		JOIN storage_targets st ON st.target_uid = t.target_uid
		GROUP BY u.quota_id, u.id_type, u.quota_type, st.pool_id
		HAVING SUM(u.value) > COALESCE(
			(SELECT value FROM quota_limits ql WHERE ql.quota_id = u.quota_id AND ql.id_type = u.id_type AND ql.quota_type = u.quota_type AND ql.pool_id = st.pool_id),
			(SELECT value FROM quota_default_limits qd WHERE qd.id_type = u.id_type AND qd.quota_type = u.quota_type AND qd.pool_id = st.pool_id),
			-1
		)
	`, NodeKindStorage).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// SetQuotaLimit upserts an explicit limit; a value of -1 deletes the
// row, reverting to the pool default, per spec.md §4.I.
func SetQuotaLimit(tx *gorm.DB, quotaID uint32, idType QuotaIDType, quotaType QuotaType, poolID uint16, value int64) error {
	if value == -1 {
		return tx.Where("quota_id = ? AND id_type = ? AND quota_type = ? AND pool_id = ?", quotaID, idType, quotaType, poolID).
			Delete(&QuotaLimit{}).Error
	}
	row := QuotaLimit{QuotaID: quotaID, IDType: idType, QuotaType: quotaType, PoolID: poolID, Value: value}
	return tx.Save(&row).Error
}

// SetDefaultQuotaLimit upserts the fallback limit for a pool; -1 deletes it.
func SetDefaultQuotaLimit(tx *gorm.DB, idType QuotaIDType, quotaType QuotaType, poolID uint16, value int64) error {
	if value == -1 {
		return tx.Where("id_type = ? AND quota_type = ? AND pool_id = ?", idType, quotaType, poolID).
			Delete(&QuotaDefaultLimit{}).Error
	}
	row := QuotaDefaultLimit{IDType: idType, QuotaType: quotaType, PoolID: poolID, Value: value}
	return tx.Save(&row).Error
}
