package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
)

const (
	TargetIDMin = 1
	TargetIDMax = 0xFFFF
)

// RegisterTarget is idempotent on numeric id: if it already exists it
// is returned unchanged; otherwise, subject to registrationEnabled, a
// fresh storage target is inserted in the default pool.
func RegisterTarget(tx *gorm.DB, numericID uint16, alias string, registrationEnabled bool) (uint16, error) {
	var t Target
	err := tx.Where("node_kind = ? AND target_id = ?", NodeKindStorage, numericID).First(&t).Error
	if err == nil {
		return t.TargetID, nil
	}
	if err != gorm.ErrRecordNotFound {
		return 0, err
	}
	if !registrationEnabled {
		return 0, mgmterr.ErrInvariantViolated
	}

	id := numericID
	if id == 0 {
		found, err := FindNewID(tx, "targets", "target_id", TargetIDMin, TargetIDMax)
		if err != nil {
			return 0, err
		}
		id = uint16(found)
	}

	uid, err := InsertEntity(tx, EntityTarget, alias)
	if err != nil {
		return 0, err
	}
	row := Target{
		TargetUID:   uid,
		TargetID:    id,
		NodeKind:    NodeKindStorage,
		Consistency: ConsistencyGood,
		LastContact: time.Now().Unix(),
	}
	if err := tx.Create(&row).Error; err != nil {
		return 0, err
	}
	if err := tx.Create(&StorageTarget{TargetUID: uid, PoolID: DefaultPoolID}).Error; err != nil {
		return 0, err
	}
	return id, nil
}

// MapTargets assigns a set of storage targets to an owning node,
// validating the node exists and is storage-kind and every target id
// exists, per spec.md §4.F "Target mapping".
func MapTargets(tx *gorm.DB, nodeNumericID uint16, targetIDs []uint16) error {
	var node Node
	if err := tx.Where("node_kind = ? AND node_id = ?", NodeKindStorage, nodeNumericID).First(&node).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return mgmterr.ErrNumericIDUnknown
		}
		return err
	}
	for _, tid := range targetIDs {
		res := tx.Model(&Target{}).
			Where("node_kind = ? AND target_id = ?", NodeKindStorage, tid).
			Update("node_uid", node.NodeUID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return mgmterr.ErrNumericIDUnknown
		}
	}
	return nil
}

// TargetCapacities is the snapshot reported by a storage target.
type TargetCapacities struct {
	TargetID    uint16
	TotalSpace  *int64
	FreeSpace   *int64
	TotalInodes *int64
	FreeInodes  *int64
}

// SetTargetCapacities overwrites the capacity snapshot fields; no
// fan-out accompanies this (capacity is rate-driven elsewhere, per
// spec.md §4.F).
func SetTargetCapacities(tx *gorm.DB, caps []TargetCapacities) error {
	for _, c := range caps {
		var st StorageTarget
		if err := tx.Where("target_uid IN (SELECT target_uid FROM targets WHERE target_id = ? AND node_kind = ?)", c.TargetID, NodeKindStorage).First(&st).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				continue
			}
			return err
		}
		st.TotalSpace, st.FreeSpace, st.TotalInodes, st.FreeInodes = c.TotalSpace, c.FreeSpace, c.TotalInodes, c.FreeInodes
		if err := tx.Save(&st).Error; err != nil {
			return err
		}
	}
	return nil
}

// SetConsistency updates a target's consistency state, optionally
// bumping last-contact ("with online re-tick" variant). Returns whether
// the value actually changed, so callers only fan out on real changes.
func SetConsistency(tx *gorm.DB, kind NodeKind, targetID uint16, consistency Consistency, bumpLastContact bool) (bool, error) {
	var t Target
	if err := tx.Where("node_kind = ? AND target_id = ?", kind, targetID).First(&t).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, mgmterr.ErrNumericIDUnknown
		}
		return false, err
	}
	changed := t.Consistency != consistency
	t.Consistency = consistency
	if bumpLastContact {
		t.LastContact = time.Now().Unix()
	}
	if err := tx.Save(&t).Error; err != nil {
		return false, err
	}
	return changed, nil
}

// Reachability is derived at read time, never stored.
type Reachability int

const (
	Online Reachability = iota
	ProbablyOffline
	Offline
)

// ClassifyReachability preserves the original's exact piecewise order:
// Online if age < timeout, then ProbablyOffline if age < timeout/2,
// else Offline. Because the first branch subsumes the second,
// ProbablyOffline is unreachable; this is a known, deliberately
// preserved property (see DESIGN.md), not a bug to fix here.
func ClassifyReachability(age, timeout time.Duration) Reachability {
	if age < timeout {
		return Online
	} else if age < timeout/2 {
		return ProbablyOffline
	}
	return Offline
}

// CapPoolLimits is the static (non-hysteresis) capacity threshold set.
type CapPoolLimits struct {
	SpaceLow        int64
	SpaceEmergency  int64
	InodesLow       int64
	InodesEmergency int64
}

// CapacityClass is the derived capacity tier of a target.
type CapacityClass int

const (
	CapNormal CapacityClass = iota
	CapLow
	CapEmergency
)

// ClassifyCapacity mirrors the original's calc_cap_pool exactly: absent
// free values (nil) classify as Emergency; otherwise Emergency if
// either value is below its emergency threshold; otherwise Low if
// either is below its low threshold; otherwise Normal.
func ClassifyCapacity(freeSpace, freeInodes *int64, limits CapPoolLimits) CapacityClass {
	if freeSpace == nil || freeInodes == nil {
		return CapEmergency
	}
	if *freeSpace < limits.SpaceEmergency || *freeInodes < limits.InodesEmergency {
		return CapEmergency
	}
	if *freeSpace < limits.SpaceLow || *freeInodes < limits.InodesLow {
		return CapLow
	}
	return CapNormal
}

// RemoveTarget deletes a storage target row. Callers enforce that it is
// not a member of any buddy group before calling this.
func RemoveTarget(tx *gorm.DB, targetID uint16) error {
	var t Target
	if err := tx.Where("node_kind = ? AND target_id = ?", NodeKindStorage, targetID).First(&t).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return mgmterr.ErrNumericIDUnknown
		}
		return err
	}
	if err := tx.Where("target_uid = ?", t.TargetUID).Delete(&StorageTarget{}).Error; err != nil {
		return err
	}
	if err := tx.Delete(&t).Error; err != nil {
		return err
	}
	return tx.Where("uid = ?", t.TargetUID).Delete(&Entity{}).Error
}

// DeleteTargetChecked enforces delete_target's invariant (spec.md
// §4.I): a storage target that is a member of any buddy group cannot
// be individually removed — the group is the unit of membership.
func DeleteTargetChecked(tx *gorm.DB, targetID uint16) error {
	var count int64
	if err := tx.Model(&BuddyGroup{}).
		Where("node_kind = ? AND (p_target_id = ? OR s_target_id = ?)", NodeKindStorage, targetID, targetID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: target belongs to a buddy group", mgmterr.ErrInvariantViolated)
	}
	return RemoveTarget(tx, targetID)
}
