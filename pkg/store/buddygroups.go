package store

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
)

const (
	GroupIDMin = 1
	GroupIDMax = 0xFFFF
)

// CreateBuddyGroup validates that both targets exist, are of kind, and
// are distinct, assigns a numeric id if none was requested, and for
// storage groups auto-assigns both member targets into the group's
// pool — grounded on the original's create_buddy_group.rs.
func CreateBuddyGroup(tx *gorm.DB, kind NodeKind, alias string, requestedID uint16, primaryTargetID, secondaryTargetID uint16, poolID uint16) (EntityIDSet, error) {
	if primaryTargetID == secondaryTargetID {
		return EntityIDSet{}, fmt.Errorf("%w: primary and secondary target must be distinct", mgmterr.ErrInvariantViolated)
	}
	for _, tid := range []uint16{primaryTargetID, secondaryTargetID} {
		var t Target
		if err := tx.Where("node_kind = ? AND target_id = ?", kind, tid).First(&t).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return EntityIDSet{}, fmt.Errorf("%w: target %d", mgmterr.ErrNumericIDUnknown, tid)
			}
			return EntityIDSet{}, err
		}
	}

	id := requestedID
	if id == 0 {
		found, err := FindNewID(tx, "buddy_groups", "group_id", GroupIDMin, GroupIDMax)
		if err != nil {
			return EntityIDSet{}, err
		}
		id = uint16(found)
	}

	uid, err := InsertEntity(tx, EntityBuddyGroup, alias)
	if err != nil {
		return EntityIDSet{}, err
	}
	group := BuddyGroup{
		GroupUID:  uid,
		GroupID:   id,
		NodeKind:  kind,
		PTargetID: primaryTargetID,
		STargetID: secondaryTargetID,
		PoolID:    poolID,
	}
	if err := tx.Create(&group).Error; err != nil {
		return EntityIDSet{}, err
	}

	if kind == NodeKindStorage {
		for _, tid := range []uint16{primaryTargetID, secondaryTargetID} {
			if err := tx.Model(&StorageTarget{}).
				Where("target_uid IN (SELECT target_uid FROM targets WHERE node_kind = ? AND target_id = ?)", kind, tid).
				Update("pool_id", poolID).Error; err != nil {
				return EntityIDSet{}, err
			}
		}
	}

	return EntityIDSet{UID: uid, Alias: alias, Kind: EntityBuddyGroup, NumericID: id}, nil
}

// StagedBuddyGroupDelete is the result of the validate+stage phase of
// the two-phase delete protocol: the group's identity and both member
// node uids to contact, kept in memory (never inside an open
// transaction) across the remote acknowledgement round trip.
type StagedBuddyGroupDelete struct {
	GroupUID  uint64
	GroupID   uint16
	Kind      NodeKind
	PrimaryTargetID, SecondaryTargetID uint16
	PrimaryNodeUID, SecondaryNodeUID   uint64
}

// StageBuddyGroupDelete runs the validation half of delete_buddy_group:
// confirms the group exists and resolves the node uids owning its two
// member targets. It performs no mutation; it is always safe to call in
// a read transaction, including when the caller only wants a preview
// (execute=false).
func StageBuddyGroupDelete(tx *gorm.DB, kind NodeKind, groupID uint16) (StagedBuddyGroupDelete, error) {
	var group BuddyGroup
	if err := tx.Where("node_kind = ? AND group_id = ?", kind, groupID).First(&group).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return StagedBuddyGroupDelete{}, mgmterr.ErrNumericIDUnknown
		}
		return StagedBuddyGroupDelete{}, err
	}

	primaryNodeUID, err := nodeUIDOwningTarget(tx, kind, group.PTargetID)
	if err != nil {
		return StagedBuddyGroupDelete{}, err
	}
	secondaryNodeUID, err := nodeUIDOwningTarget(tx, kind, group.STargetID)
	if err != nil {
		return StagedBuddyGroupDelete{}, err
	}

	return StagedBuddyGroupDelete{
		GroupUID: group.GroupUID, GroupID: group.GroupID, Kind: kind,
		PrimaryTargetID: group.PTargetID, SecondaryTargetID: group.STargetID,
		PrimaryNodeUID: primaryNodeUID, SecondaryNodeUID: secondaryNodeUID,
	}, nil
}

func nodeUIDOwningTarget(tx *gorm.DB, kind NodeKind, targetID uint16) (uint64, error) {
	var t Target
	if err := tx.Where("node_kind = ? AND target_id = ?", kind, targetID).First(&t).Error; err != nil {
		return 0, err
	}
	if kind == NodeKindMeta {
		var n Node
		if err := tx.Where("node_kind = ? AND node_id = ?", NodeKindMeta, targetID).First(&n).Error; err != nil {
			return 0, err
		}
		return n.NodeUID, nil
	}
	if t.NodeUID == nil {
		return 0, fmt.Errorf("%w: target %d is not mapped to a node", mgmterr.ErrInvariantViolated, targetID)
	}
	return *t.NodeUID, nil
}

// CommitBuddyGroupDelete performs the second phase, after both peers
// have acknowledged removal: delete the group row.
func CommitBuddyGroupDelete(tx *gorm.DB, groupUID uint64) error {
	if err := tx.Where("group_uid = ?", groupUID).Delete(&BuddyGroup{}).Error; err != nil {
		return err
	}
	return tx.Where("uid = ?", groupUID).Delete(&Entity{}).Error
}

// AssignPoolToTargets sets pool_id on each target, refusing any target
// that belongs to a buddy group (the group is the unit of assignment).
func AssignPoolToTargets(tx *gorm.DB, targetIDs []uint16, poolID uint16) error {
	for _, tid := range targetIDs {
		var count int64
		if err := tx.Model(&BuddyGroup{}).
			Where("node_kind = ? AND (p_target_id = ? OR s_target_id = ?)", NodeKindStorage, tid, tid).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: target %d belongs to a buddy group", mgmterr.ErrInvariantViolated, tid)
		}
		res := tx.Model(&StorageTarget{}).
			Where("target_uid IN (SELECT target_uid FROM targets WHERE node_kind = ? AND target_id = ?)", NodeKindStorage, tid).
			Update("pool_id", poolID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return mgmterr.ErrNumericIDUnknown
		}
	}
	return nil
}

// AssignPoolToGroups sets pool_id on each group and propagates it to
// both member targets.
func AssignPoolToGroups(tx *gorm.DB, groupIDs []uint16, poolID uint16) error {
	for _, gid := range groupIDs {
		var group BuddyGroup
		if err := tx.Where("node_kind = ? AND group_id = ?", NodeKindStorage, gid).First(&group).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return mgmterr.ErrNumericIDUnknown
			}
			return err
		}
		group.PoolID = poolID
		if err := tx.Save(&group).Error; err != nil {
			return err
		}
		for _, tid := range []uint16{group.PTargetID, group.STargetID} {
			if err := tx.Model(&StorageTarget{}).
				Where("target_uid IN (SELECT target_uid FROM targets WHERE node_kind = ? AND target_id = ?)", NodeKindStorage, tid).
				Update("pool_id", poolID).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// SwitchoverCandidate is a buddy group whose primary has gone offline
// while its secondary is healthy, found by the switchover watchdog.
type SwitchoverCandidate struct {
	GroupUID, PrimaryTargetID, SecondaryTargetID uint16
	Kind                                         NodeKind
}

// FindSwitchoverCandidates returns every group (of either kind) whose
// primary target's last_contact is older than offlineTimeout while the
// secondary is Good and within the timeout.
func FindSwitchoverCandidates(tx *gorm.DB, offlineTimeout int64, nowUnix int64) ([]BuddyGroup, error) {
	var groups []BuddyGroup
	if err := tx.Raw(`
		SELECT g.* FROM buddy_groups g
		JOIN targets pt ON pt.node_kind = g.node_kind AND pt.target_id = g.p_target_id
		JOIN targets st ON st.node_kind = g.node_kind AND st.target_id = g.s_target_id
		WHERE (? - pt.last_contact) > ?
		  AND st.consistency = ?
		  AND (? - st.last_contact) <= ?
	`, nowUnix, offlineTimeout, ConsistencyGood, nowUnix, offlineTimeout).Scan(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

// SwapPrimarySecondary swaps a group's primary/secondary target ids and
// marks the old primary needs_resync, for the switchover watchdog.
func SwapPrimarySecondary(tx *gorm.DB, groupUID uint64, kind NodeKind, oldPrimary, newPrimary uint16) error {
	var group BuddyGroup
	if err := tx.Where("group_uid = ?", groupUID).First(&group).Error; err != nil {
		return err
	}
	group.PTargetID, group.STargetID = newPrimary, oldPrimary
	if err := tx.Save(&group).Error; err != nil {
		return err
	}
	return tx.Model(&Target{}).
		Where("node_kind = ? AND target_id = ?", kind, oldPrimary).
		Update("consistency", ConsistencyNeedsResync).Error
}
