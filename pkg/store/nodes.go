package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
)

// NodeIDMin/NodeIDMax bound the 16-bit per-kind numeric id space.
const (
	NodeIDMin = 1
	NodeIDMax = 0xFFFF
)

// NICInput is one interface published in a heartbeat; replaceNICs
// replaces a node's full NIC set with them, the way a heartbeat's
// "replace set" semantics require.
type NICInput struct {
	Addr string
	Name string
	Kind uint8
}

// HeartbeatResult reports what RegisterOrHeartbeat decided to do, so
// callers can fan out the right notification (Heartbeat on alias
// change uses a kind-dependent subset; plain heartbeats fan out
// nothing per spec.md §4.H).
type HeartbeatResult struct {
	NumericID   uint16
	Created     bool
	Rebound     bool
	AliasChanged bool
}

// RegisterOrHeartbeat implements the node registration/heartbeat policy
// of spec.md §4.F: same (kind,id) is a heartbeat; same machine
// fingerprint under a new id rebinds; otherwise a fresh insert, gated by
// registrationEnabled.
func RegisterOrHeartbeat(tx *gorm.DB, kind NodeKind, requestedID uint16, alias string, port uint16, nics []NICInput, fingerprint string, registrationEnabled bool) (HeartbeatResult, error) {
	now := time.Now().Unix()

	if requestedID != 0 {
		var n Node
		err := tx.Where("node_kind = ? AND node_id = ?", kind, requestedID).First(&n).Error
		if err == nil {
			if err := replaceNICs(tx, n.NodeUID, nics); err != nil {
				return HeartbeatResult{}, err
			}
			n.Port = port
			n.LastContact = now
			n.MachineUUID = fingerprint
			if err := tx.Save(&n).Error; err != nil {
				return HeartbeatResult{}, err
			}
			aliasChanged, err := maybeUpdateAlias(tx, n.NodeUID, alias)
			if err != nil {
				return HeartbeatResult{}, err
			}
			return HeartbeatResult{NumericID: n.NodeID, AliasChanged: aliasChanged}, nil
		}
		if err != gorm.ErrRecordNotFound {
			return HeartbeatResult{}, err
		}
	}

	if fingerprint != "" {
		var n Node
		err := tx.Where("node_kind = ? AND machine_uuid = ?", kind, fingerprint).First(&n).Error
		if err == nil {
			oldID := n.NodeID
			if requestedID != 0 {
				n.NodeID = requestedID
			}
			n.Port = port
			n.LastContact = now
			if err := tx.Save(&n).Error; err != nil {
				return HeartbeatResult{}, err
			}
			if err := replaceNICs(tx, n.NodeUID, nics); err != nil {
				return HeartbeatResult{}, err
			}
			aliasChanged, err := maybeUpdateAlias(tx, n.NodeUID, alias)
			if err != nil {
				return HeartbeatResult{}, err
			}
			return HeartbeatResult{NumericID: n.NodeID, Rebound: oldID != n.NodeID, AliasChanged: aliasChanged}, nil
		}
		if err != gorm.ErrRecordNotFound {
			return HeartbeatResult{}, err
		}
	}

	if !registrationEnabled {
		return HeartbeatResult{}, fmt.Errorf("%w: registration disabled", mgmterr.ErrInvariantViolated)
	}

	numericID := requestedID
	if numericID == 0 {
		id, err := FindNewID(tx, "nodes", "node_id", NodeIDMin, NodeIDMax)
		if err != nil {
			return HeartbeatResult{}, err
		}
		numericID = uint16(id)
	}

	uid, err := InsertEntity(tx, EntityNode, alias)
	if err != nil {
		return HeartbeatResult{}, err
	}
	n := Node{
		NodeUID:     uid,
		NodeKind:    kind,
		NodeID:      numericID,
		Port:        port,
		LastContact: now,
		MachineUUID: fingerprint,
	}
	if err := tx.Create(&n).Error; err != nil {
		return HeartbeatResult{}, err
	}
	if err := replaceNICs(tx, uid, nics); err != nil {
		return HeartbeatResult{}, err
	}

	if kind == NodeKindMeta {
		if err := insertImplicitMetaTarget(tx, numericID); err != nil {
			return HeartbeatResult{}, err
		}
	}

	return HeartbeatResult{NumericID: numericID, Created: true}, nil
}

func maybeUpdateAlias(tx *gorm.DB, uid uint64, alias string) (bool, error) {
	if alias == "" {
		return false, nil
	}
	current, ok, err := GetAlias(tx, uid)
	if err != nil {
		return false, err
	}
	if ok && current == alias {
		return false, nil
	}
	if err := UpdateAlias(tx, uid, alias); err != nil {
		return false, err
	}
	return true, nil
}

func replaceNICs(tx *gorm.DB, nodeUID uint64, nics []NICInput) error {
	if err := tx.Where("node_uid = ?", nodeUID).Delete(&NodeNIC{}).Error; err != nil {
		return err
	}
	for _, n := range nics {
		row := NodeNIC{NodeUID: nodeUID, Addr: n.Addr, Name: n.Name, NicType: n.Kind}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// insertImplicitMetaTarget gives every meta node exactly one implicit
// meta target sharing its numeric id space partition, per the §3
// invariant "meta nodes have exactly one meta target".
func insertImplicitMetaTarget(tx *gorm.DB, nodeNumericID uint16) error {
	alias := fmt.Sprintf("meta-target-%d", nodeNumericID)
	uid, err := InsertEntity(tx, EntityTarget, alias)
	if err != nil {
		return err
	}
	t := Target{
		TargetUID:   uid,
		TargetID:    nodeNumericID,
		NodeKind:    NodeKindMeta,
		Consistency: ConsistencyGood,
		LastContact: time.Now().Unix(),
	}
	return tx.Create(&t).Error
}

// RemoveNode deletes a node row and its NICs. Callers enforce the
// kind-specific invariants (management undeletable, meta target not
// grouped/rooted, storage node has no mapped targets) before calling
// this, normally by going through DeleteNodeChecked.
func RemoveNode(tx *gorm.DB, kind NodeKind, numericID uint16) error {
	var n Node
	if err := tx.Where("node_kind = ? AND node_id = ?", kind, numericID).First(&n).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return mgmterr.ErrNumericIDUnknown
		}
		return err
	}
	if err := tx.Where("node_uid = ?", n.NodeUID).Delete(&NodeNIC{}).Error; err != nil {
		return err
	}
	if err := tx.Delete(&n).Error; err != nil {
		return err
	}
	return tx.Where("uid = ?", n.NodeUID).Delete(&Entity{}).Error
}

// DeleteNodeChecked enforces the kind-specific invariants of spec.md
// §4.I's delete_node before deleting: a management node is undeletable;
// a meta node's implicit target must not belong to any buddy group and
// must not currently hold the root inode; a storage node must have no
// targets still mapped to it.
func DeleteNodeChecked(tx *gorm.DB, kind NodeKind, numericID uint16) error {
	switch kind {
	case NodeKindManagement:
		return fmt.Errorf("%w: the management node cannot be deleted", mgmterr.ErrInvariantViolated)
	case NodeKindMeta:
		var count int64
		if err := tx.Model(&BuddyGroup{}).
			Where("node_kind = ? AND (p_target_id = ? OR s_target_id = ?)", NodeKindMeta, numericID, numericID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: meta node's implicit target belongs to a buddy group", mgmterr.ErrInvariantViolated)
		}
		holds, err := metaTargetHoldsRoot(tx, numericID)
		if err != nil {
			return err
		}
		if holds {
			return fmt.Errorf("%w: meta node's implicit target holds the root inode", mgmterr.ErrInvariantViolated)
		}
	case NodeKindStorage:
		var node Node
		if err := tx.Where("node_kind = ? AND node_id = ?", NodeKindStorage, numericID).First(&node).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return mgmterr.ErrNumericIDUnknown
			}
			return err
		}
		var count int64
		if err := tx.Model(&Target{}).Where("node_kind = ? AND node_uid = ?", NodeKindStorage, node.NodeUID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: storage node still has mapped targets", mgmterr.ErrInvariantViolated)
		}
	}
	return RemoveNode(tx, kind, numericID)
}

// metaTargetHoldsRoot reports whether targetID is the unmirrored root,
// or the primary/secondary of the meta buddy group the root points at
// once mirrored.
func metaTargetHoldsRoot(tx *gorm.DB, targetID uint16) (bool, error) {
	kind, rootTargetID, rootGroupID, err := GetMetaRoot(tx)
	if err != nil {
		return false, err
	}
	switch kind {
	case MetaRootNormal:
		return rootTargetID != nil && *rootTargetID == targetID, nil
	case MetaRootMirrored:
		if rootGroupID == nil {
			return false, nil
		}
		var group BuddyGroup
		if err := tx.Where("node_kind = ? AND group_id = ?", NodeKindMeta, *rootGroupID).First(&group).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return false, nil
			}
			return false, err
		}
		return group.PTargetID == targetID || group.STargetID == targetID, nil
	default:
		return false, nil
	}
}

// ListNodes returns all nodes of a kind with their NICs, for GetNodes.
type NodeView struct {
	Node
	Alias string
	NICs  []NodeNIC
}

func ListNodes(tx *gorm.DB, kind NodeKind) ([]NodeView, error) {
	var nodes []Node
	if err := tx.Where("node_kind = ?", kind).Find(&nodes).Error; err != nil {
		return nil, err
	}
	out := make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		alias, _, err := GetAlias(tx, n.NodeUID)
		if err != nil {
			return nil, err
		}
		var nics []NodeNIC
		if err := tx.Where("node_uid = ?", n.NodeUID).Find(&nics).Error; err != nil {
			return nil, err
		}
		out = append(out, NodeView{Node: n, Alias: alias, NICs: nics})
	}
	return out, nil
}

// ReapStaleClients deletes client nodes whose last contact is older
// than cutoff (unix seconds), for the stale-client reaper control loop.
// No fan-out accompanies this per spec.md §4.J.1.
func ReapStaleClients(tx *gorm.DB, cutoff int64) (int64, error) {
	var stale []Node
	if err := tx.Where("node_kind = ? AND last_contact < ?", NodeKindClient, cutoff).Find(&stale).Error; err != nil {
		return 0, err
	}
	for _, n := range stale {
		if err := RemoveNode(tx, NodeKindClient, n.NodeID); err != nil {
			return 0, err
		}
	}
	return int64(len(stale)), nil
}
