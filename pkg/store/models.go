// Package store implements the authoritative persistent SQL store:
// schema, a dedicated-writer transactional engine, the entity registry,
// and the topology/quota/config tables spec.md §3-4.D describe. The
// schema is expressed as GORM models migrated with AutoMigrate, the way
// the teacher's pkg/controlplane/store does it, rather than as a
// hand-maintained migration chain — this repository has no competing
// requirement for the original's build-time SQL-validation step.
package store

import "time"

// EntityKind tags a row in the entities table with which concrete table
// its uid also appears in.
type EntityKind string

const (
	EntityNode       EntityKind = "node"
	EntityTarget     EntityKind = "target"
	EntityBuddyGroup EntityKind = "buddy_group"
	EntityPool       EntityKind = "pool"
)

// Entity is the shared identity row: every node/target/buddy
// group/pool has exactly one of these, giving it a UID and a
// globally-unique alias.
type Entity struct {
	UID   uint64     `gorm:"primaryKey;autoIncrement"`
	Kind  EntityKind `gorm:"not null;index"`
	Alias string     `gorm:"not null;uniqueIndex"`
}

func (Entity) TableName() string { return "entities" }

// NodeKind mirrors wire.NodeKind as a store-level string for readability
// in SQL and logs.
type NodeKind string

const (
	NodeKindMeta       NodeKind = "meta"
	NodeKindStorage    NodeKind = "storage"
	NodeKindClient     NodeKind = "client"
	NodeKindManagement NodeKind = "management"
)

type Node struct {
	NodeUID     uint64 `gorm:"primaryKey;column:node_uid"`
	NodeKind    NodeKind `gorm:"not null;uniqueIndex:idx_node_kind_id"`
	NodeID      uint16   `gorm:"not null;uniqueIndex:idx_node_kind_id;column:node_id"`
	Port        uint16
	LastContact int64 `gorm:"not null"` // unix seconds
	MachineUUID string `gorm:"column:machine_uuid;index"`
}

func (Node) TableName() string { return "nodes" }

type NodeNIC struct {
	NicUID  uint64 `gorm:"primaryKey;autoIncrement;column:nic_uid"`
	NodeUID uint64 `gorm:"not null;index;column:node_uid"`
	Addr    string `gorm:"not null"` // dotted-quad ipv4
	Name    string `gorm:"not null"` // <=16 bytes
	NicType uint8  `gorm:"not null"` // 0 ethernet, 1 rdma
}

func (NodeNIC) TableName() string { return "node_nics" }

type Consistency string

const (
	ConsistencyGood        Consistency = "good"
	ConsistencyNeedsResync Consistency = "needs_resync"
	ConsistencyBad         Consistency = "bad"
)

type Target struct {
	TargetUID   uint64   `gorm:"primaryKey;column:target_uid"`
	TargetID    uint16   `gorm:"not null;uniqueIndex:idx_target_kind_id;column:target_id"`
	NodeKind    NodeKind `gorm:"not null;uniqueIndex:idx_target_kind_id"`
	NodeUID     *uint64  `gorm:"column:node_uid;index"`
	Consistency Consistency `gorm:"not null;default:good"`
	LastContact int64       `gorm:"not null"`
}

func (Target) TableName() string { return "targets" }

// StorageTarget holds the fields only meaningful for storage-kind
// targets: capacity snapshot and pool assignment. Meta targets never
// have a row here.
type StorageTarget struct {
	TargetUID   uint64 `gorm:"primaryKey;column:target_uid"`
	PoolID      uint16 `gorm:"not null;default:1;column:pool_id"`
	TotalSpace  *int64 `gorm:"column:total_space"`
	FreeSpace   *int64 `gorm:"column:free_space"`
	TotalInodes *int64 `gorm:"column:total_inodes"`
	FreeInodes  *int64 `gorm:"column:free_inodes"`
}

func (StorageTarget) TableName() string { return "storage_targets" }

type BuddyGroup struct {
	GroupUID        uint64   `gorm:"primaryKey;column:group_uid"`
	GroupID         uint16   `gorm:"not null;uniqueIndex:idx_group_kind_id;column:group_id"`
	NodeKind        NodeKind `gorm:"not null;uniqueIndex:idx_group_kind_id"`
	PTargetID       uint16   `gorm:"not null;column:p_target_id"`
	STargetID       uint16   `gorm:"not null;column:s_target_id"`
	PoolID          uint16   `gorm:"not null;default:1;column:pool_id"`
}

func (BuddyGroup) TableName() string { return "buddy_groups" }

type StoragePool struct {
	PoolUID uint64 `gorm:"primaryKey;column:pool_uid"`
	PoolID  uint16 `gorm:"not null;uniqueIndex;column:pool_id"`
}

func (StoragePool) TableName() string { return "storage_pools" }

// DefaultPoolID is the undeletable pool every storage target belongs to
// unless explicitly reassigned.
const DefaultPoolID uint16 = 1

type QuotaIDType string

const (
	QuotaIDUser  QuotaIDType = "user"
	QuotaIDGroup QuotaIDType = "group"
)

type QuotaType string

const (
	QuotaTypeSpace  QuotaType = "space"
	QuotaTypeInodes QuotaType = "inodes"
)

// QuotaLimit is an explicit per-id limit; -1 (absent row) means "unset,
// fall back to the default limit for this pool".
type QuotaLimit struct {
	QuotaID   uint32      `gorm:"not null;uniqueIndex:idx_quota_limit"`
	IDType    QuotaIDType `gorm:"not null;uniqueIndex:idx_quota_limit"`
	QuotaType QuotaType   `gorm:"not null;uniqueIndex:idx_quota_limit"`
	PoolID    uint16      `gorm:"not null;uniqueIndex:idx_quota_limit"`
	Value     int64       `gorm:"not null"`
}

func (QuotaLimit) TableName() string { return "quota_limits" }

// QuotaDefaultLimit is the fallback applied when no QuotaLimit row
// exists for a given id.
type QuotaDefaultLimit struct {
	IDType    QuotaIDType `gorm:"not null;uniqueIndex:idx_quota_default"`
	QuotaType QuotaType   `gorm:"not null;uniqueIndex:idx_quota_default"`
	PoolID    uint16      `gorm:"not null;uniqueIndex:idx_quota_default"`
	Value     int64       `gorm:"not null"`
}

func (QuotaDefaultLimit) TableName() string { return "quota_default_limits" }

// QuotaEntry holds per-target quota usage, as reported by storage
// targets and aggregated by the quota refresh control loop.
type QuotaEntry struct {
	QuotaID   uint32      `gorm:"not null;uniqueIndex:idx_quota_entry"`
	IDType    QuotaIDType `gorm:"not null;uniqueIndex:idx_quota_entry"`
	QuotaType QuotaType   `gorm:"not null;uniqueIndex:idx_quota_entry"`
	TargetID  uint16      `gorm:"not null;uniqueIndex:idx_quota_entry"`
	Value     int64       `gorm:"not null"`
}

func (QuotaEntry) TableName() string { return "quota_entries" }

// RootInode is a singleton row pointing either at a target or, once
// mirrored, at a buddy group. Exactly one of the two is non-null.
type RootInode struct {
	ID           uint8   `gorm:"primaryKey"` // always 1
	TargetID     *uint16 `gorm:"column:target_id"`
	BuddyGroupID *uint16 `gorm:"column:buddy_group_id"`
}

func (RootInode) TableName() string { return "root_inode" }

// ConfigEntry is one row of the durable config map; Value is
// json-encoded per the declared type of Key (see pkg/dynconfig).
type ConfigEntry struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

func (ConfigEntry) TableName() string { return "config" }

// AllModels lists every table for AutoMigrate, in dependency order.
func AllModels() []any {
	return []any{
		&Entity{},
		&Node{},
		&NodeNIC{},
		&Target{},
		&StorageTarget{},
		&BuddyGroup{},
		&StoragePool{},
		&QuotaLimit{},
		&QuotaDefaultLimit{},
		&QuotaEntry{},
		&RootInode{},
		&ConfigEntry{},
	}
}
