package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
)

// EntityIDSet is the canonical identity triple returned to callers that
// resolve or mutate an entity: its uid, its alias, and its legacy
// (kind, numeric id) pair.
type EntityIDSet struct {
	UID       uint64
	Alias     string
	Kind      EntityKind
	NumericID uint16
}

// GetUIDByAlias resolves an alias to a uid, grounded on the original's
// entity::get_uid query.
func GetUIDByAlias(tx *gorm.DB, alias string) (uint64, bool, error) {
	var e Entity
	err := tx.Where("alias = ?", alias).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return e.UID, true, nil
}

// GetAlias resolves a uid to its alias.
func GetAlias(tx *gorm.DB, uid uint64) (string, bool, error) {
	var e Entity
	err := tx.Where("uid = ?", uid).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return e.Alias, true, nil
}

// InsertEntity creates a new identity row, returning its freshly
// assigned uid. Fails with ErrAliasExists if alias is taken by any
// entity kind, since aliases are unique across kinds, not per kind.
func InsertEntity(tx *gorm.DB, kind EntityKind, alias string) (uint64, error) {
	ent := Entity{Kind: kind, Alias: alias}
	if err := tx.Create(&ent).Error; err != nil {
		if isUniqueConstraintError(err) {
			return 0, mgmterr.ErrAliasExists
		}
		return 0, fmt.Errorf("%w: %v", mgmterr.ErrDatabase, err)
	}
	return ent.UID, nil
}

// UpdateAlias renames an existing entity's alias, subject to the same
// global-uniqueness rule as InsertEntity.
func UpdateAlias(tx *gorm.DB, uid uint64, newAlias string) error {
	res := tx.Model(&Entity{}).Where("uid = ?", uid).Update("alias", newAlias)
	if res.Error != nil {
		if isUniqueConstraintError(res.Error) {
			return mgmterr.ErrAliasExists
		}
		return fmt.Errorf("%w: %v", mgmterr.ErrDatabase, res.Error)
	}
	if res.RowsAffected == 0 {
		return mgmterr.ErrNumericIDUnknown
	}
	return nil
}

// ResolveEntityID accepts a uid, an alias, or a legacy (kind, numeric
// id) pair and returns the canonical EntityIDSet, validating that the
// resolved kind matches expectedKind.
//
// EntityRef carries exactly one of the three addressing forms; callers
// construct it with ByUID/ByAlias/ByLegacy.
type EntityRef struct {
	uid       *uint64
	alias     *string
	kind      *EntityKind
	numericID *uint16
}

func ByUID(uid uint64) EntityRef          { return EntityRef{uid: &uid} }
func ByAlias(alias string) EntityRef      { return EntityRef{alias: &alias} }
func ByLegacy(kind EntityKind, id uint16) EntityRef {
	return EntityRef{kind: &kind, numericID: &id}
}

// ResolveEntity finds the entity underlying ref, failing if its kind
// does not match expectedKind. numericIDLookup resolves a (kind,
// numeric id) pair to a uid; it is supplied by callers since numeric id
// spaces live in the per-kind tables (nodes/targets/buddy_groups/pools),
// not in the entities table itself.
func ResolveEntity(tx *gorm.DB, ref EntityRef, expectedKind EntityKind, numericIDLookup func(tx *gorm.DB, kind EntityKind, id uint16) (uint64, bool, error)) (EntityIDSet, error) {
	var uid uint64
	switch {
	case ref.uid != nil:
		uid = *ref.uid
	case ref.alias != nil:
		found, ok, err := GetUIDByAlias(tx, *ref.alias)
		if err != nil {
			return EntityIDSet{}, err
		}
		if !ok {
			return EntityIDSet{}, mgmterr.ErrAliasUnknown
		}
		uid = found
	case ref.kind != nil:
		found, ok, err := numericIDLookup(tx, *ref.kind, *ref.numericID)
		if err != nil {
			return EntityIDSet{}, err
		}
		if !ok {
			return EntityIDSet{}, mgmterr.ErrNumericIDUnknown
		}
		uid = found
	default:
		return EntityIDSet{}, fmt.Errorf("%w: empty entity reference", mgmterr.ErrInternal)
	}

	var e Entity
	if err := tx.Where("uid = ?", uid).First(&e).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return EntityIDSet{}, mgmterr.ErrNumericIDUnknown
		}
		return EntityIDSet{}, err
	}
	if e.Kind != expectedKind {
		return EntityIDSet{}, fmt.Errorf("%w: expected kind %s, got %s", mgmterr.ErrInvariantViolated, expectedKind, e.Kind)
	}
	return EntityIDSet{UID: e.UID, Alias: e.Alias, Kind: e.Kind}, nil
}
