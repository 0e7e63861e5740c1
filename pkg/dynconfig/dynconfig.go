// Package dynconfig implements the dynamic configuration cache of
// spec.md §4.G: a process-wide, concurrently readable snapshot over a
// fixed, closed set of typed keys, backed by the store's config table.
// A single writer validates and decodes incoming key/value pairs and
// atomically swaps the snapshot; readers never take a lock, the same
// swap-on-write shape as the teacher's registry but specialized to one
// struct instead of a map of named resources.
package dynconfig

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// CapPoolLimits is the recognized shape of CapPoolMetaLimits/
// CapPoolStorageLimits, with the optional dynamic/hysteresis fields
// spec.md §9 leaves as an extension point rather than fully specifying.
type CapPoolLimits struct {
	SpaceLow        int64 `json:"space_low"`
	SpaceEmergency  int64 `json:"space_emergency"`
	InodesLow       int64 `json:"inodes_low"`
	InodesEmergency int64 `json:"inodes_emergency"`

	// Dynamic/hysteresis fields, present only under
	// CapPoolDynamicMetaLimits/CapPoolDynamicStorageLimits.
	SpaceNormalThreshold  *int64 `json:"space_normal_threshold,omitempty"`
	SpaceLowThreshold     *int64 `json:"space_low_threshold,omitempty"`
	InodesNormalThreshold *int64 `json:"inodes_normal_threshold,omitempty"`
	InodesLowThreshold    *int64 `json:"inodes_low_threshold,omitempty"`
}

// copyThresholds gives l its own copies of the optional threshold
// values, so decoding into l cannot write through pointers an earlier
// snapshot still shares.
func (l *CapPoolLimits) copyThresholds() {
	for _, p := range []**int64{&l.SpaceNormalThreshold, &l.SpaceLowThreshold, &l.InodesNormalThreshold, &l.InodesLowThreshold} {
		if *p != nil {
			v := **p
			*p = &v
		}
	}
}

// IDRange is the optional explicit id range for quota polling.
type IDRange struct {
	Min uint32 `json:"min"`
	Max uint32 `json:"max"`
}

// Snapshot is the full typed view of recognized config keys. A
// *Snapshot is never mutated after construction; Cache.Swap installs a
// freshly built one.
type Snapshot struct {
	NodeOfflineTimeout      time.Duration
	ClientAutoRemoveTimeout time.Duration
	QuotaEnable             bool
	QuotaUpdateInterval     time.Duration
	QuotaUserIDsRange       *IDRange
	QuotaGroupIDsRange      *IDRange
	QuotaUserSystemIDsMin   *uint32
	QuotaGroupSystemIDsMin  *uint32
	CapPoolMetaLimits       CapPoolLimits
	CapPoolStorageLimits    CapPoolLimits
	RegistrationEnable      bool
}

// defaultSnapshot matches the defaults enumerated in spec.md §4.G.
func defaultSnapshot() *Snapshot {
	return &Snapshot{
		NodeOfflineTimeout:      180 * time.Second,
		ClientAutoRemoveTimeout: 30 * time.Minute,
		QuotaEnable:             false,
		QuotaUpdateInterval:     30 * time.Second,
		CapPoolMetaLimits:       CapPoolLimits{SpaceLow: 10 << 30, SpaceEmergency: 3 << 30, InodesLow: 10_000, InodesEmergency: 1_000},
		CapPoolStorageLimits:    CapPoolLimits{SpaceLow: 50 << 30, SpaceEmergency: 10 << 30, InodesLow: 100_000, InodesEmergency: 10_000},
		RegistrationEnable:      true,
	}
}

// Key names as stored in the config table.
const (
	KeyNodeOfflineTimeout      = "NodeOfflineTimeout"
	KeyClientAutoRemoveTimeout = "ClientAutoRemoveTimeout"
	KeyQuotaEnable             = "QuotaEnable"
	KeyQuotaUpdateInterval     = "QuotaUpdateInterval"
	KeyQuotaUserIDsRange       = "QuotaUserIDsRange"
	KeyQuotaGroupIDsRange      = "QuotaGroupIDsRange"
	KeyQuotaUserSystemIDsMin   = "QuotaUserSystemIDsMin"
	KeyQuotaGroupSystemIDsMin  = "QuotaGroupSystemIDsMin"
	KeyCapPoolMetaLimits       = "CapPoolMetaLimits"
	KeyCapPoolStorageLimits    = "CapPoolStorageLimits"
	KeyCapPoolDynamicMetaLimits    = "CapPoolDynamicMetaLimits"
	KeyCapPoolDynamicStorageLimits = "CapPoolDynamicStorageLimits"
	KeyRegistrationEnable      = "RegistrationEnable"
)

// recognizedKeys is the closed key set; ingest rejects anything else.
var recognizedKeys = map[string]bool{
	KeyNodeOfflineTimeout: true, KeyClientAutoRemoveTimeout: true,
	KeyQuotaEnable: true, KeyQuotaUpdateInterval: true,
	KeyQuotaUserIDsRange: true, KeyQuotaGroupIDsRange: true,
	KeyQuotaUserSystemIDsMin: true, KeyQuotaGroupSystemIDsMin: true,
	KeyCapPoolMetaLimits: true, KeyCapPoolStorageLimits: true,
	KeyCapPoolDynamicMetaLimits: true, KeyCapPoolDynamicStorageLimits: true,
	KeyRegistrationEnable: true,
}

// ErrUnknownKey is returned by Ingest for a key outside the closed set.
var ErrUnknownKey = fmt.Errorf("dynconfig: unknown config key")

// Cache holds the current Snapshot behind an atomic pointer so readers
// never block on the writer.
type Cache struct {
	current atomic.Pointer[Snapshot]
}

// New creates a Cache seeded with defaults, to be overlaid with
// Seed(persisted) once the store has been opened.
func New() *Cache {
	c := &Cache{}
	c.current.Store(defaultSnapshot())
	return c
}

// Get returns the current snapshot. The returned pointer is immutable
// and safe to read without further synchronization.
func (c *Cache) Get() *Snapshot { return c.current.Load() }

// Seed overlays persisted key/value rows (json-encoded) onto the
// defaults and installs the result, for use once at startup.
func (c *Cache) Seed(raw map[string]string) error {
	snap := defaultSnapshot()
	for k, v := range raw {
		if err := applyKey(snap, k, v); err != nil {
			return err
		}
	}
	c.current.Store(snap)
	return nil
}

// Ingest validates and applies a single key/value update, built from a
// fresh copy of the current snapshot so concurrent readers never
// observe a partially updated state.
func (c *Cache) Ingest(key, jsonValue string) error {
	if !recognizedKeys[key] {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	cur := *c.current.Load()
	if err := applyKey(&cur, key, jsonValue); err != nil {
		return err
	}
	c.current.Store(&cur)
	return nil
}

func applyKey(snap *Snapshot, key, jsonValue string) error {
	switch key {
	case KeyNodeOfflineTimeout:
		var seconds int64
		if err := json.Unmarshal([]byte(jsonValue), &seconds); err != nil {
			return err
		}
		snap.NodeOfflineTimeout = time.Duration(seconds) * time.Second
	case KeyClientAutoRemoveTimeout:
		var seconds int64
		if err := json.Unmarshal([]byte(jsonValue), &seconds); err != nil {
			return err
		}
		snap.ClientAutoRemoveTimeout = time.Duration(seconds) * time.Second
	case KeyQuotaEnable:
		return json.Unmarshal([]byte(jsonValue), &snap.QuotaEnable)
	case KeyQuotaUpdateInterval:
		var seconds int64
		if err := json.Unmarshal([]byte(jsonValue), &seconds); err != nil {
			return err
		}
		snap.QuotaUpdateInterval = time.Duration(seconds) * time.Second
	case KeyQuotaUserIDsRange:
		var r IDRange
		if err := json.Unmarshal([]byte(jsonValue), &r); err != nil {
			return err
		}
		snap.QuotaUserIDsRange = &r
	case KeyQuotaGroupIDsRange:
		var r IDRange
		if err := json.Unmarshal([]byte(jsonValue), &r); err != nil {
			return err
		}
		snap.QuotaGroupIDsRange = &r
	case KeyQuotaUserSystemIDsMin:
		var v uint32
		if err := json.Unmarshal([]byte(jsonValue), &v); err != nil {
			return err
		}
		snap.QuotaUserSystemIDsMin = &v
	case KeyQuotaGroupSystemIDsMin:
		var v uint32
		if err := json.Unmarshal([]byte(jsonValue), &v); err != nil {
			return err
		}
		snap.QuotaGroupSystemIDsMin = &v
	case KeyCapPoolMetaLimits, KeyCapPoolDynamicMetaLimits:
		snap.CapPoolMetaLimits.copyThresholds()
		return json.Unmarshal([]byte(jsonValue), &snap.CapPoolMetaLimits)
	case KeyCapPoolStorageLimits, KeyCapPoolDynamicStorageLimits:
		snap.CapPoolStorageLimits.copyThresholds()
		return json.Unmarshal([]byte(jsonValue), &snap.CapPoolStorageLimits)
	case KeyRegistrationEnable:
		return json.Unmarshal([]byte(jsonValue), &snap.RegistrationEnable)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}
