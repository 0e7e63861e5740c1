// Package peerresolve maps a peer identity — a node uid or a direct
// socket address — to the socket addresses the transport layer should
// dial, per spec.md §4.C. Resolved addresses are cached in memory and
// atomically replaced whenever a node's NICs change, so the hot path
// never touches the store.
package peerresolve

import (
	"context"
	"fmt"
	"net"
	"sync"

	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/pkg/store"
)

// PeerID is either a direct address or a node uid, mirroring the two
// addressing forms spec.md §4.C allows.
type PeerID struct {
	Addr *net.TCPAddr
	UID  *uint64
}

func ByAddr(addr *net.TCPAddr) PeerID { return PeerID{Addr: addr} }
func ByUID(uid uint64) PeerID         { return PeerID{UID: &uid} }

// Resolver caches node uid -> address-list lookups. The store remains
// the source of truth; Invalidate drops a node's cached entry so the
// next Resolve call refreshes it under the read-heavy lock spec.md §5
// describes.
type Resolver struct {
	engine *store.Engine

	mu    sync.RWMutex
	cache map[uint64][]*net.TCPAddr
}

func New(engine *store.Engine) *Resolver {
	return &Resolver{engine: engine, cache: make(map[uint64][]*net.TCPAddr)}
}

// Resolve returns every known socket address for id. A direct address
// resolves to itself; a uid consults the cache, falling back to the
// store's node_nics table on a miss.
func (r *Resolver) Resolve(ctx context.Context, id PeerID) ([]*net.TCPAddr, error) {
	if id.Addr != nil {
		return []*net.TCPAddr{id.Addr}, nil
	}
	if id.UID == nil {
		return nil, fmt.Errorf("peerresolve: empty peer id")
	}

	r.mu.RLock()
	addrs, ok := r.cache[*id.UID]
	r.mu.RUnlock()
	if ok {
		return addrs, nil
	}

	addrs, port, err := lookupFromStore(ctx, r.engine, *id.UID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cache[*id.UID] = addrs
	r.mu.Unlock()
	_ = port
	return addrs, nil
}

// Invalidate drops the cached address list for uid; callers invoke this
// whenever a node's NICs are replaced by a heartbeat.
func (r *Resolver) Invalidate(uid uint64) {
	r.mu.Lock()
	delete(r.cache, uid)
	r.mu.Unlock()
}

// ReverseLookup returns the owning node uid for a socket address, or
// false if the address is not known. This is "unknown-by-uid" in the
// common case since multiple peers may share a NAT address; it only
// succeeds when exactly one node publishes addr.
func (r *Resolver) ReverseLookup(ctx context.Context, addr *net.TCPAddr) (uint64, bool, error) {
	var uid uint64
	var found bool
	_, err := store.Read(ctx, r.engine, func(tx *gorm.DB) (any, error) {
		var nics []store.NodeNIC
		if err := tx.Where("addr = ?", addr.IP.String()).Find(&nics).Error; err != nil {
			return nil, err
		}
		owners := make(map[uint64]bool)
		for _, nic := range nics {
			owners[nic.NodeUID] = true
		}
		if len(owners) == 1 {
			uid, found = nics[0].NodeUID, true
		}
		return nil, nil
	})
	return uid, found, err
}

func lookupFromStore(ctx context.Context, engine *store.Engine, uid uint64) ([]*net.TCPAddr, uint16, error) {
	type result struct {
		addrs []*net.TCPAddr
		port  uint16
	}
	res, err := store.Read(ctx, engine, func(tx *gorm.DB) (result, error) {
		var node store.Node
		if err := tx.Where("node_uid = ?", uid).First(&node).Error; err != nil {
			return result{}, err
		}
		var nics []store.NodeNIC
		if err := tx.Where("node_uid = ?", uid).Find(&nics).Error; err != nil {
			return result{}, err
		}
		addrs := make([]*net.TCPAddr, 0, len(nics))
		for _, n := range nics {
			ip := net.ParseIP(n.Addr)
			if ip == nil {
				continue
			}
			addrs = append(addrs, &net.TCPAddr{IP: ip, Port: int(node.Port)})
		}
		return result{addrs: addrs, port: node.Port}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return res.addrs, res.port, nil
}
