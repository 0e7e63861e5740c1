package wireserver

import "github.com/clusterfs/fleetmgmtd/pkg/wire"
import "github.com/clusterfs/fleetmgmtd/pkg/store"

// storeKind/wireKind translate between the wire's compact numeric node
// kind and the store's string kind, which exists for SQL/log readability.
func storeKind(k wire.NodeKind) store.NodeKind {
	switch k {
	case wire.NodeMeta:
		return store.NodeKindMeta
	case wire.NodeStorage:
		return store.NodeKindStorage
	case wire.NodeClient:
		return store.NodeKindClient
	default:
		return store.NodeKindManagement
	}
}

func wireKind(k store.NodeKind) wire.NodeKind {
	switch k {
	case store.NodeKindMeta:
		return wire.NodeMeta
	case store.NodeKindStorage:
		return wire.NodeStorage
	case store.NodeKindClient:
		return wire.NodeClient
	default:
		return wire.NodeManagement
	}
}
