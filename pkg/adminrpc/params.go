package adminrpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/clusterfs/fleetmgmtd/pkg/store"
)

// decodeJSON reads and validates a request body, the way dittofs's
// controlplane handlers.helpers decode bodies before touching the store.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// execute reports whether the caller asked this preview-or-execute
// operation to actually commit, per spec.md §4.I: "execute=false runs
// all validations ...; execute=true additionally commits and fans out".
func execute(r *http.Request) bool {
	return r.URL.Query().Get("execute") == "true"
}

func parseKind(s string) (store.NodeKind, error) {
	switch s {
	case "meta":
		return store.NodeKindMeta, nil
	case "storage":
		return store.NodeKindStorage, nil
	case "client":
		return store.NodeKindClient, nil
	case "management":
		return store.NodeKindManagement, nil
	default:
		return "", fmt.Errorf("unrecognized node kind %q", s)
	}
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric id %q: %w", s, err)
	}
	return uint16(v), nil
}

func toEntityIDSet(e store.EntityIDSet) EntityIDSet {
	return EntityIDSet{UID: e.UID, Alias: e.Alias, Kind: string(e.Kind), NumericID: e.NumericID}
}
