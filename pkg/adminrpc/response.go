package adminrpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
)

// Problem is an RFC 7807 problem-details body, the same shape
// dittofs's controlplane API uses for every non-2xx response.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{Type: "about:blank", Title: title, Status: status, Detail: detail})
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func WriteJSONOK(w http.ResponseWriter, data any) { WriteJSON(w, http.StatusOK, data) }

func BadRequest(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteError maps the mgmterr taxonomy to an HTTP status, the RPC-side
// counterpart of mgmterr.ToOpsErr which targets the narrow wire result
// enum instead. The full error chain is included in Detail, per
// spec.md §7 "RPC errors include the full chain message".
func WriteError(w http.ResponseWriter, err error) {
	status, title := httpStatus(err)
	WriteProblem(w, status, title, err.Error())
}

func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, mgmterr.ErrPreShutdown):
		return http.StatusServiceUnavailable, "Pre-shutdown"
	case errors.Is(err, mgmterr.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, mgmterr.ErrFeatureUnlicensed):
		return http.StatusForbidden, "Feature Unlicensed"
	case errors.Is(err, mgmterr.ErrAliasExists), errors.Is(err, mgmterr.ErrNumericIDExists):
		return http.StatusConflict, "Already Exists"
	case errors.Is(err, mgmterr.ErrAliasUnknown), errors.Is(err, mgmterr.ErrNumericIDUnknown):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, mgmterr.ErrNotEmpty):
		return http.StatusConflict, "Not Empty"
	case errors.Is(err, mgmterr.ErrInvariantViolated):
		return http.StatusUnprocessableEntity, "Invariant Violated"
	case errors.Is(err, mgmterr.ErrTimeout):
		return http.StatusGatewayTimeout, "Timeout"
	case errors.Is(err, mgmterr.ErrUndecodable):
		return http.StatusBadRequest, "Bad Request"
	default:
		var pe *mgmterr.PeerError
		if errors.As(err, &pe) {
			return http.StatusBadGateway, "Peer Error"
		}
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

// EntityIDSet is the canonical JSON identity returned by every
// operation, the RPC-surface mirror of store.EntityIDSet (spec.md
// §4.I "Returns a canonical EntityIdSet for the affected entity").
type EntityIDSet struct {
	UID       uint64 `json:"uid"`
	Alias     string `json:"alias"`
	Kind      string `json:"kind"`
	NumericID uint16 `json:"numeric_id"`
}
