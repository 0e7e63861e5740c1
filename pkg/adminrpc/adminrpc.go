// Package adminrpc implements component I, the administrative RPC
// surface of spec.md §4.I: a second, JSON-over-HTTP listener an
// operator tool drives, distinct from the legacy binary wire protocol
// pkg/wireserver speaks. It shares the same Store, dynamic config
// cache, peer resolver, and outbound pool as the wire side — both
// surfaces mutate the same authoritative state and fan out through the
// same notification tables.
//
// Every mutating operation follows the same preview-or-execute shape:
// execute=false runs every validation and returns the entity that
// would change without committing; execute=true additionally commits
// and fans out. This mirrors dittofs's controlplane API router
// (pkg/controlplane/api.NewRouter) for middleware and handler
// structure, generalized from resource CRUD to the preview/execute
// pattern spec.md requires.
package adminrpc

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clusterfs/fleetmgmtd/internal/logger"
	"github.com/clusterfs/fleetmgmtd/pkg/dynconfig"
	"github.com/clusterfs/fleetmgmtd/pkg/license"
	"github.com/clusterfs/fleetmgmtd/pkg/metrics"
	"github.com/clusterfs/fleetmgmtd/pkg/peerresolve"
	"github.com/clusterfs/fleetmgmtd/pkg/store"
	"github.com/clusterfs/fleetmgmtd/pkg/transport"
)

// Server bundles the collaborators every admin handler needs, plus the
// pre-shutdown flag the wire dispatcher also exposes (the two surfaces
// toggle in lockstep off one shutdown broadcast, per spec.md §5).
type Server struct {
	Store    *store.Store
	Config   *dynconfig.Cache
	Resolver *peerresolve.Resolver
	Outbound *transport.OutboundPool
	License  license.Gate
	Metrics  metrics.Recorder

	preShutdown *preShutdownFlag
}

// New builds a Server, defaulting a nil license gate to AlwaysLicensed
// and a nil metrics.Recorder to metrics.Noop; the other collaborators
// are used as given.
func New(st *store.Store, cfg *dynconfig.Cache, resolver *peerresolve.Resolver, outbound *transport.OutboundPool, lic license.Gate, rec metrics.Recorder) *Server {
	if lic == nil {
		lic = license.AlwaysLicensed{}
	}
	if rec == nil {
		rec = metrics.Noop
	}
	return &Server{Store: st, Config: cfg, Resolver: resolver, Outbound: outbound, License: lic, Metrics: rec, preShutdown: &preShutdownFlag{}}
}

// SetPreShutdown flips pre-shutdown state for the admin surface;
// every mutating operation subsequently rejects with PreShutdown.
func (s *Server) SetPreShutdown(v bool) { s.preShutdown.set(v) }
func (s *Server) IsPreShutdown() bool   { return s.preShutdown.get() }

// NewRouter builds the chi router: request-id, real-ip, panic
// recovery, and a request timeout, the same stack dittofs's
// controlplane router installs, followed by the operation routes.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := s.Store.Healthcheck(); err != nil {
			WriteProblem(w, http.StatusServiceUnavailable, "Unhealthy", err.Error())
			return
		}
		WriteJSONOK(w, map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", s.listNodes)
			r.Delete("/{kind}/{id}", s.deleteNode)
			r.Put("/{kind}/{id}/alias", s.setNodeAlias)
		})
		r.Route("/targets", func(r chi.Router) {
			r.Get("/", s.listTargets)
			r.Delete("/{id}", s.deleteTarget)
			r.Put("/{kind}/{id}/state", s.setTargetState)
			r.Put("/{id}/alias", s.setTargetAlias)
		})
		r.Route("/buddy-groups", func(r chi.Router) {
			r.Get("/", s.listBuddyGroups)
			r.Post("/", s.createBuddyGroup)
			r.Delete("/{kind}/{id}", s.deleteBuddyGroup)
			r.Put("/{kind}/{id}/alias", s.setBuddyGroupAlias)
		})
		r.Route("/storage-pools", func(r chi.Router) {
			r.Get("/", s.listStoragePools)
			r.Post("/", s.createStoragePool)
			r.Delete("/{id}", s.deleteStoragePool)
			r.Put("/{id}/alias", s.setStoragePoolAlias)
		})
		r.Route("/pool-assignments", func(r chi.Router) {
			r.Post("/", s.assignPool)
		})
		r.Route("/quota-limits", func(r chi.Router) {
			r.Get("/", s.listQuotaExceeded)
			r.Put("/", s.setQuotaLimit)
			r.Put("/default", s.setDefaultQuotaLimit)
		})
		r.Route("/root-inode", func(r chi.Router) {
			r.Get("/", s.getRootInode)
			r.Post("/mirror", s.mirrorRootInode)
		})
		r.Get("/license", s.getLicense)
	})

	return r
}

type preShutdownFlag struct {
	v atomic.Bool
}

func (f *preShutdownFlag) set(v bool) { f.v.Store(v) }
func (f *preShutdownFlag) get() bool  { return f.v.Load() }

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Info(r.Context(), "admin rpc request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start).String())
	})
}
