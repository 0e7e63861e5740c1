package commands

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/internal/logger"
	"github.com/clusterfs/fleetmgmtd/pkg/adminrpc"
	"github.com/clusterfs/fleetmgmtd/pkg/config"
	"github.com/clusterfs/fleetmgmtd/pkg/control"
	"github.com/clusterfs/fleetmgmtd/pkg/dynconfig"
	"github.com/clusterfs/fleetmgmtd/pkg/license"
	metricsprometheus "github.com/clusterfs/fleetmgmtd/pkg/metrics/prometheus"
	"github.com/clusterfs/fleetmgmtd/pkg/peerresolve"
	"github.com/clusterfs/fleetmgmtd/pkg/store"
	"github.com/clusterfs/fleetmgmtd/pkg/transport"
	"github.com/clusterfs/fleetmgmtd/pkg/wireserver"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the mgmtd server",
	Long: `Start the mgmtd server with the configuration loaded from --config,
MGMTD_-prefixed environment variables, and built-in defaults.

The server listens on two surfaces: the legacy binary wire protocol
(TCP and UDP, ServiceAddr) for filesystem peers, and the administrative
JSON RPC surface (HTTP, AdminAddr) for operator tooling.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	InitLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info(ctx, "starting mgmtd", "version", Version, "commit", Commit)

	st, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	cfgCache := dynconfig.New()
	raw, err := store.Read(ctx, st.Engine, func(tx *gorm.DB) (map[string]string, error) {
		return store.AllConfigValues(tx)
	})
	if err != nil {
		return fmt.Errorf("loading dynamic config: %w", err)
	}
	if err := cfgCache.Seed(raw); err != nil {
		return fmt.Errorf("seeding dynamic config: %w", err)
	}

	secret, hasAuth, err := deriveChannelSecret(cfg.AuthFile)
	if err != nil {
		return fmt.Errorf("reading auth file: %w", err)
	}

	resolver := peerresolve.New(st.Engine)

	udpOutConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("opening outbound udp socket: %w", err)
	}
	defer udpOutConn.Close()
	outbound := transport.NewOutboundPool(secret, hasAuth, udpOutConn)

	reg := prometheus.NewRegistry()
	rec := metricsprometheus.New(reg)

	dispatcher := wireserver.New(st, cfgCache, resolver, outbound, rec)

	wireLn, err := net.Listen("tcp", cfg.ServiceAddr)
	if err != nil {
		return fmt.Errorf("listening on %s (tcp): %w", cfg.ServiceAddr, err)
	}
	wireUDPAddr, err := net.ResolveUDPAddr("udp", cfg.ServiceAddr)
	if err != nil {
		return fmt.Errorf("resolving %s (udp): %w", cfg.ServiceAddr, err)
	}
	wireUDPConn, err := net.ListenUDP("udp", wireUDPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s (udp): %w", cfg.ServiceAddr, err)
	}

	wireServer := transport.NewServer(dispatcher, secret, hasAuth)

	adminSrv := adminrpc.New(st, cfgCache, resolver, outbound, license.AlwaysLicensed{}, rec)
	adminRouter := adminrpc.NewRouter(adminSrv)
	mux := http.NewServeMux()
	mux.Handle("/", adminRouter)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	adminHTTP := &http.Server{Addr: cfg.AdminAddr, Handler: mux}

	supervisor := control.New(control.Deps{
		Store:    st,
		Config:   cfgCache,
		Resolver: resolver,
		Outbound: outbound,
		Metrics:  rec,
	})
	supervisor.Start(ctx)
	defer supervisor.Stop()

	errCh := make(chan error, 3)
	go func() { errCh <- wireServer.ServeTCP(ctx, wireLn) }()
	go func() { errCh <- wireServer.ServeUDP(ctx, wireUDPConn) }()
	go func() {
		if err := adminHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	logger.Info(ctx, "mgmtd listening",
		"wire_addr", cfg.ServiceAddr, "admin_addr", cfg.AdminAddr, "auth", hasAuth)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		signal.Stop(sigCh)
		logger.Info(ctx, "shutdown signal received, entering pre-shutdown")
	case err := <-errCh:
		if err != nil {
			logger.Error(ctx, "server error", "err", err)
			cancel()
			return err
		}
	}

	// Pre-shutdown: reject new mutating operations on both surfaces
	// while in-flight requests drain, before tearing down listeners.
	dispatcher.SetPreShutdown(true)
	adminSrv.SetPreShutdown(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := adminHTTP.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "admin server shutdown error", "err", err)
	}

	cancel()
	_ = wireLn.Close()
	_ = wireUDPConn.Close()

	time.Sleep(100 * time.Millisecond)
	logger.Info(ctx, "mgmtd stopped")
	return nil
}
