package main

import (
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"muxrpc/config"
	"muxrpc/metrics"
	"muxrpc/server"
)

type serveOpts struct {
	*rootOpts
}

func newServe(parent *rootOpts) *serveOpts {
	return &serveOpts{rootOpts: parent}
}

func (opts *serveOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo Echo and Arith services",
		RunE:  opts.RunE,
	}
	cmd.Flags().String("listen", "", "TCP address for the frame protocol (overrides config)")
	cmd.Flags().String("http-listen", "", "HTTP address for websocket RPC, /metrics and /healthz (overrides config)")
	return cmd
}

func (opts *serveOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	cfg := opts.config
	overrideString(cmd.Flags(), "listen", &cfg.Server.Listen)
	overrideString(cmd.Flags(), "http-listen", &cfg.Server.HTTPListen)
	logger := opts.logger
	defer logger.Sync()

	reg := stdprometheus.NewRegistry()
	srv, err := buildServer(cfg, logger, reg)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.Server.Listen)
	}
	errc := make(chan error, 2)
	go func() { errc <- srv.Accept(lis) }()

	var httpServer *http.Server
	if cfg.Server.HTTPListen != "" {
		httpServer = &http.Server{Addr: cfg.Server.HTTPListen, Handler: newRouter(srv, reg)}
		go func() {
			logger.Info("serving http", zap.String("addr", cfg.Server.HTTPListen))
			errc <- httpServer.ListenAndServe()
		}()
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigc:
		logger.Info("shutting down", zap.Stringer("signal", sig))
	case err := <-errc:
		logger.Error("listener failed", zap.Error(err))
	}

	if httpServer != nil {
		httpServer.Close()
	}
	return srv.Shutdown(cfg.Server.ShutdownTimeout)
}

// buildServer assembles a server exporting the demo services, with metrics
// registered on reg.
func buildServer(cfg *config.Config, logger *zap.Logger, reg stdprometheus.Registerer) (*server.Server, error) {
	opts := append(cfg.ServerOptions(),
		server.WithLogger(logger),
		server.WithMetrics(metrics.NewServer(reg, cfg.MetricsNamespace)),
	)
	b := server.NewBuilder(opts...).
		Register("Echo", echoMethods()...).
		RegisterReceiver("Arith", &Arith{})
	for _, mw := range cfg.Middlewares(logger) {
		b.Use(mw)
	}
	return b.Build()
}

func newRouter(srv *server.Server, gatherer stdprometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()
	router.Handle(server.DefaultRPCPath, srv).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	}).Methods("GET")
	return router
}
