// Command pathlensd runs the pathlens diagnostics daemon: an HTTP API (and
// optional MCP tool server) fronting ICMP traceroute, ping, multipath ECMP
// discovery, and ASN/territory classification.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	_ "github.com/draymonix/pathlens/docs"
	"github.com/draymonix/pathlens/internal/asn"
	"github.com/draymonix/pathlens/internal/config"
	"github.com/draymonix/pathlens/internal/event"
	"github.com/draymonix/pathlens/internal/facade"
	"github.com/draymonix/pathlens/internal/mcpserver"
	"github.com/draymonix/pathlens/internal/mqttbridge"
	pluginregistry "github.com/draymonix/pathlens/internal/plugin"
	"github.com/draymonix/pathlens/internal/publicip"
	"github.com/draymonix/pathlens/internal/pulse"
	"github.com/draymonix/pathlens/internal/rdns"
	"github.com/draymonix/pathlens/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	mcpStdio := flag.Bool("mcp", false, "serve the MCP tool surface over stdio instead of the HTTP API")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("pathlens starting")

	v, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	cfg := config.New(v)

	asnResolver := buildASNResolver(cfg, logger)
	rdnsCache := rdns.New(net.DefaultResolver.LookupAddr, rdns.DefaultTTL, cfg.GetInt("rdns.cache_capacity"))
	bus := event.NewBus(logger)
	publicIPDiscovery := publicip.New(publicip.Config{Logger: logger})

	f := facade.New(facade.Config{
		Defaults:    facade.Defaults{Interface: cfg.GetString("traceroute.interface")},
		ASNResolver: asnResolver,
		RDNS:        rdnsCache,
		PublicIP:    publicIPDiscovery,
		Logger:      logger,
		EventBus:    bus,
	})

	if brokerURL := cfg.GetString("mqtt.broker_url"); brokerURL != "" {
		bridge, err := mqttbridge.Connect(mqttbridge.Config{
			BrokerURL: brokerURL,
			ClientID:  "pathlensd",
			Logger:    logger,
		})
		if err != nil {
			logger.Warn("mqtt bridge connect failed, continuing without it", zap.Error(err))
		} else {
			bridge.Attach(bus)
			defer bridge.Close()
		}
	}

	if *mcpStdio {
		runMCP(f, logger)
		return
	}

	runHTTP(cfg, v, f, bus, logger)
}

func buildASNResolver(cfg *config.Config, logger *zap.Logger) asn.Resolver {
	var base asn.Resolver
	if path := cfg.GetString("asn.maxmind_db_path"); path != "" {
		local, err := asn.NewLocal(path)
		if err != nil {
			logger.Warn("failed to open local ASN database, falling back to DNS", zap.Error(err))
			base = asn.NewCymruDNS("")
		} else {
			base = local
		}
	} else {
		base = asn.NewCymruDNS("")
	}
	return asn.NewCaching(base, cfg.GetInt("asn.cache_capacity"))
}

func runMCP(f *facade.Facade, logger *zap.Logger) {
	srv := mcpserver.New(f, logger)
	ctx, cancel := signalContext()
	defer cancel()
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil {
		logger.Fatal("mcp server error", zap.Error(err))
	}
}

func runHTTP(cfg *config.Config, v *viper.Viper, f *facade.Facade, bus *event.Bus, logger *zap.Logger) {
	registry := pluginregistry.NewRegistry(logger, bus)
	if err := registry.Register(pulse.New(f)); err != nil {
		logger.Fatal("failed to register diagnostics plugin", zap.Error(err))
	}
	if err := registry.InitAll(v); err != nil {
		logger.Fatal("failed to initialize plugins", zap.Error(err))
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := registry.StartAll(ctx); err != nil {
		logger.Fatal("failed to start plugins", zap.Error(err))
	}

	var auth server.RouteRegistrar
	if secret := cfg.GetString("auth.jwt_secret"); secret != "" {
		auth = server.NewJWTAuth(secret)
		logger.Info("JWT authentication enabled")
	}

	streamer := server.NewStreamRegistrar(f.Tracer(), logger)

	ready := func(ctx context.Context) error {
		for name, status := range registry.AggregateHealth(ctx) {
			if !status.Healthy {
				return fmt.Errorf("plugin %q unhealthy: %s", name, status.Detail)
			}
		}
		return nil
	}

	addr := cfg.GetString("server.host") + ":" + cfg.GetString("server.port")
	srv := server.New(addr, registry, logger, ready, auth, nil, streamer)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("pathlens ready", zap.String("addr", addr))

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	registry.StopAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("pathlens stopped")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
