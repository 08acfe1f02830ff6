package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/canfd.gateway/internal/admin"
	"github.com/banshee-data/canfd.gateway/internal/config"
	"github.com/banshee-data/canfd.gateway/internal/diag"
	"github.com/banshee-data/canfd.gateway/internal/gateway"
	"github.com/banshee-data/canfd.gateway/internal/monitoring"
	"github.com/banshee-data/canfd.gateway/internal/mqttsink"
	"github.com/banshee-data/canfd.gateway/internal/router"
	"github.com/banshee-data/canfd.gateway/internal/rpmsg"
	"github.com/banshee-data/canfd.gateway/internal/sensor"
	"github.com/banshee-data/canfd.gateway/internal/socketcan"
	"github.com/banshee-data/canfd.gateway/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to the gateway JSON config file")
	device      = flag.String("device", "", "RPMsg tty or trace file to read (default /dev/ttyRPMSG1)")
	source      = flag.String("source", "", "Trace source: rpmsg, socketcan or file (default rpmsg)")
	listen      = flag.String("listen", "", "Debug HTTP listen address (default localhost:8081)")
	debugMode   = flag.Bool("debug", false, "Log rejected lines and unrecognised frames")
	rawDump     = flag.Bool("raw", false, "Log every decoded frame")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

// loadConfig reads the config file, if any, and applies command line
// overrides on top.
func loadConfig() (*config.GatewayConfig, error) {
	cfg := &config.GatewayConfig{}
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadGatewayConfig(*configPath); err != nil {
			return nil, err
		}
	}
	if *device != "" {
		cfg.Device = device
	}
	if *source != "" {
		cfg.Source = source
	}
	if *listen != "" {
		cfg.AdminListen = listen
	}
	if *debugMode {
		cfg.Debug = debugMode
	}
	if *rawDump {
		cfg.RawDump = rawDump
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

type lineSource interface {
	router.LineSource
	io.Closer
}

func openSource(cfg *config.GatewayConfig) (lineSource, error) {
	switch cfg.GetSource() {
	case config.SourceRPMsg:
		return rpmsg.Open(cfg.GetDevice(), cfg.GetSerial())
	case config.SourceFile:
		return rpmsg.OpenFile(cfg.GetDevice())
	case config.SourceSocketCAN:
		return socketcan.Open(cfg.GetCanInterface())
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.GetSource())
	}
}

// runGateway runs until the source ends or ctx is cancelled. It returns the
// final router counters and the error the router failed with, if any.
func runGateway(ctx context.Context, cfg *config.GatewayConfig, src lineSource) (router.Stats, error) {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	registry := sensor.NewRegistry(cfg.GetQueueCapacity())
	load := diag.NewBusLoad(cfg.GetCanInterface(), cfg.GetBusLoadInterval(), nil)
	tap := diag.NewTap()
	defer tap.Close()
	r := router.New(src, registry, router.WithObserver(diag.NewRecorder(load, tap, cfg.GetRawDump())))

	var fwd gateway.Forwarder
	if cfg.MQTT != nil {
		client, err := mqttsink.Dial(cfg.MQTT.SinkOptions())
		if err != nil {
			return router.Stats{}, err
		}
		defer client.Close()
		fwd = mqttsink.NewForwarder(client, cfg.MQTT.GetTopicPrefix(),
			mqttsink.WithEncoding(cfg.MQTT.GetEncoding()))
	}
	gw := gateway.New(ctx, r, registry, fwd)
	defer gw.Close()

	for _, s := range cfg.Sensors {
		if err := gw.AttachSensor(s.ID, s.ReceiverID); err != nil {
			return router.Stats{}, fmt.Errorf("attach sensor %s: %w", s.ID, err)
		}
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		// the whole gateway stops with the router
		defer stop()
		err := r.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("router stopped: %v", err)
		}
		log.Print("router routine terminated")
	}()

	if addr := cfg.GetAdminListen(); addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mux := http.NewServeMux()
			admin.Attach(mux, admin.Deps{Gateway: gw, BusLoad: load, Tap: tap})
			server := &http.Server{Addr: addr, Handler: mux}

			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("failed to start debug server: %v", err)
				}
			}()
			log.Printf("debug server listening on %s", addr)

			<-ctx.Done()
			// Shutdown waits for handlers, and the tail stream only ends when
			// the tap is closed.
			tap.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("debug server shutdown error: %v", err)
				if err := server.Close(); err != nil {
					log.Printf("debug server force close error: %v", err)
				}
			}
			log.Print("debug server routine stopped")
		}()
	}

	<-ctx.Done()
	// unblocks a ReadLine still waiting on the device
	if err := src.Close(); err != nil {
		log.Printf("failed to close source: %v", err)
	}
	wg.Wait()

	err := r.Err()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return r.Stats(), err
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	monitoring.SetDebug(cfg.GetDebug())
	log.Printf("starting %s", version.String())

	src, err := openSource(cfg)
	if err != nil {
		log.Fatalf("failed to open %s source: %v", cfg.GetSource(), err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := runGateway(ctx, cfg, src)
	log.Printf("processed %d lines, %d frames decoded, %d delivered, %d evicted",
		stats.Lines, stats.Decoded, stats.Delivered, stats.Evicted)
	if err != nil {
		log.Printf("gateway failed: %v", err)
		stop()
		os.Exit(1)
	}
	log.Printf("Graceful shutdown complete")
}
