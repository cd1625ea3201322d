package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"

	"gaugeconv/internal/config"
	"gaugeconv/internal/udp"
	"gaugeconv/internal/web"
)

func main() {
	var (
		configPath string
		selftest   bool
		version    bool
		dumpConfig bool
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config (empty uses built-in defaults)")
	flag.BoolVar(&selftest, "selftest", false, "Run the scenario on the simulated bench, print measured outputs and exit")
	flag.BoolVar(&version, "version", false, "Print build information and exit")
	flag.BoolVar(&dumpConfig, "dump-config", false, "Print the effective config and exit")
	flag.Parse()

	if version {
		fmt.Println(web.ReadBuild())
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if dumpConfig {
		spew.Config.SortKeys = true
		spew.Fdump(os.Stdout, cfg)
		return
	}

	if selftest {
		ok, err := runSelftest(cfg, os.Stdout)
		if err != nil {
			log.Fatalf("selftest failed: %v", err)
		}
		if !ok {
			os.Exit(1)
		}
		return
	}

	logs := web.NewLogBuffer(2000)
	closer := setupLogging(cfg.Log, logs)
	defer closer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, configPath, logs); err != nil {
		log.Printf("gaugeconv stopped: %v", err)
		closer.Close()
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func run(ctx context.Context, cfg config.Config, configPath string, logs *web.LogBuffer) error {
	log.Printf("gaugeconv starting config=%q peripheral=%s strategy=%s output_mode=%s",
		configPath, cfg.Peripheral, cfg.Capture.Strategy, cfg.OutputMode)
	logSchedulerTunables()

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	status := web.NewStatus()
	status.SetStatic(web.StaticInfo{
		Peripheral:    cfg.Peripheral,
		Strategy:      cfg.Capture.Strategy,
		OutputMode:    cfg.OutputMode,
		Scenario:      rt.scenarioName(),
		TelemetryDest: cfg.Telemetry.Dest,
	})
	status.SetSource(rt.svc.Snapshot)
	log.Printf("gaugeconv boot_id=%s", status.BootID())

	if err := rt.Start(ctx); err != nil {
		return err
	}

	stream := web.NewStatusBroadcaster()
	go stream.Run(ctx, status, 250*time.Millisecond)

	if cfg.Telemetry.Dest != "" {
		tx, err := udp.NewBroadcaster(cfg.Telemetry.Dest)
		if err != nil {
			return fmt.Errorf("telemetry init failed: %w", err)
		}
		defer tx.Close()
		log.Printf("udp telemetry dest=%s interval=%s", cfg.Telemetry.Dest, cfg.Telemetry.Interval)
		go tx.Run(ctx, cfg.Telemetry.Interval, func() ([]byte, error) {
			return json.Marshal(status.Snapshot(time.Now().UTC()))
		})
	}

	log.Printf("web listen=%s", cfg.Web.Listen)
	err = web.Serve(ctx, cfg.Web.Listen, status, logs, stream)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("web server: %w", err)
	}
	log.Printf("gaugeconv stopping")
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
