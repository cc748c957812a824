package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/dashcam/internal/api"
	"github.com/banshee-data/dashcam/internal/buffer"
	"github.com/banshee-data/dashcam/internal/config"
	"github.com/banshee-data/dashcam/internal/dashcam"
	"github.com/banshee-data/dashcam/internal/db"
	"github.com/banshee-data/dashcam/internal/fsutil"
	"github.com/banshee-data/dashcam/internal/incident"
	"github.com/banshee-data/dashcam/internal/monitoring"
	"github.com/banshee-data/dashcam/internal/rollover"
	"github.com/banshee-data/dashcam/internal/sensor"
	"github.com/banshee-data/dashcam/internal/serialmux"
	"github.com/banshee-data/dashcam/internal/timeutil"
	"github.com/banshee-data/dashcam/internal/units"
	"github.com/banshee-data/dashcam/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to JSON config file")
	listen      = flag.String("listen", "", "Listen address (overrides config)")
	dataDir     = flag.String("data-dir", "", "Directory for the video buffer and incident copies (overrides config)")
	dbPath      = flag.String("db-path", "", "Incident journal path (overrides config)")
	serialPort  = flag.String("serial-port", "", "IMU serial port, e.g. /dev/ttyUSB0 (overrides config)")
	devMode     = flag.Bool("dev", false, "Feed the sensors from a synthetic IMU instead of a serial port")
	debug       = flag.Bool("debug", false, "Write diag logs to stderr")
	traceLog    = flag.String("trace-log", "", "Append per-sample trace logs to this file")
	unitsFlag   = flag.String("units", units.MPS2, "Acceleration units for API output ("+units.GetValidUnitsString()+")")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// devSpikeEvery puts a synthetic collision roughly every 20s at the
// default 50ms sample interval.
const devSpikeEvery = 400

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)

	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], cfg.GetDBPath(), os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	if !units.IsValid(*unitsFlag) {
		log.Fatalf("Invalid units %q: must be one of %s", *unitsFlag, units.GetValidUnitsString())
	}

	writers, closeTrace, err := logWriters(*debug, *traceLog)
	if err != nil {
		log.Fatalf("Failed to open trace log: %v", err)
	}
	defer closeTrace()
	monitoring.SetLogWriters(writers)

	if err := os.MkdirAll(cfg.GetDataDir(), 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	journal, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to open incident journal: %v", err)
	}
	defer journal.Close()

	imu, err := openIMU(cfg)
	if err != nil {
		log.Fatalf("Failed to open IMU: %v", err)
	}
	defer imu.Close()
	if err := imu.Initialize(); err != nil {
		log.Fatalf("Failed to initialize IMU: %v", err)
	}

	clock := timeutil.RealClock{}
	bufferConfig := buffer.NewConfigStore(buffer.DefaultConfig().Apply(cfg.Buffer))
	detectionConfig := incident.NewConfigStore(incident.DefaultDetectionConfig().Apply(cfg.Detection))

	svc, err := dashcam.New(dashcam.Options{
		Source:  sensor.NewMuxSource(imu),
		FS:      fsutil.OSFileSystem{},
		Clock:   clock,
		Journal: journal,
		Buffer: buffer.Options{
			BufferDir:   filepath.Join(cfg.GetDataDir(), "buffer"),
			IncidentDir: filepath.Join(cfg.GetDataDir(), "incidents"),
		},
		BufferConfig:    bufferConfig,
		DetectionConfig: detectionConfig,
		SampleInterval:  cfg.GetSensorInterval(),
	})
	if err != nil {
		log.Fatalf("Failed to create dashcam service: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The serial monitor must be reading before sampling starts.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := imu.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("IMU monitor stopped: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	if err := svc.Start(); err != nil {
		log.Fatalf("Failed to start dashcam: %v", err)
	}
	log.Printf("%s recording to %s (sensitivity %.2f)", version.String(), cfg.GetDataDir(), cfg.GetSensitivity())

	wg.Add(1)
	go func() {
		defer wg.Done()
		driver := rollover.NewDriver(svc.Buffer(), clock, rollover.DefaultTick)
		driver.OnRollover = logRollover
		if err := driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("rollover driver stopped: %v", err)
		}
		log.Print("rollover routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(api.Backends{
			Buffer:          svc.Buffer(),
			Journal:         journal,
			Monitor:         svc.Monitor(),
			Samples:         svc.Sampler(),
			BufferConfig:    bufferConfig,
			DetectionConfig: detectionConfig,
		}, *unitsFlag).ServeMux()

		imu.AttachAdminRoutes(mux)
		svc.Buffer().AttachAdminRoutes(mux)
		svc.Monitor().AttachAdminRoutes(mux)
		if err := journal.AttachAdminRoutes(mux); err != nil {
			log.Printf("journal debug routes disabled: %v", err)
		}

		server := &http.Server{
			Addr:              cfg.GetListen(),
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Printf("listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Print("HTTP server routine terminated")
	}()

	<-ctx.Done()
	// Finalize the active segment while the IMU is still open.
	svc.Close()
	wg.Wait()
	log.Print("graceful shutdown complete")
}

func loadConfig(path string) (*config.DashcamConfig, error) {
	if path == "" {
		return &config.DashcamConfig{}, nil
	}
	return config.LoadConfig(path)
}

// applyFlags lets non-empty command line values override the config file.
func applyFlags(cfg *config.DashcamConfig) {
	if *listen != "" {
		cfg.Listen = listen
	}
	if *dataDir != "" {
		cfg.DataDir = dataDir
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}
	if *serialPort != "" {
		cfg.SerialPort = serialPort
	}
}

// logWriters sends ops to stderr, diag to stderr when debug is set, and
// trace to tracePath when given.
func logWriters(debug bool, tracePath string) (monitoring.LogWriters, func(), error) {
	w := monitoring.LogWriters{Ops: os.Stderr}
	if debug {
		w.Diag = os.Stderr
	}
	if tracePath == "" {
		return w, func() {}, nil
	}
	f, err := os.OpenFile(tracePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return w, func() {}, err
	}
	w.Trace = f
	return w, func() { f.Close() }, nil
}

// openIMU picks the IMU backend: synthetic in dev mode, the configured
// serial port, or a disabled mux when neither is available.
func openIMU(cfg *config.DashcamConfig) (serialmux.SerialMuxInterface, error) {
	if *devMode {
		sim := dashcam.NewSimulator(uint64(time.Now().UnixNano()), devSpikeEvery)
		return serialmux.NewMockSerialMux(cfg.GetSensorInterval(), sim.Next), nil
	}
	port := cfg.GetSerialPort()
	if port == "" {
		log.Print("no IMU serial port configured; incident detection is idle")
		return serialmux.NewDisabledSerialMux(), nil
	}
	return serialmux.NewRealSerialMux(port, serialmux.PortOptions{BaudRate: cfg.GetSerialBaudRate()})
}

func logRollover(seg buffer.Segment) {
	if seg.IsProtected {
		log.Printf("segment %s finalized (%d bytes, protected by %s)", seg.ID, seg.SizeBytes, seg.ProtectingIncidentID)
		return
	}
	log.Printf("segment %s finalized (%d bytes)", seg.ID, seg.SizeBytes)
}
