// Command uwbfollow points a speaker at a UWB tag and sets the room volume
// from the tag's distance or position.
package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/banshee-data/uwb.follow/internal/api"
	"github.com/banshee-data/uwb.follow/internal/config"
	"github.com/banshee-data/uwb.follow/internal/db"
	"github.com/banshee-data/uwb.follow/internal/fsutil"
	"github.com/banshee-data/uwb.follow/internal/monitoring"
	"github.com/banshee-data/uwb.follow/internal/serialmux"
	"github.com/banshee-data/uwb.follow/internal/servo"
	"github.com/banshee-data/uwb.follow/internal/timeutil"
	"github.com/banshee-data/uwb.follow/internal/tracker"
	"github.com/banshee-data/uwb.follow/internal/version"
	"github.com/banshee-data/uwb.follow/internal/volume"
	"github.com/banshee-data/uwb.follow/internal/zones"
)

//go:embed fixtures.hex
var defaultFixture []byte

var (
	configPath    = flag.String("config", config.DefaultConfigPath, "Path to the TOML configuration file")
	writeConfig   = flag.String("write-config", "", "Write a sample configuration file to this path and exit")
	devMode       = flag.Bool("dev", false, "Replay fixture frames and log instead of driving the servo and mixer")
	fixturePath   = flag.String("fixture", "", "Hex fixture replayed in dev mode (default: built-in sweep)")
	listen        = flag.String("listen", "", "Listen address (overrides server.listen)")
	port          = flag.String("port", "", "UWB serial port (overrides serial.port)")
	dbPath        = flag.String("db-path", "", "SQLite database path (overrides storage.db_path)")
	disableSerial = flag.Bool("disable-serial", false, "Run without a UWB tag; only the control surface is served")
	disableServo  = flag.Bool("disable-servo", false, "Log servo moves instead of driving the PWM output")
	disableAudio  = flag.Bool("disable-audio", false, "Log volume changes instead of calling amixer")
	debug         = flag.Bool("debug", false, "Log dropped frames and other per-frame detail")
	versionFlag   = flag.Bool("version", false, "Print version information and exit")
)

// replay pacing for dev mode: one 31-byte frame roughly every 100ms
const (
	replayChunk    = 31
	replayInterval = 100 * time.Millisecond
	pruneInterval  = time.Hour
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.String())
		return
	}
	if *writeConfig != "" {
		if err := config.CreateSample(*writeConfig); err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Printf("wrote sample configuration to %s\n", *writeConfig)
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "migrate":
			if err := db.RunMigrateCommand(flag.Args()[1:], cfg.Storage.DBPath, os.Stdout); err != nil {
				log.Fatalf("migrate: %v", err)
			}
			return
		default:
			usage()
			os.Exit(2)
		}
	}

	monitoring.SetDebug(*debug)
	log.Printf("starting %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		// run has already released the servo, port and lock
		log.Fatalf("%v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n       %s [flags] migrate <command>\n\nFlags:\n", os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintln(flag.CommandLine.Output())
	db.PrintMigrateHelp(flag.CommandLine.Output())
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, exists, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if exists {
		log.Printf("loaded configuration from %s", *configPath)
	}
	applyFlagOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlagOverrides(cfg *config.Config) {
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *dbPath != "" {
		cfg.Storage.DBPath = *dbPath
	}
	if *disableServo || *devMode {
		cfg.Servo.Disabled = true
	}
	if *disableAudio || *devMode {
		cfg.Volume.Disabled = true
	}
}

// openSerial picks the frame source: the fixture replay in dev mode, nothing
// at all when disabled, otherwise the UART.
func openSerial(cfg *config.Config) (serialmux.SerialMuxInterface, error) {
	switch {
	case *disableSerial:
		log.Printf("serial disabled: no UWB frames will be read")
		return serialmux.NewDisabledSerialMux(), nil

	case *devMode:
		raw := defaultFixture
		if *fixturePath != "" {
			var err error
			raw, err = os.ReadFile(*fixturePath)
			if err != nil {
				return nil, fmt.Errorf("failed to open fixtures file: %w", err)
			}
		}
		data, err := serialmux.ParseHexFixture(raw)
		if err != nil {
			return nil, err
		}
		log.Printf("dev mode: replaying %d bytes of fixture frames", len(data))
		return serialmux.NewReplaySerialMux(data, replayChunk, replayInterval), nil

	default:
		m, err := serialmux.NewRealSerialMux(cfg.Serial.Port, cfg.Serial.PortOptions(), cfg.Serial.GetReadTimeout())
		if err != nil {
			return nil, err
		}
		log.Printf("opened UWB serial port %s at %d baud", cfg.Serial.Port, cfg.Serial.BaudRate)
		return m, nil
	}
}

// openServo returns the PWM driver and a function closing it.
func openServo(cfg *config.Config) (servo.Driver, func() error, error) {
	if cfg.Servo.Disabled {
		return servo.LogDriver{}, func() error { return nil }, nil
	}
	pwm, err := servo.OpenSysfsPWM(fsutil.OSFileSystem{}, cfg.Servo.PWMRoot, cfg.Servo.PWMChip, cfg.Servo.PWMChannel, cfg.Servo.GetPeriod())
	if err != nil {
		return nil, nil, err
	}
	return pwm, pwm.Close, nil
}

func openMixer(cfg *config.Config) volume.Mixer {
	if cfg.Volume.Disabled {
		return volume.LogMixer{}
	}
	return volume.NewAmixerMixer(
		volume.WithBinary(cfg.Volume.Binary),
		volume.WithCard(cfg.Volume.Card),
		volume.WithControl(cfg.Volume.Control),
	)
}

// startLevel maps a configured level onto volume.Options, where zero means
// "use the default".
func startLevel(v int) int {
	if v == 0 {
		return -1
	}
	return v
}

// importLegacyZones seeds an empty zone table from positions.json.
func importLegacyZones(store *db.ZoneStore, path string) {
	if path == "" {
		return
	}
	legacy := zones.LoadFile(fsutil.OSFileSystem{}, path)
	if len(legacy) == 0 {
		return
	}
	n, err := store.Seed(legacy)
	if err != nil {
		log.Printf("failed to import zones from %s: %v", path, err)
		return
	}
	if n > 0 {
		log.Printf("imported %d zones from %s", n, path)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	lock := flock.New(cfg.Storage.DBPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return errors.New("another uwbfollow instance is already running")
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil {
			log.Printf("failed to release lock: %v", uerr)
		}
	}()

	uwbSerial, err := openSerial(cfg)
	if err != nil {
		return err
	}
	defer uwbSerial.Close()

	if err := uwbSerial.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize UWB serial port: %w", err)
	}

	database, err := db.NewDB(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	store := database.Zones(cfg.Tracking.ZoneTolerance())
	importLegacyZones(store, cfg.Storage.PositionsFile)

	driver, closeDriver, err := openServo(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeDriver(); cerr != nil {
			log.Printf("failed to close PWM output: %v", cerr)
		}
	}()

	clock := timeutil.RealClock{}
	pos := servo.NewPositioner(driver, servo.Options{
		MinAngle:      cfg.Servo.MinAngle,
		MaxAngle:      cfg.Servo.MaxAngle,
		CenterAngle:   cfg.Servo.CenterAngle,
		Tolerance:     cfg.Servo.Tolerance,
		TrackSettle:   cfg.Servo.GetTrackSettle(),
		ManualSettle:  cfg.Servo.GetManualSettle(),
		StartupSettle: cfg.Servo.GetStartupSettle(),
		Clock:         clock,
	})
	defer func() {
		if rerr := pos.Release(); rerr != nil {
			log.Printf("failed to release servo: %v", rerr)
		}
	}()
	if err := pos.Center(); err != nil {
		return fmt.Errorf("failed to centre servo: %w", err)
	}

	vol := volume.NewController(openMixer(cfg), store, volume.Options{
		InitialManual: startLevel(cfg.Volume.InitialManual),
		InitialZoned:  startLevel(cfg.Volume.InitialZoned),
	})

	opts := tracker.Options{Clock: clock, StaleAfter: cfg.Tracking.GetStaleAfter()}
	if cfg.Storage.RecordSamples {
		opts.Recorder = database
	}
	tr := tracker.New(pos, vol, store, opts)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Create a wait group for the HTTP server, serial monitor, and tracker routines
	var wg sync.WaitGroup

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := uwbSerial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		id, frames := uwbSerial.Subscribe()
		defer uwbSerial.Unsubscribe(id)
		if err := tr.Run(ctx, frames); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("tracker stopped: %v", err)
		}
		log.Print("tracker routine terminated")
	}()

	if retention := cfg.Storage.GetSampleRetention(); cfg.Storage.RecordSamples && retention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruneSamples(ctx, database, clock, retention)
		}()
	}

	serverErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(tr, uwbSerial, cfg.Server.AllowedOrigin)
		mux := apiServer.ServeMux()

		uwbSerial.AttachAdminRoutes(mux)
		database.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:              cfg.Server.Listen,
			Handler:           api.LoggingMiddleware(apiServer.CORS(mux)),
			ReadHeaderTimeout: 5 * time.Second,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("control surface listening on %s", cfg.Server.Listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- fmt.Errorf("failed to start server: %w", err)
				cancel()
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	select {
	case err := <-serverErr:
		return err
	default:
		return nil
	}
}

// pruneSamples drops recorded samples older than retention once an hour.
func pruneSamples(ctx context.Context, database *db.DB, clock timeutil.Clock, retention time.Duration) {
	ticker := clock.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			n, err := database.PruneSamples(clock.Now().Add(-retention))
			if err != nil {
				log.Printf("failed to prune samples: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("pruned %d samples older than %s", n, retention)
			}
		}
	}
}
