// Command experience-degrader serves the degradation engine over HTTP and
// publishes its events to MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/experience-degrader/internal/config"
	"github.com/sweeney/experience-degrader/internal/engine"
	"github.com/sweeney/experience-degrader/internal/journal"
	"github.com/sweeney/experience-degrader/internal/mqtt"
	"github.com/sweeney/experience-degrader/internal/status"
	"github.com/sweeney/experience-degrader/internal/viewport"
	"github.com/sweeney/experience-degrader/internal/web"
)

const (
	shutdownTimeout = 5 * time.Second
	hubBuffer       = 64
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Serve overrides, applied only when set on the command line
	httpAddr     string
	broker       string
	heartbeat    time.Duration
	journalPath  string
	nativeScroll bool
	autoStart    bool
	seed         uint64

	cfg      config.Config
	logger   *zap.Logger
	logLevel zap.AtomicLevel
)

var rootCmd = &cobra.Command{
	Use:   "experience-degrader",
	Short: "Scroll, time and interaction driven degradation engine",
	Long: `experience-degrader tracks how long and how hard a visitor scrolls and
degrades the page from pristine through glitching, unstable and chaotic
to broken.

Run without a subcommand to serve the page and the JSON API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, logLevel, err = newLogger(cfg.Level(), verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the degradation page, JSON API and viewport socket",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML config file (default: built-in defaults)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&httpAddr, "http", "", "HTTP listen address (empty to disable)")
	pf.StringVar(&broker, "broker", "", "MQTT broker URL (empty to disable)")
	pf.DurationVar(&heartbeat, "heartbeat", 0, "Heartbeat interval (0 to disable)")
	pf.StringVar(&journalPath, "journal", "", "SQLite event journal path (empty to disable)")
	pf.BoolVar(&nativeScroll, "native-scroll", true, "Follow the page's native scroll over the viewport socket")
	pf.BoolVar(&autoStart, "auto-start", true, "Start time tracking on startup")
	pf.Uint64Var(&seed, "seed", 0, "Random seed (0 seeds from the clock)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(stateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	c, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("http") {
		c.HTTPAddr = httpAddr
	}
	if flags.Changed("broker") {
		c.Broker = broker
	}
	if flags.Changed("heartbeat") {
		c.Heartbeat = heartbeat
	}
	if flags.Changed("journal") {
		c.JournalPath = journalPath
	}
	if flags.Changed("native-scroll") {
		c.NativeScroll = nativeScroll
	}
	if flags.Changed("auto-start") {
		c.AutoStart = autoStart
	}
	if flags.Changed("seed") {
		c.Seed = seed
	}
	if err := c.Validate(); err != nil {
		return config.Config{}, err
	}
	return c, nil
}

func newLogger(level zapcore.Level, verbose bool) (*zap.Logger, zap.AtomicLevel, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	if verbose {
		zc.Level.SetLevel(zapcore.DebugLevel)
	}
	l, err := zc.Build()
	return l, zc.Level, err
}

func runServe(cmd *cobra.Command, args []string) error {
	return run(cfg, logger)
}

// applyReload adopts the reloaded log level. Everything else is read once at
// startup.
func applyReload(c config.Config) {
	if verbose {
		return
	}
	if lvl := c.Level(); lvl != logLevel.Level() {
		logLevel.SetLevel(lvl)
		logger.Info("log level changed", zap.Stringer("level", lvl))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	tracker := status.NewTracker(time.Now(), status.Config{
		HTTPAddr:     cfg.HTTPAddr,
		Broker:       cfg.Broker,
		HeartbeatMs:  cfg.Heartbeat.Milliseconds(),
		NativeScroll: cfg.NativeScroll,
		JournalPath:  cfg.JournalPath,
		AutoStart:    cfg.AutoStart,
	})

	opts := []engine.Option{
		engine.WithLogger(logger.Named("engine")),
		engine.WithObserver(tracker),
	}
	if cfg.Seed != 0 {
		opts = append(opts, engine.WithSeed(cfg.Seed))
	}

	d := &daemon{tracker: tracker, now: time.Now, logger: logger}

	if cfg.Broker != "" {
		pub := mqtt.NewRealPublisher(cfg.Broker, cfg.ClientID, logger.Named("mqtt"))
		defer pub.Close()
		d.publisher = pub
		d.mqttStatus = pub
		opts = append(opts, engine.WithObserver(mqtt.NewObserver(pub, logger.Named("mqtt"))))
	}

	var jrnl *journal.Journal
	if cfg.JournalPath != "" {
		var err error
		jrnl, err = journal.Open(cfg.JournalPath, logger.Named("journal"))
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer jrnl.Close()
		opts = append(opts, engine.WithObserver(jrnl))
	}

	var hub *viewport.Hub
	if cfg.NativeScroll {
		hub = viewport.NewHub(logger.Named("viewport"), hubBuffer)
		defer hub.Close()
		d.clients = hub.ClientCount
		opts = append(opts,
			engine.WithViewport(hub),
			engine.WithObserver(livePush(hub, tracker, logger)),
		)
	}

	eng := engine.New(opts...)
	d.eng = eng
	tracker.Update(eng.Session(), eng.Snapshot())

	d.publishSystem("STARTUP", "")

	var srv *web.Server
	if cfg.HTTPAddr != "" {
		webOpts := []web.Option{web.WithLogger(logger.Named("web"))}
		if hub != nil {
			webOpts = append(webOpts, web.WithViewport(hub))
		}
		if jrnl != nil {
			webOpts = append(webOpts, web.WithJournal(jrnl))
		}
		srv = web.New(cfg.HTTPAddr, tracker, eng, webOpts...)
	}

	if cfg.AutoStart {
		eng.StartTimeTracking()
	}

	logger.Info("started",
		zap.String("session", eng.Session()),
		zap.String("http", cfg.HTTPAddr),
		zap.String("broker", cfg.Broker),
		zap.Duration("heartbeat", cfg.Heartbeat),
		zap.Bool("native_scroll", cfg.NativeScroll),
		zap.Bool("journal", jrnl != nil),
	)

	var tick <-chan time.Time
	if cfg.Heartbeat > 0 {
		ticker := time.NewTicker(cfg.Heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(runCtx)
	if configPath != "" {
		g.Go(func() error {
			return config.Watch(ctx, configPath, logger.Named("config"), applyReload)
		})
	}
	if srv != nil {
		g.Go(func() error {
			logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		err := d.runLoop(ctx, tick, sigCh)
		cancel()
		if srv != nil {
			sctx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stop()
			if serr := srv.Shutdown(sctx); serr != nil {
				logger.Warn("http shutdown", zap.Error(serr))
			}
		}
		return err
	})
	return g.Wait()
}

// livePush forwards every state change to the connected pages and keeps
// the tracker's client count current.
func livePush(hub *viewport.Hub, tracker *status.Tracker, logger *zap.Logger) engine.Observer {
	return engine.ObserverFunc(func(u engine.Update) {
		if err := hub.Broadcast(viewport.StateMessage(u.State)); err != nil {
			logger.Debug("viewport broadcast", zap.Error(err))
		}
		tracker.SetViewportClients(hub.ClientCount())
	})
}

// daemon holds what the run loop needs to report on the process.
type daemon struct {
	eng *engine.Engine

	// publisher and mqttStatus are nil when MQTT is disabled.
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus

	// clients is nil without a viewport hub.
	clients func() int

	tracker *status.Tracker
	now     func() time.Time
	logger  *zap.Logger
}

// runLoop publishes heartbeats on tick until a signal arrives or ctx is
// cancelled, then stops tracking and publishes SHUTDOWN.
func (d *daemon) runLoop(ctx context.Context, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			d.logger.Info("shutting down", zap.Stringer("signal", s))
			d.shutdown(signalName(s))
			return nil

		case <-ctx.Done():
			d.logger.Warn("shutting down", zap.Error(context.Cause(ctx)))
			d.shutdown("ERROR")
			return nil

		case <-tick:
			snap := d.publishSystem("HEARTBEAT", "")
			d.logger.Info("heartbeat",
				zap.String("phase", string(snap.State.Phase)),
				zap.Float64("level", snap.State.Level),
				zap.Duration("uptime", snap.Uptime()),
				zap.Int("viewport_clients", snap.ViewportClients),
			)
		}
	}
}

func (d *daemon) shutdown(reason string) {
	d.eng.StopTimeTracking()
	d.publishSystem("SHUTDOWN", reason)
}

// publishSystem refreshes the tracker and publishes a system event carrying
// the full status. STARTUP and SHUTDOWN are retained.
func (d *daemon) publishSystem(event, reason string) status.Snapshot {
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	if d.clients != nil {
		d.tracker.SetViewportClients(d.clients())
	}
	snap := d.tracker.Snapshot()
	if d.publisher == nil {
		return snap
	}

	se := mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      event,
		Reason:     reason,
		Retained:   event != "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := d.publisher.PublishSystem(se); err != nil {
		d.logger.Warn("system event publish failed", zap.String("event", event), zap.Error(err))
	} else {
		d.logger.Debug("published system event", zap.String("event", event))
	}
	return snap
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
