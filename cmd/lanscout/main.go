package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"lanscout/internal/appliance"
	"lanscout/internal/probe"
	"lanscout/internal/scan"
	"lanscout/internal/store"
	"lanscout/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Probe struct {
		Port        int    `yaml:"port"`
		Timeout     string `yaml:"timeout"`
		Prefix      string `yaml:"prefix"`
		MDNS        bool   `yaml:"mdns"`
		MDNSTimeout string `yaml:"mdns_timeout"`
	} `yaml:"probe"`
	Appliance struct {
		Enabled      bool   `yaml:"enabled"`
		ServiceType  string `yaml:"service_type"`
		HTTPSPort    int    `yaml:"https_port"`
		PollInterval string `yaml:"poll_interval"`
		AppID        string `yaml:"app_id"`
		AppName      string `yaml:"app_name"`
		AppVersion   string `yaml:"app_version"`
		DeviceName   string `yaml:"device_name"`
		InsecureTLS  bool   `yaml:"insecure_tls"`
	} `yaml:"appliance"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScanInterval string `yaml:"scan_interval"`
	ScriptsDir   string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	if c.Probe.Port < 1 || c.Probe.Port > 65535 {
		return fmt.Errorf("probe.port must be 1-65535, got %d", c.Probe.Port)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if _, err := time.ParseDuration(c.Probe.Timeout); err != nil {
		return fmt.Errorf("probe.timeout: %w", err)
	}
	if c.ScanInterval != "" {
		if _, err := time.ParseDuration(c.ScanInterval); err != nil {
			return fmt.Errorf("scan_interval: %w", err)
		}
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	// Create configured logger.
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("lanscout starting", "version", version)

	// Open store
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Subnet prober
	probeTimeout, _ := time.ParseDuration(cfg.Probe.Timeout)
	mdnsTimeout, _ := time.ParseDuration(cfg.Probe.MDNSTimeout)
	prober := probe.New(probe.Config{
		Port:        cfg.Probe.Port,
		Timeout:     probeTimeout,
		Prefix:      cfg.Probe.Prefix,
		MDNS:        cfg.Probe.MDNS,
		MDNSTimeout: mdnsTimeout,
	}, logger)

	// Appliance session (optional)
	var applianceSession scan.Appliance
	if cfg.Appliance.Enabled {
		pollInterval, _ := time.ParseDuration(cfg.Appliance.PollInterval)
		disc := appliance.NewDiscoverer(cfg.Appliance.ServiceType, cfg.Appliance.HTTPSPort, logger)
		applianceSession = appliance.NewSession(appliance.Config{
			Identity: appliance.AppIdentity{
				AppID:      cfg.Appliance.AppID,
				AppName:    cfg.Appliance.AppName,
				AppVersion: cfg.Appliance.AppVersion,
				DeviceName: cfg.Appliance.DeviceName,
			},
			PollInterval: pollInterval,
			InsecureTLS:  cfg.Appliance.InsecureTLS,
		}, disc, db, logger)
	}

	// Scan coordinator
	events := scan.NewEventBus(logger)
	coord := scan.New(prober, applianceSession, db, events, logger)

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(coord, cfg, logger)

	// Start web server
	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webOpts = append(webOpts, autoWebOpts...)

	webServer := web.NewServer(coord, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(coord, cfg, logger)

	// Periodic scans.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	if cfg.ScanInterval != "" {
		interval, _ := time.ParseDuration(cfg.ScanInterval)
		go runPeriodicScans(rootCtx, coord, interval, logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	rootCancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()

	logger.Info("goodbye")
}

func runPeriodicScans(ctx context.Context, coord *scan.Coordinator, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		scanCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		err := coord.Scan(scanCtx)
		cancel()
		if err != nil && err != scan.ErrScanInProgress {
			logger.Warn("periodic scan failed", "err", err)
		}
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "lanscout.db"
	}
	if cfg.Probe.Port == 0 {
		cfg.Probe.Port = 135
	}
	if cfg.Probe.Timeout == "" {
		cfg.Probe.Timeout = "50ms"
	}
	if cfg.Probe.MDNSTimeout == "" {
		cfg.Probe.MDNSTimeout = "2s"
	}
	if cfg.Appliance.PollInterval == "" {
		cfg.Appliance.PollInterval = "1s"
	}
	if cfg.Appliance.AppID == "" {
		cfg.Appliance.AppID = "org.lanscout"
	}
	if cfg.Appliance.AppName == "" {
		cfg.Appliance.AppName = "lanscout"
	}
	if cfg.Appliance.AppVersion == "" {
		cfg.Appliance.AppVersion = version
	}
	if cfg.Appliance.DeviceName == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "lanscout-host"
		}
		cfg.Appliance.DeviceName = host
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "lanscout"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
