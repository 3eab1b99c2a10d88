package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"datalink-sync/internal/encoder"
	"datalink-sync/internal/importer"
	"datalink-sync/internal/schedule"
	"datalink-sync/internal/session"
	"datalink-sync/internal/store"
	"datalink-sync/internal/transmit"
	"datalink-sync/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Serial struct {
		Port           string        `yaml:"port"` // empty: preview only
		Baud           int           `yaml:"baud"`
		ByteInterval   time.Duration `yaml:"byte_interval"`
		PacketInterval time.Duration `yaml:"packet_interval"`
	} `yaml:"serial"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Encoder struct {
		Script string `yaml:"script"`
	} `yaml:"encoder"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Google struct {
		ClientID    string        `yaml:"client_id"`
		RedirectURI string        `yaml:"redirect_uri"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"google"`
	ICS struct {
		Source      string `yaml:"source"`
		Schedule    string `yaml:"schedule"`
		AutoImport  bool   `yaml:"auto_import"`
		HorizonDays int    `yaml:"horizon_days"`
	} `yaml:"ics"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		Discovery   bool   `yaml:"discovery"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	// AccessToken is a pre-issued Google token, from the environment only.
	AccessToken string `yaml:"-"`
}

func (c *Config) validate() error {
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud)
	}
	if c.Serial.ByteInterval < 0 || c.Serial.PacketInterval < 0 {
		return fmt.Errorf("serial intervals must not be negative")
	}
	if c.ICS.Schedule != "" && c.ICS.Source == "" {
		return fmt.Errorf("ics.schedule requires ics.source")
	}
	if c.ICS.HorizonDays < 1 {
		return fmt.Errorf("ics.horizon_days must be at least 1, got %d", c.ICS.HorizonDays)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: datalink-sync [-config path] <command> [flags]

commands:
  serve     run the web UI, API and optional MQTT bridge (default)
  send      encode the stored form and transmit it to the watch
  preview   print the packets that send would transmit
  reset     restore the form defaults and clear the store
`)
	flag.PrintDefaults()
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := flag.String("config", "config.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional environment file")
	flag.Usage = usage
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		bootLogger.Warn("load env file", "path", *envPath, "err", err)
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	cmd, args := "serve", []string(nil)
	if flag.NArg() > 0 {
		cmd, args = flag.Arg(0), flag.Args()[1:]
	}

	switch cmd {
	case "serve":
		err = runServe(cfg, logger)
	case "send":
		err = runSend(cfg, logger, args, false)
	case "preview":
		err = runSend(cfg, logger, args, true)
	case "reset":
		err = runReset(cfg, logger)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd+" failed", "err", err)
		os.Exit(1)
	}
}

func runServe(cfg *Config, logger *slog.Logger) error {
	logger.Info("datalink-sync starting", "version", version)

	sess, closeStore, err := openSession(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	webServer := web.NewServer(sess, logger,
		web.WithAPIKey(cfg.Web.APIKey),
		web.WithAllowedOrigins(cfg.Web.AllowedOrigins),
		web.WithOAuth(importer.OAuthConfig{
			ClientID:    cfg.Google.ClientID,
			RedirectURI: cfg.Google.RedirectURI,
		}),
		web.WithVersion(version),
	)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		// Sends block for the whole transmission.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(sess, cfg, logger)

	var refresher *schedule.Refresher
	if cfg.ICS.Schedule != "" {
		refresher = schedule.New(sess, "ics",
			schedule.WithHorizon(cfg.ICS.HorizonDays),
			schedule.WithAutoImport(cfg.ICS.AutoImport),
			schedule.WithLogger(logger))
		if err := refresher.Start(cfg.ICS.Schedule); err != nil {
			logger.Error("ics schedule", "err", err)
			refresher = nil
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if refresher != nil {
		refresher.Stop()
	}
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	if err := sess.Disconnect(); err != nil {
		logger.Warn("disconnect", "err", err)
	}

	logger.Info("goodbye")
	return nil
}

func runReset(cfg *Config, logger *slog.Logger) error {
	sess, closeStore, err := openSession(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	return sess.Reset()
}

// openSession opens the store and builds a loaded session with every
// configured source. The returned func closes the store.
func openSession(cfg *Config, logger *slog.Logger) (*session.Session, func(), error) {
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	closeStore := func() {
		if err := db.Close(); err != nil {
			logger.Warn("close store", "err", err)
		}
	}

	tokens := importer.NewTokens()
	if cfg.AccessToken != "" {
		tokens.Set(importer.Token{AccessToken: cfg.AccessToken, Expiry: time.Now().Add(time.Hour)})
	}
	google := importer.NewGoogle(tokens,
		importer.WithHTTPClient(&http.Client{Timeout: cfg.Google.Timeout}),
		importer.WithGoogleLogger(logger))

	opts := []session.Option{
		session.WithLogger(logger),
		session.WithTokens(tokens),
		session.WithSource(google.Calendar()),
		session.WithSource(google.Tasks()),
		session.WithSource(google.Contacts()),
	}
	if cfg.ICS.Source != "" {
		ics := importer.NewICSCalendar(cfg.ICS.Source, &http.Client{Timeout: cfg.Google.Timeout}, logger)
		opts = append(opts, session.WithSource(ics))
	}

	enc, err := encoder.NewLuaEncoder(cfg.Encoder.Script, logger)
	switch {
	case err == nil:
		opts = append(opts, session.WithEncoder(enc))
	case errors.Is(err, os.ErrNotExist):
		logger.Warn("no encoder script, sending is disabled", "script", cfg.Encoder.Script)
	default:
		closeStore()
		return nil, nil, err
	}

	if cfg.Serial.Port != "" {
		opts = append(opts, session.WithDevice(cfg.Serial.Port,
			transmit.OpenSerial(cfg.Serial.Port, cfg.Serial.Baud),
			transmit.WithPacing(cfg.Serial.ByteInterval, cfg.Serial.PacketInterval)))
	} else {
		logger.Info("no serial port configured, using preview device")
	}

	sess := session.New(db, opts...)
	if err := sess.Load(); err != nil {
		logger.Warn("load form", "err", err)
	}
	return sess, closeStore, nil
}

func loadConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = transmit.DefaultBaudRate
	}
	if cfg.Serial.ByteInterval == 0 {
		cfg.Serial.ByteInterval = transmit.DefaultByteInterval
	}
	if cfg.Serial.PacketInterval == 0 {
		cfg.Serial.PacketInterval = transmit.DefaultPacketInterval
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "datalink.db"
	}
	if cfg.Encoder.Script == "" {
		cfg.Encoder.Script = "encoder.lua"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Google.RedirectURI == "" {
		cfg.Google.RedirectURI = "http://" + cfg.Web.Listen + "/"
	}
	if cfg.Google.Timeout == 0 {
		cfg.Google.Timeout = 15 * time.Second
	}
	if cfg.ICS.HorizonDays == 0 {
		cfg.ICS.HorizonDays = schedule.DefaultHorizonDays
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "datalink"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

// applyEnv lets secrets come from the environment instead of the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DATALINK_API_KEY"); v != "" {
		cfg.Web.APIKey = v
	}
	if v := os.Getenv("DATALINK_GOOGLE_CLIENT_ID"); v != "" {
		cfg.Google.ClientID = v
	}
	if v := os.Getenv("DATALINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("DATALINK_ACCESS_TOKEN"); v != "" {
		cfg.AccessToken = v
	}
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
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
