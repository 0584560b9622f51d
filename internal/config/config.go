package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultPath = "replicator.json"
	envPrefix   = "REPLICATOR_"
)

// Duration читается из JSON, ENV и флагов строкой вида "5s".
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

type Config struct {
	Port     string `json:"port" env:"PORT"` // пусто: без HTTP API
	DSLDir   string `json:"dslDir" env:"DSL_DIR"`
	Bindings string `json:"bindings" env:"BINDINGS"`
	Events   string `json:"events" env:"EVENTS"` // JSONL; "-": stdin

	// БД-источник для обратного разрешения владельцев (пусто: ищем в памяти)
	SourceDriver string `json:"sourceDriver" env:"SOURCE_DRIVER"`
	SourceURL    string `json:"sourceUrl" env:"SOURCE_URL"`

	// sql-sink (пусто: только memory)
	SinkDriver  string   `json:"sinkDriver" env:"SINK_DRIVER"`
	SinkURL     string   `json:"sinkUrl" env:"SINK_URL"`
	AutoMigrate bool     `json:"autoMigrate" env:"AUTO_MIGRATE"`
	SinkTimeout Duration `json:"sinkTimeout" env:"SINK_TIMEOUT"`

	LogLevel string `json:"logLevel" env:"LOG_LEVEL"`
	SeqURL   string `json:"seqUrl" env:"SEQ_URL"`
}

func def() Config {
	return Config{
		Port:         "8080",
		DSLDir:       "dsl",
		Bindings:     "bindings.yaml",
		Events:       "-",
		SourceDriver: "pgx",
		SinkDriver:   "pgx",
		AutoMigrate:  false,
		SinkTimeout:  Duration{5 * time.Second},
		LogLevel:     "info",
	}
}

func loadJSON(path string, c *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, c)
}

// Load читает JSON по пути jsonPath (если файл есть), потом ENV REPLICATOR_* и флаги из args.
func Load(jsonPath string, args []string) (Config, error) {
	cfg := def()

	// JSON (если файл существует)
	if st, err := os.Stat(jsonPath); err == nil && !st.IsDir() {
		if err := loadJSON(jsonPath, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", jsonPath, err)
		}
	}

	// ENV overrides
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return cfg, fmt.Errorf("config env: %w", err)
	}

	// Flags overrides
	fs := flag.NewFlagSet("replicator", flag.ContinueOnError)
	configPath := fs.String("config", jsonPath, "Path to config JSON")
	fs.StringVar(&cfg.Port, "port", cfg.Port, "HTTP port (empty = no API)")
	fs.StringVar(&cfg.DSLDir, "dsl", cfg.DSLDir, "Path to DSL directory")
	fs.StringVar(&cfg.Bindings, "bindings", cfg.Bindings, "Path to table bindings YAML")
	fs.StringVar(&cfg.Events, "events", cfg.Events, "Change stream JSONL file (- = stdin)")
	fs.StringVar(&cfg.SourceDriver, "source-driver", cfg.SourceDriver, "Source DB driver (pgx/sqlite)")
	fs.StringVar(&cfg.SourceURL, "source", cfg.SourceURL, "Source DB URL (empty = resolve in memory)")
	fs.StringVar(&cfg.SinkDriver, "sink-driver", cfg.SinkDriver, "SQL sink driver (pgx/sqlite)")
	fs.StringVar(&cfg.SinkURL, "sink", cfg.SinkURL, "SQL sink URL (empty = memory only)")
	fs.BoolVar(&cfg.AutoMigrate, "auto-migrate", cfg.AutoMigrate, "Create SQL sink tables")
	fs.TextVar(&cfg.SinkTimeout, "sink-timeout", cfg.SinkTimeout, "Timeout of one sink operation")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug/info/warn/error")
	fs.StringVar(&cfg.SeqURL, "seq", cfg.SeqURL, "Seq server URL (empty = console only)")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	// Если через флаг передали другой конфиг: перечитаем
	if *configPath != jsonPath {
		return Load(*configPath, args)
	}

	cfg.Port = strings.TrimSpace(cfg.Port)
	cfg.DSLDir = strings.TrimSpace(cfg.DSLDir)
	cfg.Bindings = strings.TrimSpace(cfg.Bindings)
	cfg.SourceURL = strings.TrimSpace(cfg.SourceURL)
	cfg.SinkURL = strings.TrimSpace(cfg.SinkURL)
	return cfg, nil
}
