// Package config loads mcdskit settings from YAML and MCDS_* environment
// variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mcdskit.dev/internal/mcds"
	"mcdskit.dev/internal/mcds/table"
	"mcdskit.dev/internal/persistence/s3mirror"
)

type Config struct {
	Loader  LoaderConfig  `yaml:"loader"`
	Logging LoggingConfig `yaml:"logging"`
	Index   IndexConfig   `yaml:"index"`
	Archive ArchiveConfig `yaml:"archive"`
	Mirror  MirrorConfig  `yaml:"mirror"`
	Server  ServerConfig  `yaml:"server"`
}

// LoaderConfig mirrors mcds.Options.
type LoaderConfig struct {
	OutputPath  string            `yaml:"output_path"`
	Microenv    bool              `yaml:"microenv"`
	Graph       bool              `yaml:"graph"`
	PhysiBoSS   bool              `yaml:"physiboss"`
	SettingsXML string            `yaml:"settings_xml"`
	CustomTypes map[string]string `yaml:"custom_types,omitempty"`
	Verbose     bool              `yaml:"verbose"`
}

type LoggingConfig struct {
	// Level is error, warn, info, debug or trace.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

type IndexConfig struct {
	// Path of the sqlite file. Empty disables the index.
	Path      string `yaml:"path"`
	QueueSize int    `yaml:"queue_size"`
}

type ArchiveConfig struct {
	// Dir receives .snap.zst files. Empty means next to the bundle.
	Dir string `yaml:"dir"`
}

type MirrorConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Prefix          string        `yaml:"prefix"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint,omitempty"`
	AccessKeyID     string        `yaml:"access_key_id,omitempty"`
	SecretAccessKey string        `yaml:"secret_access_key,omitempty"`
	PathStyle       bool          `yaml:"path_style"`
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	EnqueueWait     time.Duration `yaml:"enqueue_wait"`
	MaxAttempts     int           `yaml:"max_attempts"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr"`
	DataDir string `yaml:"data_dir"`
	// CacheSize bounds the number of decoded snapshots kept in memory.
	CacheSize    int           `yaml:"cache_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxRows      int           `yaml:"max_rows"`
	// QueryLogDir receives hourly query logs. Empty disables them.
	QueryLogDir string `yaml:"query_log_dir"`
}

func Defaults() Config {
	return Config{
		Loader: LoaderConfig{
			Microenv:    true,
			Graph:       true,
			PhysiBoSS:   true,
			SettingsXML: mcds.DefaultSettingsXML,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Index:   IndexConfig{QueueSize: 4096},
		Mirror: MirrorConfig{
			Region:      "us-east-1",
			Workers:     2,
			QueueSize:   256,
			EnqueueWait: 25 * time.Millisecond,
			MaxAttempts: 4,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			DataDir:      ".",
			CacheSize:    16,
			WriteTimeout: 10 * time.Second,
			MaxRows:      100000,
		},
	}
}

// Load returns Defaults overlaid with the YAML file at path, if any, and
// then with MCDS_* environment variables. An empty path skips the file; a
// named file that does not exist is an error.
func Load(path string) (Config, error) {
	c := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return c, fmt.Errorf("%s: %w", path, err)
		}
		c.Mirror.SecretAccessKey = expandEnv(c.Mirror.SecretAccessKey)
		c.Mirror.AccessKeyID = expandEnv(c.Mirror.AccessKeyID)
	}
	if err := applyEnv(&c); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch c.Logging.Level {
	case "", "error", "warn", "warning", "info", "debug", "trace":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (valid: text, json)", c.Logging.Format)
	}
	for col, typ := range c.Loader.CustomTypes {
		if _, ok := table.ParseKind(typ); !ok {
			return fmt.Errorf("%w: %q for column %s", mcds.ErrUnknownDataType, typ, col)
		}
	}
	if c.Mirror.Enabled && c.Mirror.Bucket == "" {
		return fmt.Errorf("mirror enabled without bucket")
	}
	if c.Index.QueueSize < 0 || c.Mirror.QueueSize < 0 || c.Mirror.Workers < 0 {
		return fmt.Errorf("queue sizes and worker counts must be non-negative")
	}
	if c.Server.CacheSize < 0 || c.Server.MaxRows < 0 {
		return fmt.Errorf("server cache_size and max_rows must be non-negative")
	}
	return nil
}

// LoaderOptions converts the loader section. logger receives loader output
// when Verbose is set.
func (c Config) LoaderOptions(logger *slog.Logger) mcds.Options {
	o := mcds.Options{
		OutputPath:  c.Loader.OutputPath,
		Microenv:    c.Loader.Microenv,
		Graph:       c.Loader.Graph,
		PhysiBoSS:   c.Loader.PhysiBoSS,
		SettingsXML: c.Loader.SettingsXML,
		Verbose:     c.Loader.Verbose,
		Logger:      logger,
	}
	if len(c.Loader.CustomTypes) > 0 {
		o.CustomTypes = make(map[string]string, len(c.Loader.CustomTypes))
		for k, v := range c.Loader.CustomTypes {
			o.CustomTypes[k] = v
		}
	}
	return o
}

func applyEnv(c *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	var errs []string
	boolean := func(key string, dst *bool) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q", key, v))
			return
		}
		*dst = b
	}
	integer := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q", key, v))
			return
		}
		*dst = n
	}

	str("MCDS_OUTPUT_PATH", &c.Loader.OutputPath)
	boolean("MCDS_MICROENV", &c.Loader.Microenv)
	boolean("MCDS_GRAPH", &c.Loader.Graph)
	boolean("MCDS_PHYSIBOSS", &c.Loader.PhysiBoSS)
	str("MCDS_SETTINGS_XML", &c.Loader.SettingsXML)
	boolean("MCDS_VERBOSE", &c.Loader.Verbose)

	str("MCDS_LOG_LEVEL", &c.Logging.Level)
	str("MCDS_LOG_FORMAT", &c.Logging.Format)

	str("MCDS_INDEX_PATH", &c.Index.Path)
	str("MCDS_ARCHIVE_DIR", &c.Archive.Dir)

	boolean("MCDS_S3_ENABLED", &c.Mirror.Enabled)
	str("MCDS_S3_BUCKET", &c.Mirror.Bucket)
	str("MCDS_S3_PREFIX", &c.Mirror.Prefix)
	str("MCDS_S3_REGION", &c.Mirror.Region)
	str("MCDS_S3_ENDPOINT", &c.Mirror.Endpoint)
	str("MCDS_S3_ACCESS_KEY_ID", &c.Mirror.AccessKeyID)
	str("MCDS_S3_SECRET_ACCESS_KEY", &c.Mirror.SecretAccessKey)
	boolean("MCDS_S3_PATH_STYLE", &c.Mirror.PathStyle)
	integer("MCDS_S3_WORKERS", &c.Mirror.Workers)

	str("MCDS_SERVER_ADDR", &c.Server.Addr)
	str("MCDS_DATA_DIR", &c.Server.DataDir)
	integer("MCDS_CACHE_SIZE", &c.Server.CacheSize)
	str("MCDS_QUERY_LOG_DIR", &c.Server.QueryLogDir)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, ", "))
	}
	return nil
}

func expandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}

// ClientConfig converts the mirror section for s3mirror.New.
func (m MirrorConfig) ClientConfig() s3mirror.Config {
	return s3mirror.Config{
		Bucket:          m.Bucket,
		Region:          m.Region,
		Endpoint:        m.Endpoint,
		AccessKeyID:     m.AccessKeyID,
		SecretAccessKey: m.SecretAccessKey,
		PathStyle:       m.PathStyle,
	}
}

// Options converts the mirror section for s3mirror.NewMirror. Object keys
// are relative to dataDir.
func (m MirrorConfig) Options(dataDir string, logger *slog.Logger) s3mirror.Options {
	return s3mirror.Options{
		DataDir:     dataDir,
		Prefix:      m.Prefix,
		Workers:     m.Workers,
		QueueSize:   m.QueueSize,
		EnqueueWait: m.EnqueueWait,
		MaxAttempts: m.MaxAttempts,
		Logger:      logger,
	}
}
