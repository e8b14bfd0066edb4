// Package config handles loading and parsing of bleepsweep configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bleepstore/bleepsweep/internal/metadata"
	"github.com/bleepstore/bleepsweep/internal/sweep"
)

// Config is the top-level configuration for bleepsweep.
type Config struct {
	Server        ServerConfig          `yaml:"server"`
	Logging       LoggingConfig         `yaml:"logging"`
	Observability ObservabilityConfig   `yaml:"observability"`
	Storage       StorageConfig         `yaml:"storage"`
	Metadata      MetadataConfig        `yaml:"metadata"`
	References    []metadata.Descriptor `yaml:"references"`
	Sweep         SweepConfig           `yaml:"sweep"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown timeout in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
	// SweepTimeout bounds a single /purge request in seconds. Zero means no
	// deadline beyond the client's.
	SweepTimeout int `yaml:"sweep_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: text or json.
	Format string `yaml:"format"`
}

// ObservabilityConfig toggles the operational endpoints.
type ObservabilityConfig struct {
	// Metrics enables the /metrics endpoint and HTTP metrics middleware.
	Metrics bool `yaml:"metrics"`
	// HealthCheck enables the /health endpoint.
	HealthCheck bool `yaml:"health_check"`
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	// Backend is one of memory, local, aws, gcp, azure, storageapi.
	Backend    string           `yaml:"backend"`
	Local      LocalConfig      `yaml:"local"`
	AWS        AWSConfig        `yaml:"aws"`
	GCP        GCPConfig        `yaml:"gcp"`
	Azure      AzureConfig      `yaml:"azure"`
	StorageAPI StorageAPIConfig `yaml:"storageapi"`
}

// LocalConfig holds local filesystem storage backend settings.
type LocalConfig struct {
	// RootDir holds one directory per bucket.
	RootDir string `yaml:"root_dir"`
}

// AWSConfig holds S3 settings. Empty keys use the default credential chain.
type AWSConfig struct {
	Region          string `yaml:"region"`
	EndpointURL     string `yaml:"endpoint_url"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	HealthBucket    string `yaml:"health_bucket"`
}

// GCPConfig holds Google Cloud Storage settings.
type GCPConfig struct {
	Project         string `yaml:"project"`
	CredentialsFile string `yaml:"credentials_file"`
	HealthBucket    string `yaml:"health_bucket"`
}

// AzureConfig holds Azure Blob Storage settings. Sweep buckets are
// container names.
type AzureConfig struct {
	// Account is used to construct the account URL
	// https://{account}.blob.core.windows.net when AccountURL is empty.
	Account            string `yaml:"account"`
	AccountURL         string `yaml:"account_url"`
	ConnectionString   string `yaml:"connection_string"`
	UseManagedIdentity bool   `yaml:"use_managed_identity"`
	HealthContainer    string `yaml:"health_container"`
}

// StorageAPIConfig holds settings for a Supabase-style storage REST API.
type StorageAPIConfig struct {
	// URL is the storage API base, e.g. https://project.supabase.co/storage/v1.
	URL string `yaml:"url"`
	// ServiceKey is the admin (service role) key.
	ServiceKey string `yaml:"service_key"`
	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// MetadataConfig selects and configures the reference source.
type MetadataConfig struct {
	// Engine is one of none, memory, local, sqlite, postgres, dynamodb,
	// firestore, cosmos. With none, orphan and owner-scoped sweeps fail.
	Engine    string          `yaml:"engine"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	DynamoDB  DynamoDBConfig  `yaml:"dynamodb"`
	Firestore FirestoreConfig `yaml:"firestore"`
	Cosmos    CosmosConfig    `yaml:"cosmos"`
	Local     LocalMetaConfig `yaml:"local"`
}

// SQLiteConfig holds SQLite reference source settings.
type SQLiteConfig struct {
	// Path is the filesystem path of the database file. It is opened read-only.
	Path string `yaml:"path"`
}

// PostgresConfig holds PostgreSQL reference source settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

// DynamoDBConfig holds DynamoDB reference source settings.
type DynamoDBConfig struct {
	Region      string `yaml:"region"`
	EndpointURL string `yaml:"endpoint_url"`
	// PingTable is described by health checks. Optional.
	PingTable string `yaml:"ping_table"`
}

// FirestoreConfig holds Firestore reference source settings.
type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

// CosmosConfig holds Azure Cosmos DB reference source settings.
type CosmosConfig struct {
	Endpoint  string `yaml:"endpoint"`
	MasterKey string `yaml:"master_key"`
	Database  string `yaml:"database"`
	Container string `yaml:"container"`
}

// LocalMetaConfig points at a directory of JSONL table exports.
type LocalMetaConfig struct {
	Dir string `yaml:"dir"`
}

// SweepConfig holds the engine defaults.
type SweepConfig struct {
	Buckets  []string `yaml:"buckets"`
	Prefixes []string `yaml:"prefixes"`
	// MaxDeletes caps candidates per sweep. Absent or null means no cap.
	MaxDeletes         *int     `yaml:"max_deletes"`
	ChunkSize          int      `yaml:"chunk_size"`
	PageSize           int      `yaml:"page_size"`
	SampleSize         int      `yaml:"sample_size"`
	ListConcurrency    int      `yaml:"list_concurrency"`
	CollectConcurrency int      `yaml:"collect_concurrency"`
	DeleteConcurrency  int      `yaml:"delete_concurrency"`
	DeleteRPS          float64  `yaml:"delete_rps"`
	MaxDepth           int      `yaml:"max_depth"`
	UnrecognizedPolicy string   `yaml:"unrecognized_policy"`
	StorageHosts       []string `yaml:"storage_hosts"`
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config. Environment variables in the file are expanded. It
// applies defaults for unset values and validates the result.
// If the primary path fails, it falls back to bleepsweep.example.yaml
// in the same directory or parent directory.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "bleepsweep.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "bleepsweep.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            9010,
			ShutdownTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics:     true,
			HealthCheck: true,
		},
		Storage: StorageConfig{
			Backend: "local",
			Local: LocalConfig{
				RootDir: "./data/objects",
			},
		},
		Metadata: MetadataConfig{
			Engine: "sqlite",
			SQLite: SQLiteConfig{
				Path: "./data/app.db",
			},
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9010
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.Local.RootDir == "" {
		cfg.Storage.Local.RootDir = "./data/objects"
	}
	if cfg.Storage.AWS.Region == "" {
		cfg.Storage.AWS.Region = "us-east-1"
	}
	if cfg.Storage.StorageAPI.Timeout == 0 {
		cfg.Storage.StorageAPI.Timeout = 30
	}
	if cfg.Metadata.Engine == "" {
		cfg.Metadata.Engine = "sqlite"
	}
	if cfg.Metadata.SQLite.Path == "" {
		cfg.Metadata.SQLite.Path = "./data/app.db"
	}
	if cfg.Metadata.DynamoDB.Region == "" {
		cfg.Metadata.DynamoDB.Region = cfg.Storage.AWS.Region
	}
	if cfg.Sweep.UnrecognizedPolicy == "" {
		cfg.Sweep.UnrecognizedPolicy = string(sweep.PolicySkipBucket)
	}
}

var (
	storageBackends = map[string]bool{"memory": true, "local": true, "aws": true, "gcp": true, "azure": true, "storageapi": true}
	metadataEngines = map[string]bool{"none": true, "memory": true, "local": true, "sqlite": true, "postgres": true, "dynamodb": true, "firestore": true, "cosmos": true}
)

// Validate checks backend names, reference descriptors and sweep settings.
func (c *Config) Validate() error {
	if !storageBackends[c.Storage.Backend] {
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if !metadataEngines[c.Metadata.Engine] {
		return fmt.Errorf("unknown metadata.engine %q", c.Metadata.Engine)
	}
	for i, d := range c.References {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("references[%d]: %w", i, err)
		}
	}
	if _, err := sweep.ParsePolicy(c.Sweep.UnrecognizedPolicy); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	if c.Sweep.MaxDeletes != nil && *c.Sweep.MaxDeletes < 0 {
		return fmt.Errorf("sweep.max_deletes must not be negative")
	}
	if c.Sweep.ChunkSize > sweep.MaxChunkSize {
		return fmt.Errorf("sweep.chunk_size %d exceeds %d", c.Sweep.ChunkSize, sweep.MaxChunkSize)
	}
	return nil
}

// Engine converts the sweep section and references into the engine
// configuration. The result shares no memory with c.
func (c *Config) Engine() sweep.EngineConfig {
	policy, _ := sweep.ParsePolicy(c.Sweep.UnrecognizedPolicy)
	ec := sweep.EngineConfig{
		Buckets:            append([]string(nil), c.Sweep.Buckets...),
		Prefixes:           append([]string(nil), c.Sweep.Prefixes...),
		References:         append([]metadata.Descriptor(nil), c.References...),
		StorageHosts:       append([]string(nil), c.Sweep.StorageHosts...),
		ChunkSize:          c.Sweep.ChunkSize,
		PageSize:           c.Sweep.PageSize,
		SampleSize:         c.Sweep.SampleSize,
		ListConcurrency:    c.Sweep.ListConcurrency,
		CollectConcurrency: c.Sweep.CollectConcurrency,
		DeleteConcurrency:  c.Sweep.DeleteConcurrency,
		DeleteRPS:          c.Sweep.DeleteRPS,
		MaxDepth:           c.Sweep.MaxDepth,
		UnrecognizedPolicy: policy,
	}
	if c.Sweep.MaxDeletes != nil {
		v := *c.Sweep.MaxDeletes
		ec.MaxDeletes = &v
	}
	return ec
}

// SweepTimeout returns the per-request sweep deadline, or zero.
func (c *Config) SweepTimeout() time.Duration {
	return time.Duration(c.Server.SweepTimeout) * time.Second
}
