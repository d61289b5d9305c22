package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// ProviderConfiguration holds connection settings for one upstream ATS.
type ProviderConfiguration struct {
	Enabled        bool     `toml:"enabled"`
	BaseURL        string   `toml:"base_url"`
	Token          string   `toml:"token"`
	Tenant         string   `toml:"tenant"`
	EntityTypes    []string `toml:"entity_types"`
	SyncIntervalMS int      `toml:"sync_interval_ms"`
	PageSize       int      `toml:"page_size"`
	TimeoutMS      int      `toml:"timeout_ms"`
}

// PoolConfiguration sizes the fan-out worker pool.
type PoolConfiguration struct {
	CoreWorkers   int `toml:"core_workers"`
	MaxWorkers    int `toml:"max_workers"`
	QueueCapacity int `toml:"queue_capacity"`
}

// SinkConfiguration describes one event bus destination.
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"` // "nats", "kafka", "mock"
	Topic           string   `toml:"topic"`
	NatsURL         string   `toml:"nats_url"`
	Brokers         []string `toml:"brokers"`
	FilterProviders []string `toml:"filter_providers"` // glob patterns, empty = all
	FilterEntities  []string `toml:"filter_entities"`  // glob patterns, empty = all
}

// PublisherConfiguration controls batching and compression.
type PublisherConfiguration struct {
	BatchSize         int                 `toml:"batch_size"`
	CompressThreshold int                 `toml:"compress_threshold_bytes"`
	Sinks             []SinkConfiguration `toml:"sinks"`
}

// CheckpointConfiguration for the durable cursor store.
type CheckpointConfiguration struct {
	Path          string `toml:"path"` // empty = {data_dir}/checkpoint.db
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
}

// EnrichConfiguration controls enrichment behavior.
type EnrichConfiguration struct {
	ChunkSize        int `toml:"chunk_size"`
	ContactCacheSize int `toml:"contact_cache_size"`
}

// APIConfiguration for the admin HTTP endpoint.
type APIConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Token   string `toml:"token"` // empty = no auth
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID uint64 `toml:"instance_id"`
	DataDir    string `toml:"data_dir"`

	Bullhorn   ProviderConfiguration   `toml:"bullhorn"`
	JobDiva    ProviderConfiguration   `toml:"jobdiva"`
	AgileOne   ProviderConfiguration   `toml:"agileone"`
	Pool       PoolConfiguration       `toml:"pool"`
	Publisher  PublisherConfiguration  `toml:"publisher"`
	Checkpoint CheckpointConfiguration `toml:"checkpoint"`
	Enrich     EnrichConfiguration     `toml:"enrich"`
	API        APIConfiguration        `toml:"api"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	APIPortFlag    = flag.Int("api-port", 0, "Admin API port (overrides config)")
	VerboseFlag    = flag.Bool("verbose", false, "Enable debug logging (overrides config)")
)

// Default configuration
var Config = &Configuration{
	InstanceID: 0, // Auto-generate
	DataDir:    "./atsync-data",

	Bullhorn: ProviderConfiguration{
		Enabled:        false,
		EntityTypes:    []string{"Candidate", "JobOrder", "Tearsheet", "JobSubmission"},
		SyncIntervalMS: 60000,
		PageSize:       200,
		TimeoutMS:      30000,
	},

	JobDiva: ProviderConfiguration{
		Enabled:        false,
		EntityTypes:    []string{"Candidate", "JobOrder"},
		SyncIntervalMS: 300000,
		PageSize:       100,
		TimeoutMS:      30000,
	},

	AgileOne: ProviderConfiguration{
		Enabled:        false,
		EntityTypes:    []string{"Candidate", "JobOrder"},
		SyncIntervalMS: 300000,
		PageSize:       100,
		TimeoutMS:      30000,
	},

	Pool: PoolConfiguration{
		CoreWorkers:   4,
		MaxWorkers:    16,
		QueueCapacity: 256,
	},

	Publisher: PublisherConfiguration{
		BatchSize:         10,
		CompressThreshold: 256 * 1024,
		Sinks:             []SinkConfiguration{},
	},

	Checkpoint: CheckpointConfiguration{
		BusyTimeoutMS: 5000,
	},

	Enrich: EnrichConfiguration{
		ChunkSize:        100,
		ContactCacheSize: 2048,
	},

	API: APIConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    8920,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *APIPortFlag != 0 {
		Config.API.Port = *APIPortFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	// Auto-generate instance ID if not set
	if Config.InstanceID == 0 {
		var err error
		Config.InstanceID, err = generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		log.Info().Uint64("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// CheckpointPath returns the checkpoint database path, defaulting under the
// data directory when not configured explicitly.
func CheckpointPath() string {
	if Config.Checkpoint.Path != "" {
		return Config.Checkpoint.Path
	}
	return path.Join(Config.DataDir, "checkpoint.db")
}

// Providers returns the enabled provider configurations keyed by name.
func Providers() map[string]*ProviderConfiguration {
	all := map[string]*ProviderConfiguration{
		"bullhorn": &Config.Bullhorn,
		"jobdiva":  &Config.JobDiva,
		"agileone": &Config.AgileOne,
	}
	enabled := make(map[string]*ProviderConfiguration)
	for name, p := range all {
		if p.Enabled {
			enabled[name] = p
		}
	}
	return enabled
}

// generateInstanceID creates a unique instance ID based on machine ID
func generateInstanceID() (uint64, error) {
	id, err := machineid.ProtectedID("atsync")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	for name, p := range Providers() {
		if p.BaseURL == "" {
			return fmt.Errorf("provider %s is enabled but has no base_url", name)
		}
		if len(p.EntityTypes) == 0 {
			return fmt.Errorf("provider %s is enabled but has no entity_types", name)
		}
		if p.SyncIntervalMS < 1000 {
			return fmt.Errorf("provider %s sync interval must be >= 1000ms", name)
		}
		if p.PageSize < 1 {
			return fmt.Errorf("provider %s page size must be >= 1", name)
		}
	}

	if Config.Pool.CoreWorkers < 1 {
		return fmt.Errorf("pool core workers must be >= 1")
	}
	if Config.Pool.MaxWorkers < Config.Pool.CoreWorkers {
		return fmt.Errorf("pool max workers must be >= core workers")
	}
	if Config.Pool.QueueCapacity < 1 {
		return fmt.Errorf("pool queue capacity must be >= 1")
	}

	if Config.Publisher.BatchSize < 1 {
		return fmt.Errorf("publisher batch size must be >= 1")
	}
	if Config.Publisher.CompressThreshold < 0 {
		return fmt.Errorf("publisher compress threshold must be >= 0")
	}

	validSinkTypes := map[string]bool{"nats": true, "kafka": true, "mock": true}
	for _, s := range Config.Publisher.Sinks {
		if s.Name == "" {
			return fmt.Errorf("sink name is required")
		}
		if !validSinkTypes[s.Type] {
			return fmt.Errorf("invalid sink type: %s", s.Type)
		}
		if s.Topic == "" {
			return fmt.Errorf("sink %s has no topic", s.Name)
		}
	}

	if Config.Checkpoint.BusyTimeoutMS < 0 {
		return fmt.Errorf("checkpoint busy timeout must be >= 0")
	}

	if Config.Enrich.ChunkSize < 1 {
		return fmt.Errorf("enrich chunk size must be >= 1")
	}
	if Config.Enrich.ContactCacheSize < 1 {
		return fmt.Errorf("enrich contact cache size must be >= 1")
	}

	if Config.API.Enabled && (Config.API.Port < 1 || Config.API.Port > 65535) {
		return fmt.Errorf("invalid API port: %d", Config.API.Port)
	}

	return nil
}
