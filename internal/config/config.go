package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/cuongbtq/image-converter/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Transport and storage drivers
const (
	DriverRabbitMQ = "rabbitmq"
	DriverMemory   = "memory"
	DriverLocal    = "local"
	DriverMinIO    = "minio"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Storage  StorageConfig  `yaml:"storage"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Worker   WorkerConfig   `yaml:"worker"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// RabbitMQConfig holds the queue transport configuration. Driver "memory"
// replaces the broker with an in-process one.
type RabbitMQConfig struct {
	Driver     string           `yaml:"driver"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	TagPrefix string `yaml:"tag_prefix"`
}

// StorageConfig selects where inputs and results are kept
type StorageConfig struct {
	Driver       string      `yaml:"driver"`
	UploadDir    string      `yaml:"upload_dir"`
	ProcessedDir string      `yaml:"processed_dir"`
	MinIO        MinIOConfig `yaml:"minio"`
}

// MinIOConfig holds object storage settings
type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKey       string `yaml:"access_key"`
	SecretKey       string `yaml:"secret_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	UploadPrefix    string `yaml:"upload_prefix"`
	ProcessedPrefix string `yaml:"processed_prefix"`
}

// JobsConfig holds job lifecycle settings
type JobsConfig struct {
	Retention         time.Duration `yaml:"retention"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	ProcessingTimeout time.Duration `yaml:"processing_timeout"`
	MaxUploadSize     int64         `yaml:"max_upload_size"`
}

// WorkerConfig holds worker configuration
type WorkerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Queues            []string      `yaml:"queues"`
	Consumers         int           `yaml:"consumers"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	RestartDelay      time.Duration `yaml:"restart_delay"`
}

// LedgerConfig holds the transition ledger settings
type LedgerConfig struct {
	Enabled       bool           `yaml:"enabled"`
	BufferSize    int            `yaml:"buffer_size"`
	BatchSize     int            `yaml:"batch_size"`
	FlushInterval time.Duration  `yaml:"flush_interval"`
	Database      DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Worker:  WorkerConfig{Enabled: true},
		Metrics: MetricsConfig{Enabled: true},
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.App.Name, "converter-service")
	setDefault(&c.App.Environment, "development")

	setDefault(&c.Server.Port, 8080)
	setDefault(&c.Server.ReadTimeout, 60*time.Second)
	setDefault(&c.Server.WriteTimeout, 60*time.Second)
	setDefault(&c.Server.IdleTimeout, 120*time.Second)
	setDefault(&c.Server.ShutdownTimeout, 30*time.Second)

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "console")
	setDefault(&c.Logging.Output, "stdout")

	setDefault(&c.RabbitMQ.Driver, DriverRabbitMQ)
	setDefault(&c.RabbitMQ.Port, 5672)
	setDefault(&c.RabbitMQ.VHost, "/")
	setDefault(&c.RabbitMQ.Connection.RetryAttempts, 5)
	setDefault(&c.RabbitMQ.Connection.RetryInterval, 5*time.Second)
	setDefault(&c.RabbitMQ.Connection.Heartbeat, 10*time.Second)
	setDefault(&c.RabbitMQ.Connection.ConnectionTimeout, 30*time.Second)
	setDefault(&c.RabbitMQ.Publish.RetryAttempts, 3)
	setDefault(&c.RabbitMQ.Publish.RetryInterval, time.Second)
	setDefault(&c.RabbitMQ.Publish.BackoffMultiplier, 2.0)
	setDefault(&c.RabbitMQ.Consumer.TagPrefix, c.App.Name)

	setDefault(&c.Storage.Driver, DriverLocal)
	setDefault(&c.Storage.UploadDir, "uploads")
	setDefault(&c.Storage.ProcessedDir, "processed")
	setDefault(&c.Storage.MinIO.UploadPrefix, "uploads/")
	setDefault(&c.Storage.MinIO.ProcessedPrefix, "processed/")

	setDefault(&c.Jobs.Retention, 24*time.Hour)
	setDefault(&c.Jobs.SweepInterval, 30*time.Minute)
	setDefault(&c.Jobs.ProcessingTimeout, 15*time.Minute)
	setDefault(&c.Jobs.MaxUploadSize, int64(100<<20))

	if len(c.Worker.Queues) == 0 {
		c.Worker.Queues = domain.Queues()
	}
	setDefault(&c.Worker.Consumers, 1)
	setDefault(&c.Worker.JobTimeout, 5*time.Minute)
	setDefault(&c.Worker.HeartbeatInterval, 30*time.Second)
	setDefault(&c.Worker.RestartDelay, time.Second)

	setDefault(&c.Ledger.Database.Port, 5432)
	setDefault(&c.Ledger.Database.SSLMode, "disable")
	setDefault(&c.Ledger.Database.MaxOpenConns, 5)
	setDefault(&c.Ledger.Database.MaxIdleConns, 2)

	setDefault(&c.Metrics.Path, "/metrics")
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validatePort("server", c.Server.Port); err != nil {
		return err
	}

	switch c.RabbitMQ.Driver {
	case DriverMemory:
	case DriverRabbitMQ:
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if err := validatePort("rabbitmq", c.RabbitMQ.Port); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown rabbitmq driver %q", c.RabbitMQ.Driver)
	}

	switch c.Storage.Driver {
	case DriverLocal:
		if c.Storage.UploadDir == c.Storage.ProcessedDir {
			return fmt.Errorf("storage upload_dir and processed_dir must differ")
		}
	case DriverMinIO:
		m := c.Storage.MinIO
		if m.Endpoint == "" || m.Bucket == "" {
			return fmt.Errorf("minio endpoint and bucket are required")
		}
		if m.UploadPrefix == m.ProcessedPrefix {
			return fmt.Errorf("minio upload_prefix and processed_prefix must differ")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Jobs.MaxUploadSize < 0 {
		return fmt.Errorf("jobs max_upload_size must not be negative")
	}
	if c.Jobs.ProcessingTimeout > 0 && c.Jobs.ProcessingTimeout <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("jobs processing_timeout (%s) must exceed worker heartbeat_interval (%s)",
			c.Jobs.ProcessingTimeout, c.Worker.HeartbeatInterval)
	}

	if err := c.validateWorker(); err != nil {
		return err
	}

	if c.Ledger.Enabled {
		db := c.Ledger.Database
		if db.Host == "" || db.Database == "" {
			return fmt.Errorf("ledger database host and name are required")
		}
		if err := validatePort("ledger database", db.Port); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateWorker() error {
	if !c.Worker.Enabled {
		return nil
	}
	if c.Worker.Consumers <= 0 {
		return fmt.Errorf("worker consumers must be greater than 0")
	}
	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}
	known := domain.Queues()
	for _, q := range c.Worker.Queues {
		if !slices.Contains(known, q) {
			return fmt.Errorf("worker queue %q is not routed by any job type", q)
		}
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("invalid %s port: %d (must be between %d and %d)", name, port, MinPort, MaxPort)
	}
	return nil
}
