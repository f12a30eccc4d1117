package config

import (
	"testing"
	"time"

	"github.com/cuongbtq/image-converter/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 2*time.Minute, cfg.Server.WriteTimeout)
				assert.Equal(t, "localhost", cfg.RabbitMQ.Host)
				assert.Equal(t, 1.5, cfg.RabbitMQ.Publish.BackoffMultiplier)
				assert.Equal(t, "converter-test", cfg.RabbitMQ.Consumer.TagPrefix)
				assert.Equal(t, DriverMinIO, cfg.Storage.Driver)
				assert.Equal(t, "converter", cfg.Storage.MinIO.Bucket)
				assert.Equal(t, 12*time.Hour, cfg.Jobs.Retention)
				assert.Equal(t, int64(50<<20), cfg.Jobs.MaxUploadSize)
				assert.Equal(t, []string{domain.QueueImageProcessing}, cfg.Worker.Queues)
				assert.Equal(t, 3, cfg.Worker.Consumers)
				assert.True(t, cfg.Worker.Enabled)
				assert.True(t, cfg.Ledger.Enabled)
				assert.Equal(t, "converter_ledger", cfg.Ledger.Database.Database)
				assert.Equal(t, "/internal/metrics", cfg.Metrics.Path)
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("CONVERTER_TEST_RABBIT_PASSWORD", "s3cret")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.RabbitMQ.Password)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load("testdata/minimal.yaml")
	require.NoError(t, err)

	assert.Equal(t, "converter-service", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, DriverRabbitMQ, cfg.RabbitMQ.Driver)
	assert.Equal(t, 5672, cfg.RabbitMQ.Port)
	assert.Equal(t, "converter-service", cfg.RabbitMQ.Consumer.TagPrefix)
	assert.Equal(t, DriverLocal, cfg.Storage.Driver)
	assert.Equal(t, "uploads", cfg.Storage.UploadDir)
	assert.Equal(t, "processed", cfg.Storage.ProcessedDir)
	assert.Equal(t, 24*time.Hour, cfg.Jobs.Retention)
	assert.Equal(t, 30*time.Minute, cfg.Jobs.SweepInterval)
	assert.Equal(t, int64(100<<20), cfg.Jobs.MaxUploadSize)
	assert.True(t, cfg.Worker.Enabled)
	assert.ElementsMatch(t, domain.Queues(), cfg.Worker.Queues)
	assert.Equal(t, 5*time.Minute, cfg.Worker.JobTimeout)
	assert.False(t, cfg.Ledger.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.NoError(t, cfg.Validate())
}

func validConfig(t *testing.T) *Config {
	t.Helper()

	cfg, err := Load("testdata/minimal.yaml")
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:      "server port out of range",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "rabbitmq host missing",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name: "memory transport needs no host",
			mutate: func(c *Config) {
				c.RabbitMQ.Driver = DriverMemory
				c.RabbitMQ.Host = ""
			},
		},
		{
			name:      "unknown transport",
			mutate:    func(c *Config) { c.RabbitMQ.Driver = "kafka" },
			errString: "unknown rabbitmq driver",
		},
		{
			name:      "unknown storage",
			mutate:    func(c *Config) { c.Storage.Driver = "s3" },
			errString: "unknown storage driver",
		},
		{
			name:      "same local directories",
			mutate:    func(c *Config) { c.Storage.ProcessedDir = c.Storage.UploadDir },
			errString: "must differ",
		},
		{
			name:      "minio without bucket",
			mutate:    func(c *Config) { c.Storage.Driver = DriverMinIO; c.Storage.MinIO.Endpoint = "minio:9000" },
			errString: "minio endpoint and bucket are required",
		},
		{
			name:      "processing timeout shorter than heartbeat",
			mutate:    func(c *Config) { c.Jobs.ProcessingTimeout = 10 * time.Second },
			errString: "must exceed worker heartbeat_interval",
		},
		{
			name:      "unknown worker queue",
			mutate:    func(c *Config) { c.Worker.Queues = []string{"video_processing"} },
			errString: "is not routed by any job type",
		},
		{
			name: "disabled worker skips checks",
			mutate: func(c *Config) {
				c.Worker.Enabled = false
				c.Worker.Consumers = 0
			},
		},
		{
			name:      "ledger without database",
			mutate:    func(c *Config) { c.Ledger.Enabled = true },
			errString: "ledger database host and name are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}
