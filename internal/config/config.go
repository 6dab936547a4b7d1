package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
}

// ServerConfig contains the worker process settings, including the ops HTTP
// listener that serves queue statistics.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// QueueConfig contains the queue engine settings.
type QueueConfig struct {
	// WorkerCount determines how many concurrent workers pull and process items.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0"`

	// DequeueBatchSize is the limit passed to each dequeue call.
	DequeueBatchSize int `mapstructure:"dequeue_batch_size" validate:"required,gt=0"`

	// QueueNames lists the logical queues this worker pulls from.
	QueueNames []string `mapstructure:"queue_names" validate:"required,min=1"`

	// LeaseDuration bounds how long a worker may hold an item before the
	// reaper may reclaim it. Processors expected to run longer must call
	// ExtendLease.
	LeaseDuration time.Duration `mapstructure:"lease_duration" validate:"required"`

	// ReaperInterval defines how often expired leases are swept.
	ReaperInterval time.Duration `mapstructure:"reaper_interval" validate:"required"`

	// RetrySweepInterval defines how often due retries are promoted back to
	// pending.
	RetrySweepInterval time.Duration `mapstructure:"retry_sweep_interval" validate:"required"`

	// PollInterval is how long an idle worker waits before polling the store
	// again after an empty dequeue.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required"`
}
