package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth" validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Calendar  CalendarConfig  `mapstructure:"calendar"`
	Progress  ProgressConfig  `mapstructure:"progress" validate:"required"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle" validate:"required"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat       string        `mapstructure:"log_format" validate:"required,oneof=json text"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"required,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// MigrateOnStart runs pending migrations before serving.
	MigrateOnStart bool `mapstructure:"migrate_on_start"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
	ClockSkewSeconds     int    `mapstructure:"clock_skew_seconds" validate:"gte=0"`
}

// RedisConfig configures the distributed progress lock. An empty Addr selects
// the in-process lock, which is only safe with a single server instance.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	LockTTL  time.Duration `mapstructure:"lock_ttl" validate:"gt=0"`
}

// CalendarConfig selects the business-day calendar. An empty File uses a
// Saturday/Sunday weekend with no holidays.
type CalendarConfig struct {
	File string `mapstructure:"file" validate:"omitempty,file"`
}

// ProgressConfig tunes the progress engine.
type ProgressConfig struct {
	LockTimeout    time.Duration `mapstructure:"lock_timeout" validate:"gt=0"`
	LockRetryDelay time.Duration `mapstructure:"lock_retry_delay" validate:"gt=0"`
}

// LifecycleConfig tunes the assignment lifecycle.
type LifecycleConfig struct {
	DefaultDeadlineBusinessDays int `mapstructure:"default_deadline_business_days" validate:"required,gt=0"`
	MaxConflictRetries          int `mapstructure:"max_conflict_retries" validate:"required,gt=0"`
}

// JobsConfig schedules background jobs. An empty schedule disables the job.
type JobsConfig struct {
	OverdueSchedule string `mapstructure:"overdue_schedule"`
}
