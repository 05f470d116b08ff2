// Package config loads task-mesh settings.
// Precedence: defaults < YAML file < environment < command-line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Cluster    ClusterConfig    `yaml:"cluster"`
	Master     MasterConfig     `yaml:"master"`
	Controller ControllerConfig `yaml:"controller"`
	Link       LinkConfig       `yaml:"link"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ClusterConfig is shared by the master and every controller.
type ClusterConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"TASK_MESH_HEARTBEAT_INTERVAL"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout" env:"TASK_MESH_HEARTBEAT_TIMEOUT"`
	SuspectGrace      time.Duration `yaml:"suspect_grace" env:"TASK_MESH_SUSPECT_GRACE"`
	MaxRetries        int           `yaml:"max_retries" env:"TASK_MESH_MAX_RETRIES"`
	PerTaskTimeout    time.Duration `yaml:"per_task_timeout" env:"TASK_MESH_PER_TASK_TIMEOUT"`
	// WorkerPoolSize 0 means one worker per CPU.
	WorkerPoolSize int `yaml:"worker_pool_size" env:"TASK_MESH_WORKER_POOL_SIZE"`
}

type MasterConfig struct {
	Port            string        `yaml:"port" env:"PORT"`
	CheckInterval   time.Duration `yaml:"check_interval" env:"TASK_MESH_CHECK_INTERVAL"`
	ResultRetention time.Duration `yaml:"result_retention" env:"TASK_MESH_RESULT_RETENTION"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"TASK_MESH_SHUTDOWN_TIMEOUT"`
	IdempotencyTTL  time.Duration `yaml:"idempotency_ttl" env:"TASK_MESH_IDEMPOTENCY_TTL"`
	// DeadControllerTTL is how long a dead controller stays listed before it
	// is forgotten. Zero keeps it until it re-registers.
	DeadControllerTTL time.Duration `yaml:"dead_controller_ttl" env:"TASK_MESH_DEAD_CONTROLLER_TTL"`
	// LocalControllers runs this many in-process controllers next to the master.
	LocalControllers int    `yaml:"local_controllers" env:"TASK_MESH_LOCAL_CONTROLLERS"`
	DatabaseURL      string `yaml:"database_url" env:"DATABASE_URL"`
	RedisAddr        string `yaml:"redis_addr" env:"TASK_MESH_REDIS_ADDR"`
	RedisStream      string `yaml:"redis_stream" env:"TASK_MESH_REDIS_STREAM"`
	ResultBuffer     int    `yaml:"result_buffer" env:"TASK_MESH_RESULT_BUFFER"`
}

type ControllerConfig struct {
	ID              string        `yaml:"id" env:"TASK_MESH_CONTROLLER_ID"`
	Address         string        `yaml:"address" env:"TASK_MESH_CONTROLLER_ADDRESS"`
	MasterURL       string        `yaml:"master_url" env:"TASK_MESH_MASTER_URL"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"TASK_MESH_CONTROLLER_SHUTDOWN_TIMEOUT"`
}

type LinkConfig struct {
	Codec                string        `yaml:"codec" env:"TASK_MESH_LINK_CODEC"`
	RequestTimeout       time.Duration `yaml:"request_timeout" env:"TASK_MESH_LINK_REQUEST_TIMEOUT"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval" env:"TASK_MESH_LINK_MAX_RECONNECT_INTERVAL"`
	SendBuffer           int           `yaml:"send_buffer" env:"TASK_MESH_LINK_SEND_BUFFER"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"TASK_MESH_LOG_LEVEL"`
	Format     string `yaml:"format" env:"TASK_MESH_LOG_FORMAT"`
	File       string `yaml:"file" env:"TASK_MESH_LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"TASK_MESH_LOG_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"TASK_MESH_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"TASK_MESH_LOG_MAX_AGE_DAYS"`
}

func Default() *Config {
	return &Config{
		Cluster: ClusterConfig{
			HeartbeatInterval: 5 * time.Second,
			HeartbeatTimeout:  15 * time.Second,
			MaxRetries:        3,
			PerTaskTimeout:    5 * time.Minute,
		},
		Master: MasterConfig{
			Port:              "8080",
			CheckInterval:     time.Second,
			ResultRetention:   time.Hour,
			ShutdownTimeout:   time.Minute,
			IdempotencyTTL:    24 * time.Hour,
			DeadControllerTTL: 10 * time.Minute,
			RedisStream:       "task_mesh:results",
			ResultBuffer:      10000,
		},
		Controller: ControllerConfig{
			MasterURL:       "ws://localhost:8080/api/link",
			ShutdownTimeout: 30 * time.Second,
		},
		Link: LinkConfig{
			Codec:                "json",
			RequestTimeout:       5 * time.Second,
			MaxReconnectInterval: 30 * time.Second,
			SendBuffer:           256,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// EffectiveSuspectGrace is suspect_grace, or three heartbeat intervals when unset.
func (c ClusterConfig) EffectiveSuspectGrace() time.Duration {
	if c.SuspectGrace > 0 {
		return c.SuspectGrace
	}
	return 3 * c.HeartbeatInterval
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	path      string
	overrides map[string]string
	lookupEnv func(string) (string, bool)
}

func NewLoader() *Loader {
	return &Loader{
		overrides: make(map[string]string),
		lookupEnv: os.LookupEnv,
	}
}

// WithFile sets the YAML file. A missing file is an error.
func (l *Loader) WithFile(path string) *Loader {
	l.path = path
	return l
}

// WithOverride sets a value by its YAML path, e.g. "cluster.max_retries".
func (l *Loader) WithOverride(path, value string) *Loader {
	l.overrides[path] = value
	return l
}

// WithEnv replaces the environment lookup; tests use it.
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", l.path, err)
		}
	}

	if err := l.applyEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, err
	}

	for path, value := range l.overrides {
		if err := setPath(cfg, path, value); err != nil {
			return nil, fmt.Errorf("override %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) applyEnv(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			if err := l.applyEnv(field); err != nil {
				return err
			}
			continue
		}
		name := t.Field(i).Tag.Get("env")
		if name == "" {
			continue
		}
		value, ok := l.lookupEnv(name)
		if !ok || value == "" {
			continue
		}
		if err := setField(field, value); err != nil {
			return fmt.Errorf("environment %s: %w", name, err)
		}
	}
	return nil
}

// setPath walks yaml tags: "link.codec" sets Config.Link.Codec.
func setPath(cfg *Config, path, value string) error {
	v := reflect.ValueOf(cfg).Elem()
	parts := strings.Split(path, ".")
	for i, part := range parts {
		field, ok := fieldByYAML(v, part)
		if !ok {
			return fmt.Errorf("unknown setting %q", path)
		}
		if i == len(parts)-1 {
			return setField(field, value)
		}
		if field.Kind() != reflect.Struct {
			return fmt.Errorf("%s is not a section", part)
		}
		v = field
	}
	return nil
}

func fieldByYAML(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

var durationType = reflect.TypeOf(time.Duration(0))

func setField(field reflect.Value, value string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.String:
		field.SetString(value)
	case field.Kind() == reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(int64(n))
	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}

// ── Validation ────────────────────────────────────────────────────────────────

const (
	MinWorkerPoolSize = 1
	MaxWorkerPoolSize = 1000
)

var ErrInvalid = errors.New("invalid configuration")

// ValidationErrors collects every problem found, not just the first.
type ValidationErrors []string

func (e ValidationErrors) Error() string {
	return "configuration validation failed:\n  - " + strings.Join(e, "\n  - ")
}

func (e ValidationErrors) Unwrap() error { return ErrInvalid }

func (c *Config) Validate() error {
	var errs ValidationErrors
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive, got %s", name, d))
		}
	}

	positive("cluster.heartbeat_interval", c.Cluster.HeartbeatInterval)
	positive("cluster.heartbeat_timeout", c.Cluster.HeartbeatTimeout)
	positive("cluster.per_task_timeout", c.Cluster.PerTaskTimeout)
	positive("master.check_interval", c.Master.CheckInterval)
	positive("link.request_timeout", c.Link.RequestTimeout)
	if c.Cluster.SuspectGrace < 0 {
		errs = append(errs, "cluster.suspect_grace must not be negative")
	}
	if c.Cluster.HeartbeatTimeout <= c.Cluster.HeartbeatInterval {
		errs = append(errs, fmt.Sprintf("cluster.heartbeat_timeout (%s) must exceed cluster.heartbeat_interval (%s)",
			c.Cluster.HeartbeatTimeout, c.Cluster.HeartbeatInterval))
	}
	if c.Cluster.MaxRetries < 0 {
		errs = append(errs, "cluster.max_retries must not be negative")
	}
	if n := c.Cluster.WorkerPoolSize; n != 0 && (n < MinWorkerPoolSize || n > MaxWorkerPoolSize) {
		errs = append(errs, fmt.Sprintf("cluster.worker_pool_size must be within %d..%d, got %d", MinWorkerPoolSize, MaxWorkerPoolSize, n))
	}
	if c.Master.DeadControllerTTL < 0 {
		errs = append(errs, "master.dead_controller_ttl must not be negative")
	}
	if c.Master.LocalControllers < 0 {
		errs = append(errs, "master.local_controllers must not be negative")
	}
	switch c.Link.Codec {
	case "json", "msgpack":
	default:
		errs = append(errs, fmt.Sprintf("link.codec must be json or msgpack, got %q", c.Link.Codec))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format must be json or text, got %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
