package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pbinitiative/zenbpm-embedded/internal/profile"
	"gopkg.in/yaml.v3"
)

const (
	ClockModeSystem     = "system"
	ClockModeControlled = "controlled"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

type Config struct {
	Name      string    `yaml:"name" json:"name" env:"ZENBPM_NAME" env-default:"zenbpm-embedded"` // used for OTEL as an application identifier
	NodeId    int64     `yaml:"nodeId" json:"nodeId" env:"ZENBPM_NODE_ID"`
	Log       Log       `yaml:"log" json:"log"`
	Server    Server    `yaml:"server" json:"server"` // configuration of the system HTTP server
	Clock     Clock     `yaml:"clock" json:"clock"`
	Timers    Timers    `yaml:"timers" json:"timers"`
	Journal   Journal   `yaml:"journal" json:"journal"`
	Exporters Exporters `yaml:"exporters" json:"exporters"`
	// Resources are BPMN files deployed on start, a resource deployed before is not versioned again
	Resources []string `yaml:"resources" json:"resources" env:"ZENBPM_RESOURCES" env-separator:","`
}

type Log struct {
	// Level is one of trace, debug, info, warn, error; the profile decides when empty
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL"`
	// Format is text or json; the profile decides when empty
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT"`
}

type Server struct {
	Addr string `yaml:"addr" json:"addr" env:"SERVER_ADDR" env-default:":8080"`
}

type Clock struct {
	// Mode is system or controlled. A controlled clock never moves in the host, it is meant for dry runs.
	Mode  string    `yaml:"mode" json:"mode" env:"CLOCK_MODE" env-default:"system"`
	Start time.Time `yaml:"start" json:"start" env:"CLOCK_START"`
}

type Timers struct {
	PollInterval time.Duration `yaml:"pollInterval" json:"pollInterval" env:"TIMERS_POLL_INTERVAL" env-default:"1s"`
}

type Journal struct {
	// Path of the SQLite journal, no journal is kept when empty
	Path string `yaml:"path" json:"path" env:"JOURNAL_PATH"`
}

type Exporters struct {
	Log   LogExporter   `yaml:"log" json:"log"`
	Redis RedisExporter `yaml:"redis" json:"redis"`
	// Backoff is the first delay after a failed export, it doubles up to MaxBackoff
	Backoff    time.Duration `yaml:"backoff" json:"backoff" env:"EXPORTERS_BACKOFF" env-default:"50ms"`
	MaxBackoff time.Duration `yaml:"maxBackoff" json:"maxBackoff" env:"EXPORTERS_MAX_BACKOFF" env-default:"5s"`
}

type LogExporter struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"LOG_EXPORTER_ENABLED"`
	Level   string `yaml:"level" json:"level" env:"LOG_EXPORTER_LEVEL" env-default:"info"`
}

type RedisExporter struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"REDIS_EXPORTER_ENABLED"`
	Addr    string `yaml:"addr" json:"addr" env:"REDIS_EXPORTER_ADDR" env-default:"localhost:6379"`
	Stream  string `yaml:"stream" json:"stream" env:"REDIS_EXPORTER_STREAM" env-default:"zenbpm:records"`
	MaxLen  int64  `yaml:"maxLen" json:"maxLen" env:"REDIS_EXPORTER_MAX_LEN"`
}

func (c Config) defaults() Config {
	if c.Log.Level == "" {
		switch profile.Current {
		case profile.PROD:
			c.Log.Level = "info"
		case profile.TEST:
			c.Log.Level = "warn"
		default:
			c.Log.Level = "debug"
		}
	}
	if c.Log.Format == "" {
		c.Log.Format = LogFormatText
		if profile.Current == profile.PROD {
			c.Log.Format = LogFormatJSON
		}
	}
	if c.Clock.Mode == ClockModeControlled && c.Clock.Start.IsZero() {
		c.Clock.Start = time.Now().UTC()
	}
	return c
}

func (c Config) validate() error {
	var errJoin error
	if c.Clock.Mode != ClockModeSystem && c.Clock.Mode != ClockModeControlled {
		errJoin = errors.Join(errJoin, fmt.Errorf("unknown clock mode %q", c.Clock.Mode))
	}
	if c.Log.Format != LogFormatText && c.Log.Format != LogFormatJSON {
		errJoin = errors.Join(errJoin, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if c.Timers.PollInterval <= 0 {
		errJoin = errors.Join(errJoin, fmt.Errorf("timer poll interval must be positive, got %s", c.Timers.PollInterval))
	}
	if c.Exporters.Redis.Enabled && c.Exporters.Redis.Addr == "" {
		errJoin = errors.Join(errJoin, errors.New("redis exporter needs an address"))
	}
	return errJoin
}

// Load reads fileName when it exists, environment variables override its values
func Load(fileName string) (Config, error) {
	c := Config{}
	var err error
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(&c)
	} else {
		err = cleanenv.ReadConfig(fileName, &c)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read configuration: %w", err)
	}
	c = c.defaults()
	if err := c.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func InitConfig() Config {
	var fileName string
	confFile := os.Getenv("CONFIG_FILE")
	if confFile == "" {
		wd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		fileName = fmt.Sprintf("%s/conf.yaml", wd)
	} else {
		fileName = confFile
	}
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		fmt.Printf("Configuration file %s not found. Reading config from ENV.\n", fileName)
	}
	c, err := Load(fileName)
	if err != nil {
		fmt.Printf("Error occurred while reading the configuration: %s\n", err)
		panic(err)
	}
	return c
}

// Yaml renders the effective configuration
func (c Config) Yaml() ([]byte, error) {
	return yaml.Marshal(c)
}
