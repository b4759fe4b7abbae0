package config

import (
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/denismitr/mortar/internal/connection"
	"github.com/denismitr/mortar/internal/discovery"
	"github.com/denismitr/mortar/internal/ledger"
	"github.com/denismitr/mortar/internal/lock"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const DefaultFile = "mortar.yml"

var (
	ErrInvalidConfig       = errors.New("invalid mortar configuration")
	ErrConfigAlreadyExists = errors.New("mortar configuration file already exists")
)

var envRegexp = regexp.MustCompile(`%%([A-Za-z_][A-Za-z0-9_]*)%%`)

const fileStub = `version: "1"
default: default

migrations:
  directory: databases/migrations
  table: migrations
  dry: false
  lock:
    disabled: false
    key: mortar_migrations
    timeout: 30s
    stale_after: 1h

connections:
  default:
    url: "%%DATABASE_URL%%"
    max_open_conns: 5
    connect_attempts: 10
    connect_timeout: 60s
`

type (
	lockSection struct {
		Disabled   bool   `yaml:"disabled"`
		Key        string `yaml:"key"`
		Timeout    string `yaml:"timeout"`
		StaleAfter string `yaml:"stale_after"`
	}

	migrationsSection struct {
		Directory string      `yaml:"directory"`
		Table     string      `yaml:"table"`
		Dry       bool        `yaml:"dry"`
		Lock      lockSection `yaml:"lock"`
	}

	connectionSection struct {
		Driver          string `yaml:"driver"`
		URL             string `yaml:"url"`
		DSN             string `yaml:"dsn"`
		MaxOpenConns    int    `yaml:"max_open_conns"`
		ConnectAttempts int    `yaml:"connect_attempts"`
		ConnectTimeout  string `yaml:"connect_timeout"`
	}

	configFile struct {
		Version     string                       `yaml:"version"`
		Default     string                       `yaml:"default"`
		Migrations  migrationsSection            `yaml:"migrations"`
		Connections map[string]connectionSection `yaml:"connections"`
	}
)

// Config is the resolved mortar configuration
type Config struct {
	Default      string
	Directory    string
	Table        string
	Dry          bool
	LockDisabled bool
	LockKey      string
	LockTimeout  time.Duration
	LockStale    time.Duration
	Connections  map[string]connection.Details
}

// Load reads and validates the configuration file at path
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open mortar configuration file [%s]", path)
	}

	defer func() { _ = f.Close() }()

	return Parse(f)
}

// Parse decodes the YAML configuration, values of the form %%NAME%% are
// replaced by the NAME environment variable
func Parse(r io.Reader) (*Config, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "could not read mortar configuration")
	}

	var cf configFile
	if err := yaml.Unmarshal(b, &cf); err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "could not parse yaml: %s", err.Error())
	}

	cfg := &Config{
		Default:      expand(cf.Default),
		Directory:    expand(cf.Migrations.Directory),
		Table:        expand(cf.Migrations.Table),
		Dry:          cf.Migrations.Dry,
		LockDisabled: cf.Migrations.Lock.Disabled,
		LockKey:      expand(cf.Migrations.Lock.Key),
		LockTimeout:  lock.DefaultTimeout,
		LockStale:    lock.DefaultStaleAfter,
		Connections:  make(map[string]connection.Details, len(cf.Connections)),
	}

	if cfg.Default == "" {
		cfg.Default = connection.Default
	}

	if cfg.Directory == "" {
		cfg.Directory = discovery.DefaultDirectory
	}

	if cfg.Table == "" {
		cfg.Table = ledger.DefaultTable
	}

	if cfg.LockKey == "" {
		cfg.LockKey = lock.DefaultKey
	}

	if t := expand(cf.Migrations.Lock.Timeout); t != "" {
		if cfg.LockTimeout, err = time.ParseDuration(t); err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "lock timeout [%s] is not a duration", t)
		}
	}

	if t := expand(cf.Migrations.Lock.StaleAfter); t != "" {
		if cfg.LockStale, err = time.ParseDuration(t); err != nil || cfg.LockStale <= 0 {
			return nil, errors.Wrapf(ErrInvalidConfig, "lock stale_after [%s] is not a positive duration", t)
		}
	}

	for name, c := range cf.Connections {
		details, err := c.details(name)
		if err != nil {
			return nil, err
		}

		cfg.Connections[name] = details
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) Validate() error {
	if len(cfg.Connections) == 0 {
		return errors.Wrap(ErrInvalidConfig, "no connections defined")
	}

	if _, ok := cfg.Connections[cfg.Default]; !ok {
		return errors.Wrapf(ErrInvalidConfig, "default connection [%s] is not defined", cfg.Default)
	}

	for name, d := range cfg.Connections {
		if d.URL == "" && d.DSN == "" {
			return errors.Wrapf(ErrInvalidConfig, "connection [%s] has neither url nor dsn", name)
		}

		if d.URL == "" && d.Driver == "" {
			return errors.Wrapf(ErrInvalidConfig, "connection [%s] with a dsn needs a driver", name)
		}
	}

	return nil
}

func (c connectionSection) details(name string) (connection.Details, error) {
	d := connection.Details{
		Driver:          expand(c.Driver),
		URL:             expand(c.URL),
		DSN:             expand(c.DSN),
		MaxOpenConns:    c.MaxOpenConns,
		ConnectAttempts: c.ConnectAttempts,
	}

	if t := expand(c.ConnectTimeout); t != "" {
		timeout, err := time.ParseDuration(t)
		if err != nil {
			return d, errors.Wrapf(ErrInvalidConfig, "connection [%s] timeout [%s] is not a duration", name, t)
		}
		d.ConnectTimeout = timeout
	}

	return d, nil
}

// InitCfg writes a configuration stub, an existing file is never overwritten
func InitCfg(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return errors.Wrapf(ErrConfigAlreadyExists, "[%s]", path)
		}
		return errors.Wrap(err, "could not create config file")
	}

	if _, err := io.Copy(f, strings.NewReader(fileStub)); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "could not write config file")
	}

	return f.Close()
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func expand(s string) string {
	return envRegexp.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(strings.Trim(m, "%"))
	})
}
