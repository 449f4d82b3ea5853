// Package suiteconfig is the conformance suite's own configuration: where
// the server is, how to launch it, and how strict to be.
package suiteconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"roadtest.ai/internal/model"
	"roadtest.ai/internal/persistence/recordsdb"
	"roadtest.ai/internal/sim/gameconfig"
	"roadtest.ai/internal/transport/httpapi"
)

const (
	DefaultBaseURL        = "http://127.0.0.1:8080/"
	DefaultReadyPattern   = `(?i)server (has )?started`
	DefaultMapID          = "map1"
	DefaultRetirementTime = time.Duration(gameconfig.DefaultRetirementTime * float64(time.Second))
	DefaultStartupTimeout = 30 * time.Second
)

type Postgres struct {
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Host        string `yaml:"host"`
	Port        string `yaml:"port"`
	Database    string `yaml:"database"`
	Maintenance string `yaml:"maintenance"`
	Force       bool   `yaml:"force"`
}

type Config struct {
	BaseURL string `yaml:"base_url"`

	// Command launches the server. When empty, DeliveryApp with the
	// optional ConfigPath and DataPath arguments is used; when both are
	// empty the server is assumed to be running already.
	Command     []string `yaml:"command"`
	DeliveryApp string   `yaml:"delivery_app"`
	ConfigPath  string   `yaml:"config_path"`
	DataPath    string   `yaml:"data_path"`

	ReadyPattern   string        `yaml:"ready_pattern"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// RecordsInBody sends records pagination as a form body instead of
	// the query string.
	RecordsInBody bool `yaml:"records_in_body"`

	MapID string `yaml:"map_id"`

	// Retirement overrides the game config's dogRetirementTime.
	Retirement time.Duration `yaml:"retirement"`
	Tolerance  float64       `yaml:"tolerance"`
	Seed       uint64        `yaml:"seed"`

	Postgres Postgres `yaml:"postgres"`

	// ResetRecords drops and recreates the records database before every
	// check that needs an empty leaderboard.
	ResetRecords bool `yaml:"reset_records"`

	TraceDir  string `yaml:"trace_dir"`
	IndexPath string `yaml:"index_path"`
}

func Default() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		ReadyPattern:   DefaultReadyPattern,
		StartupTimeout: DefaultStartupTimeout,
		MapID:          DefaultMapID,
		Tolerance:      model.DefaultTolerance,
		Postgres: Postgres{
			User:     "postgres",
			Password: "Mys3Cr3t",
			Host:     "172.17.0.2",
			Port:     "5432",
			Database: recordsdb.DefaultDatabase,
		},
		ResetRecords: true,
		TraceDir:     "./data/traces",
		IndexPath:    "./data/index.db",
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return c, fmt.Errorf("suite config %s: %w", path, err)
	}
	return c, nil
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays the environment variables the server's test harness
// has always used. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("COMMAND_RUN"); v != "" {
		c.Command = strings.Fields(v)
	}
	for key, dst := range map[string]*string{
		"DELIVERY_APP": &c.DeliveryApp,
		"CONFIG_PATH":  &c.ConfigPath,
		"DATA_PATH":    &c.DataPath,
	} {
		v := getenv(key)
		if v == "" {
			continue
		}
		if _, err := os.Stat(v); err != nil {
			return fmt.Errorf("%s: no such file or directory %s", key, v)
		}
		*dst = v
	}

	domain, port := getenv("SERVER_DOMAIN"), getenv("SERVER_PORT")
	if domain != "" || port != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil {
			return fmt.Errorf("base url: %w", err)
		}
		host, p, err := net.SplitHostPort(u.Host)
		if err != nil {
			host, p = u.Hostname(), "8080"
		}
		if domain != "" {
			host = domain
		}
		if port != "" {
			p = port
		}
		u.Host = net.JoinHostPort(host, p)
		c.BaseURL = u.String()
	}

	for key, dst := range map[string]*string{
		"POSTGRES_USER":     &c.Postgres.User,
		"POSTGRES_PASSWORD": &c.Postgres.Password,
		"POSTGRES_HOST":     &c.Postgres.Host,
		"POSTGRES_PORT":     &c.Postgres.Port,
		"RECORDS_DB":        &c.Postgres.Database,
		"MAP_ID":            &c.MapID,
	} {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	return nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url %q: want http(s)://host:port/", c.BaseURL)
	}
	if _, err := regexp.Compile(c.ReadyPattern); err != nil {
		return fmt.Errorf("ready_pattern: %w", err)
	}
	if c.MapID == "" {
		return errors.New("map_id: empty")
	}
	if c.Tolerance < 0 {
		return errors.New("tolerance: negative")
	}
	if c.RequestTimeout < 0 || c.StartupTimeout < 0 || c.Retirement < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// ServerCommand returns the launch command, or nil when the server is
// expected to be running already.
func (c Config) ServerCommand() []string {
	if len(c.Command) > 0 {
		return append([]string(nil), c.Command...)
	}
	if c.DeliveryApp == "" {
		return nil
	}
	args := []string{c.DeliveryApp}
	if c.ConfigPath != "" {
		args = append(args, c.ConfigPath)
	}
	if c.DataPath != "" {
		args = append(args, c.DataPath)
	}
	return args
}

func (c Config) Ready() *regexp.Regexp { return regexp.MustCompile(c.ReadyPattern) }

// GameConfig loads the server's own config file when one is known.
func (c Config) GameConfig() (gameconfig.Config, bool, error) {
	if c.ConfigPath == "" {
		return gameconfig.Config{}, false, nil
	}
	g, err := gameconfig.Load(c.ConfigPath)
	if err != nil {
		return g, false, err
	}
	return g, true, nil
}

// RetirementTime is the explicit override, else whatever the game config
// resolves to (its own default included), else DefaultRetirementTime.
func (c Config) RetirementTime(game *gameconfig.Config) time.Duration {
	if c.Retirement > 0 {
		return c.Retirement
	}
	if game != nil {
		return game.RetirementTime()
	}
	return DefaultRetirementTime
}

// ClientOptions are the transport options this config asks for.
func (c Config) ClientOptions() []httpapi.Option {
	opts := []httpapi.Option{httpapi.WithTimeout(c.RequestTimeout)}
	if c.RecordsInBody {
		opts = append(opts, httpapi.WithRecordsInBody())
	}
	return opts
}

func (c Config) RecordsParams() recordsdb.Params {
	return recordsdb.Params{
		User:        c.Postgres.User,
		Password:    c.Postgres.Password,
		Host:        c.Postgres.Host,
		Port:        c.Postgres.Port,
		Maintenance: c.Postgres.Maintenance,
		Force:       c.Postgres.Force,
	}
}
