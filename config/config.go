package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/url"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/chainlink-common/pkg/config"

	"github.com/tomoswap/txsync"
	"github.com/tomoswap/txsync/sdk"
	"github.com/tomoswap/txsync/txm"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Global defaults.
var defaultConfigSet = configSet{
	ChainID:  "88",
	LogLevel: "info",
	// polling period for pending transactions
	PollPeriod:            txm.DefaultPollPeriod,
	GracePeriod:           txm.DefaultGracePeriod,
	RPCTimeout:            sdk.DefaultRPCTimeout,
	MaxConcurrentRequests: txm.DefaultMaxConcurrentRequests,
	// polling period for the per-state gauges
	StatePollPeriod:   15 * time.Second,
	RequestsPerSecond: 20,
	Burst:             10,
	Backend:           BackendMemory,
	BufferSize:        64,
	Channel:           "txsync",
	ListenAddress:     ":8080",
}

type configSet struct {
	ChainID               string
	LogLevel              string
	PollPeriod            time.Duration
	GracePeriod           time.Duration
	RPCTimeout            time.Duration
	MaxConcurrentRequests int
	StatePollPeriod       time.Duration
	RequestsPerSecond     float64
	Burst                 int
	Backend               string
	BufferSize            int
	Channel               string
	ListenAddress         string
}

type Config struct {
	ChainID  *string
	Wallet   *string
	LogLevel *string

	Reconciler ReconcilerConfig
	Node       NodeConfig
	Store      StoreConfig
	Notify     NotifyConfig
	API        APIConfig
}

type ReconcilerConfig struct {
	PollPeriod            *config.Duration
	GracePeriod           *config.Duration
	RPCTimeout            *config.Duration
	MaxConcurrentRequests *int
	StatePollPeriod       *config.Duration
}

type NodeConfig struct {
	Name              *string
	URL               *config.URL
	RequestsPerSecond *float64
	Burst             *int
}

type StoreConfig struct {
	Backend     *string
	DatabaseURL *string
}

type NotifyConfig struct {
	BufferSize *int
	// RedisURL enables publishing events to redis when set.
	RedisURL *string
	Channel  *string
}

type APIConfig struct {
	ListenAddress *string
}

// Decode reads a TOML document, rejecting unknown keys.
func Decode(r io.Reader) (*Config, error) {
	var c Config
	d := toml.NewDecoder(r).DisallowUnknownFields()
	if err := d.Decode(&c); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("failed to decode config: %s", strict.String())
		}
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &c, nil
}

// Load decodes the file at path, applies environment overrides and defaults, and validates
// the result.
func Load(ctx context.Context, path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	c, err := Decode(f)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(ctx, envconfig.OsLookuper()); err != nil {
		return nil, err
	}
	c.SetDefaults()
	if err := c.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

type envOverrides struct {
	NodeURL       string `env:"NODE_URL"`
	DatabaseURL   string `env:"DATABASE_URL"`
	RedisURL      string `env:"REDIS_URL"`
	Wallet        string `env:"WALLET"`
	ListenAddress string `env:"LISTEN_ADDRESS"`
}

// ApplyEnv overrides fields from TXSYNC_* variables found by l.
func (c *Config) ApplyEnv(ctx context.Context, l envconfig.Lookuper) error {
	var env envOverrides
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &env,
		Lookuper: envconfig.PrefixLookuper("TXSYNC_", l),
	}); err != nil {
		return fmt.Errorf("error loading environment: %w", err)
	}
	if env.NodeURL != "" {
		u, err := config.ParseURL(env.NodeURL)
		if err != nil {
			return config.ErrInvalid{Name: "TXSYNC_NODE_URL", Value: env.NodeURL, Msg: err.Error()}
		}
		c.Node.URL = u
	}
	if env.DatabaseURL != "" {
		c.Store.DatabaseURL = &env.DatabaseURL
	}
	if env.RedisURL != "" {
		c.Notify.RedisURL = &env.RedisURL
	}
	if env.Wallet != "" {
		c.Wallet = &env.Wallet
	}
	if env.ListenAddress != "" {
		c.API.ListenAddress = &env.ListenAddress
	}
	return nil
}

func (c *Config) SetDefaults() {
	d := defaultConfigSet
	if c.ChainID == nil {
		c.ChainID = &d.ChainID
	}
	if c.LogLevel == nil {
		c.LogLevel = &d.LogLevel
	}
	r := &c.Reconciler
	if r.PollPeriod == nil {
		r.PollPeriod = config.MustNewDuration(d.PollPeriod)
	}
	if r.GracePeriod == nil {
		r.GracePeriod = config.MustNewDuration(d.GracePeriod)
	}
	if r.RPCTimeout == nil {
		r.RPCTimeout = config.MustNewDuration(d.RPCTimeout)
	}
	if r.MaxConcurrentRequests == nil {
		r.MaxConcurrentRequests = &d.MaxConcurrentRequests
	}
	if r.StatePollPeriod == nil {
		r.StatePollPeriod = config.MustNewDuration(d.StatePollPeriod)
	}
	if c.Node.Name == nil {
		name := "primary"
		c.Node.Name = &name
	}
	if c.Node.RequestsPerSecond == nil {
		c.Node.RequestsPerSecond = &d.RequestsPerSecond
	}
	if c.Node.Burst == nil {
		c.Node.Burst = &d.Burst
	}
	if c.Store.Backend == nil {
		c.Store.Backend = &d.Backend
	}
	if c.Store.DatabaseURL == nil {
		empty := ""
		c.Store.DatabaseURL = &empty
	}
	if c.Notify.BufferSize == nil {
		c.Notify.BufferSize = &d.BufferSize
	}
	if c.Notify.RedisURL == nil {
		empty := ""
		c.Notify.RedisURL = &empty
	}
	if c.Notify.Channel == nil {
		c.Notify.Channel = &d.Channel
	}
	if c.API.ListenAddress == nil {
		c.API.ListenAddress = &d.ListenAddress
	}
}

// ValidateConfig must be called after SetDefaults.
func (c *Config) ValidateConfig() (err error) {
	if c.ChainID == nil || *c.ChainID == "" {
		err = errors.Join(err, config.ErrEmpty{Name: "ChainID", Msg: "required"})
	} else if _, ok := new(big.Int).SetString(*c.ChainID, 10); !ok {
		err = errors.Join(err, config.ErrInvalid{Name: "ChainID", Value: *c.ChainID, Msg: "must be a decimal integer"})
	}
	if c.Wallet == nil {
		err = errors.Join(err, config.ErrMissing{Name: "Wallet", Msg: "required to start a session"})
	} else if _, werr := txsync.NormalizeAddress(*c.Wallet); werr != nil {
		err = errors.Join(err, config.ErrInvalid{Name: "Wallet", Value: *c.Wallet, Msg: werr.Error()})
	}
	if _, lerr := zapcore.ParseLevel(*c.LogLevel); lerr != nil {
		err = errors.Join(err, config.ErrInvalid{Name: "LogLevel", Value: *c.LogLevel, Msg: lerr.Error()})
	}

	for name, d := range map[string]*config.Duration{
		"Reconciler.PollPeriod":      c.Reconciler.PollPeriod,
		"Reconciler.GracePeriod":     c.Reconciler.GracePeriod,
		"Reconciler.RPCTimeout":      c.Reconciler.RPCTimeout,
		"Reconciler.StatePollPeriod": c.Reconciler.StatePollPeriod,
	} {
		if d.Duration() <= 0 {
			err = errors.Join(err, config.ErrInvalid{Name: name, Value: d.Duration(), Msg: "must be positive"})
		}
	}
	if *c.Reconciler.MaxConcurrentRequests <= 0 {
		err = errors.Join(err, config.ErrInvalid{Name: "Reconciler.MaxConcurrentRequests", Value: *c.Reconciler.MaxConcurrentRequests, Msg: "must be positive"})
	}

	err = errors.Join(err, c.Node.ValidateConfig())

	switch *c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if *c.Store.DatabaseURL == "" {
			err = errors.Join(err, config.ErrEmpty{Name: "Store.DatabaseURL", Msg: "required for the postgres backend"})
		}
	default:
		err = errors.Join(err, config.ErrInvalid{Name: "Store.Backend", Value: *c.Store.Backend, Msg: "must be memory or postgres"})
	}

	if *c.Notify.BufferSize <= 0 {
		err = errors.Join(err, config.ErrInvalid{Name: "Notify.BufferSize", Value: *c.Notify.BufferSize, Msg: "must be positive"})
	}
	if *c.Notify.RedisURL != "" && *c.Notify.Channel == "" {
		err = errors.Join(err, config.ErrEmpty{Name: "Notify.Channel", Msg: "required when RedisURL is set"})
	}
	if *c.API.ListenAddress == "" {
		err = errors.Join(err, config.ErrEmpty{Name: "API.ListenAddress", Msg: "required"})
	}
	return
}

func (n *NodeConfig) ValidateConfig() (err error) {
	if n.Name == nil {
		err = errors.Join(err, config.ErrMissing{Name: "Node.Name", Msg: "required"})
	} else if *n.Name == "" {
		err = errors.Join(err, config.ErrEmpty{Name: "Node.Name", Msg: "required"})
	}
	if n.URL == nil {
		err = errors.Join(err, config.ErrMissing{Name: "Node.URL", Msg: "required"})
	}
	if n.RequestsPerSecond != nil && *n.RequestsPerSecond < 0 {
		err = errors.Join(err, config.ErrInvalid{Name: "Node.RequestsPerSecond", Value: *n.RequestsPerSecond, Msg: "must not be negative"})
	}
	if n.Burst != nil && *n.Burst <= 0 {
		err = errors.Join(err, config.ErrInvalid{Name: "Node.Burst", Value: *n.Burst, Msg: "must be positive"})
	}
	return
}

func (c *Config) ChainIDBig() *big.Int {
	id, _ := new(big.Int).SetString(*c.ChainID, 10)
	return id
}

func (c *Config) NodeURL() *url.URL {
	return (*url.URL)(c.Node.URL)
}

func (c *Config) TxmConfig() txm.TxmConfig {
	return txm.TxmConfig{
		PollPeriod:            c.Reconciler.PollPeriod.Duration(),
		GracePeriod:           c.Reconciler.GracePeriod.Duration(),
		MaxConcurrentRequests: *c.Reconciler.MaxConcurrentRequests,
		ChainID:               c.ChainIDBig(),
	}
}

func (c *Config) ClientConfig() sdk.ClientConfig {
	return sdk.ClientConfig{
		Timeout:           c.Reconciler.RPCTimeout.Duration(),
		RequestsPerSecond: *c.Node.RequestsPerSecond,
		Burst:             *c.Node.Burst,
	}
}

// StatePollPeriod is the interval of the per-state gauge monitor.
func (c *Config) StatePollPeriod() time.Duration {
	return c.Reconciler.StatePollPeriod.Duration()
}
