package config

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	fio "collision-kv/collision/io"
)

type Store struct {
	Dir        string `yaml:"dir"`
	PrefixBits int    `yaml:"prefixBits"`
	ReadMode   string `yaml:"readMode"`
}

type Server struct {
	HTTPAddress string `yaml:"httpAddress"`
	GRPCAddress string `yaml:"grpcAddress"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Config struct {
	Store  Store  `yaml:"store"`
	Server Server `yaml:"server"`
	Log    Log    `yaml:"log"`
}

func Default() *Config {
	return &Config{
		Store: Store{
			Dir:        "data",
			PrefixBits: 8,
			ReadMode:   fio.FIO.String(),
		},
		Server: Server{
			HTTPAddress: ":8080",
			GRPCAddress: ":9090",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads a yaml file over the defaults. An empty path yields the
// defaults alone.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Store.Dir == "" {
		errs = append(errs, errors.New("store.dir is empty"))
	}
	if c.Store.PrefixBits < 1 || c.Store.PrefixBits > 32 {
		errs = append(errs, fmt.Errorf("store.prefixBits must be within 1..32, got %d", c.Store.PrefixBits))
	}
	if _, err := fio.ParseFileIOType(c.Store.ReadMode); err != nil {
		errs = append(errs, fmt.Errorf("store.readMode: %w", err))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Config) ReadMode() fio.FileIOType {
	mode, _ := fio.ParseFileIOType(c.Store.ReadMode)
	return mode
}

// Logger builds the process logger described by the log section.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
