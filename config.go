package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"lending-library/library"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envPrefix = "LIBRARY"

// Config is the resolved CLI configuration.
type Config struct {
	DBPath    string `mapstructure:"db"`
	Fixtures  string `mapstructure:"fixtures"`
	LoanLimit int    `mapstructure:"loan-limit"`
	LogLevel  string `mapstructure:"log-level"`
}

func defaultConfig() Config {
	return Config{
		DBPath:    "library.db",
		LoanLimit: library.DefaultLoanLimit,
		LogLevel:  "warn",
	}
}

// bindFlags registers the persistent flags shared by every command.
func bindFlags(flags *pflag.FlagSet) {
	d := defaultConfig()
	flags.String("db", d.DBPath, "path to the SQLite database")
	flags.String("fixtures", d.Fixtures, "TOML fixture used to seed an empty database (default: built-in)")
	flags.Int("loan-limit", d.LoanLimit, "maximum number of books a user may borrow at once")
	flags.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
}

// loadConfig resolves flags, LIBRARY_* environment variables and an optional
// .env file, in that order of precedence.
func loadConfig(flags *pflag.FlagSet) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	d := defaultConfig()
	v.SetDefault("db", d.DBPath)
	v.SetDefault("fixtures", d.Fixtures)
	v.SetDefault("loan-limit", d.LoanLimit)
	v.SetDefault("log-level", d.LogLevel)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.LoanLimit <= 0 {
		return Config{}, fmt.Errorf("loan-limit must be positive, got %d", cfg.LoanLimit)
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("log-level: %w", err)
	}
	return cfg, nil
}

// newLogger builds a console logger on stderr at cfg.LogLevel.
func newLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = true
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// managerConfig turns the CLI config into library settings.
func (c Config) managerConfig(logger *zap.Logger) (library.ManagerConfig, error) {
	mc := library.ManagerConfig{
		DBPath:    c.DBPath,
		LoanLimit: c.LoanLimit,
		Logger:    logger,
	}
	if c.Fixtures != "" {
		fx, err := library.LoadFixtureFile(c.Fixtures)
		if err != nil {
			return library.ManagerConfig{}, err
		}
		mc.Fixture = fx
	}
	return mc, nil
}
