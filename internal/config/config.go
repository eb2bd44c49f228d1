package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalFlags are the raw CLI flag values before merging with file and
// environment configuration.
type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Network        string
	RPCURL         string
	Timeout        string
	Retries        int
	ReceiptTimeout string
	NoCache        bool
	StaticRate     float64
	NoLivePrices   bool
	EnableCommands []string
	KeySource      string
	PrivateKey     string
}

// Settings is the merged runtime configuration. Precedence, lowest to
// highest: defaults, config file, LENDCTL_* environment, flags.
type Settings struct {
	OutputMode         string
	Network            string
	RPCURL             string
	Timeout            time.Duration
	Retries            int
	ReceiptTimeout     time.Duration
	PollInterval       time.Duration
	GasMultiplier      float64
	MaxFeeGwei         float64
	MaxPriorityFeeGwei float64
	CacheEnabled       bool
	RateCachePath      string
	RateCacheLockPath  string
	LivePrices         bool
	StaticETHUSDRate   float64
	EnableCommands     []string

	// Signing key material, resolved through the same precedence as
	// every other setting and handed to the signer as-is.
	KeySource            string
	PrivateKey           string
	PrivateKeyFile       string
	KeystorePath         string
	KeystorePassword     string
	KeystorePasswordFile string
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Network string `yaml:"network"`
	RPCURL  string `yaml:"rpc_url"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Gas     struct {
		ReceiptTimeout     string   `yaml:"receipt_timeout"`
		PollInterval       string   `yaml:"poll_interval"`
		Multiplier         *float64 `yaml:"multiplier"`
		MaxFeeGwei         *float64 `yaml:"max_fee_gwei"`
		MaxPriorityFeeGwei *float64 `yaml:"max_priority_fee_gwei"`
	} `yaml:"gas"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Prices struct {
		Live       *bool    `yaml:"live"`
		ETHUSDRate *float64 `yaml:"eth_usd_rate"`
	} `yaml:"prices"`
	EnableCommands []string `yaml:"enable_commands"`
	Signer         struct {
		KeySource            string `yaml:"key_source"`
		PrivateKeyFile       string `yaml:"private_key_file"`
		KeystorePath         string `yaml:"keystore_path"`
		KeystorePasswordFile string `yaml:"keystore_password_file"`
	} `yaml:"signer"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.ReceiptTimeout <= 0 {
		settings.ReceiptTimeout = 2 * time.Minute
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = 2 * time.Second
	}
	if settings.GasMultiplier <= 0 {
		settings.GasMultiplier = 1.2
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:        "plain",
		Network:           "base",
		Timeout:           10 * time.Second,
		Retries:           2,
		ReceiptTimeout:    2 * time.Minute,
		PollInterval:      2 * time.Second,
		GasMultiplier:     1.2,
		CacheEnabled:      true,
		RateCachePath:     cachePath,
		RateCacheLockPath: lockPath,
		LivePrices:        true,
		KeySource:         "auto",
		PrivateKeyFile:    discoverDefaultKeyFile(),
	}, nil
}

// discoverDefaultKeyFile returns the conventional key file path when
// one exists, so a bare invocation can sign without flags or env.
func discoverDefaultKeyFile() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	path := filepath.Join(base, "lendctl", "key.hex")
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "lendctl", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "lendctl")
	return filepath.Join(dir, "rates.db"), filepath.Join(dir, "rates.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Network != "" {
		settings.Network = strings.ToLower(cfg.Network)
	}
	if cfg.RPCURL != "" {
		settings.RPCURL = cfg.RPCURL
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Gas.ReceiptTimeout != "" {
		d, err := time.ParseDuration(cfg.Gas.ReceiptTimeout)
		if err != nil {
			return fmt.Errorf("config gas.receipt_timeout: %w", err)
		}
		settings.ReceiptTimeout = d
	}
	if cfg.Gas.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Gas.PollInterval)
		if err != nil {
			return fmt.Errorf("config gas.poll_interval: %w", err)
		}
		settings.PollInterval = d
	}
	if cfg.Gas.Multiplier != nil {
		settings.GasMultiplier = *cfg.Gas.Multiplier
	}
	if cfg.Gas.MaxFeeGwei != nil {
		settings.MaxFeeGwei = *cfg.Gas.MaxFeeGwei
	}
	if cfg.Gas.MaxPriorityFeeGwei != nil {
		settings.MaxPriorityFeeGwei = *cfg.Gas.MaxPriorityFeeGwei
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.Path != "" {
		settings.RateCachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.RateCacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Prices.Live != nil {
		settings.LivePrices = *cfg.Prices.Live
	}
	if cfg.Prices.ETHUSDRate != nil {
		settings.StaticETHUSDRate = *cfg.Prices.ETHUSDRate
	}
	if len(cfg.EnableCommands) > 0 {
		settings.EnableCommands = cfg.EnableCommands
	}
	if cfg.Signer.KeySource != "" {
		settings.KeySource = strings.ToLower(cfg.Signer.KeySource)
	}
	if cfg.Signer.PrivateKeyFile != "" {
		settings.PrivateKeyFile = cfg.Signer.PrivateKeyFile
	}
	if cfg.Signer.KeystorePath != "" {
		settings.KeystorePath = cfg.Signer.KeystorePath
	}
	if cfg.Signer.KeystorePasswordFile != "" {
		settings.KeystorePasswordFile = cfg.Signer.KeystorePasswordFile
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("LENDCTL_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("LENDCTL_NETWORK"); v != "" {
		settings.Network = strings.ToLower(v)
	}
	if v := os.Getenv("LENDCTL_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("LENDCTL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("LENDCTL_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("LENDCTL_RECEIPT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.ReceiptTimeout = d
		}
	}
	if v := os.Getenv("LENDCTL_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("LENDCTL_CACHE_PATH"); v != "" {
		settings.RateCachePath = v
	}
	if v := os.Getenv("LENDCTL_CACHE_LOCK_PATH"); v != "" {
		settings.RateCacheLockPath = v
	}
	if v := os.Getenv("LENDCTL_LIVE_PRICES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.LivePrices = b
		}
	}
	if v := os.Getenv("LENDCTL_ETH_USD_RATE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			settings.StaticETHUSDRate = rate
		}
	}
	if v := os.Getenv("LENDCTL_ENABLE_COMMANDS"); v != "" {
		settings.EnableCommands = splitList(v)
	}
	if v := os.Getenv("LENDCTL_KEY_SOURCE"); v != "" {
		settings.KeySource = strings.ToLower(v)
	}
	if v := os.Getenv("LENDCTL_PRIVATE_KEY"); v != "" {
		settings.PrivateKey = v
	}
	if v := os.Getenv("LENDCTL_PRIVATE_KEY_FILE"); v != "" {
		settings.PrivateKeyFile = v
	}
	if v := os.Getenv("LENDCTL_KEYSTORE_PATH"); v != "" {
		settings.KeystorePath = v
	}
	if v := os.Getenv("LENDCTL_KEYSTORE_PASSWORD"); v != "" {
		settings.KeystorePassword = v
	}
	if v := os.Getenv("LENDCTL_KEYSTORE_PASSWORD_FILE"); v != "" {
		settings.KeystorePasswordFile = v
	}
}

func splitList(v string) []string {
	var items []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Network) != "" {
		settings.Network = strings.ToLower(strings.TrimSpace(flags.Network))
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURL = strings.TrimSpace(flags.RPCURL)
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.ReceiptTimeout != "" {
		d, err := time.ParseDuration(flags.ReceiptTimeout)
		if err != nil {
			return fmt.Errorf("parse --receipt-timeout: %w", err)
		}
		settings.ReceiptTimeout = d
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.NoLivePrices {
		settings.LivePrices = false
	}
	if flags.StaticRate > 0 {
		settings.StaticETHUSDRate = flags.StaticRate
	}
	if len(flags.EnableCommands) > 0 {
		settings.EnableCommands = flags.EnableCommands
	}
	if strings.TrimSpace(flags.KeySource) != "" {
		settings.KeySource = strings.ToLower(strings.TrimSpace(flags.KeySource))
	}
	if strings.TrimSpace(flags.PrivateKey) != "" {
		settings.PrivateKey = strings.TrimSpace(flags.PrivateKey)
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}
