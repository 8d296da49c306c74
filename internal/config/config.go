package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/tranvictor/waveportal"
)

type Config struct {
	RPCURL   string `env:"WAVEPORTAL_RPC_URL,required"`
	Contract string `env:"WAVEPORTAL_CONTRACT,required"`

	// At most one signer. Neither means read-only, like a browser without a wallet.
	PrivateKey      string `env:"WAVEPORTAL_PRIVATE_KEY"`
	KeystoreAccount string `env:"WAVEPORTAL_KEYSTORE_ACCOUNT"`

	GasLimit            uint64        `env:"WAVEPORTAL_GAS_LIMIT"`
	TxCheckInterval     time.Duration `env:"WAVEPORTAL_TX_CHECK_INTERVAL"`
	ConfirmationTimeout time.Duration `env:"WAVEPORTAL_CONFIRMATION_TIMEOUT"`
	// JarvisMonitor confirms wave txs through the jarvis node pool of the chain,
	// which reports dropped txs. Only for chains jarvis knows.
	JarvisMonitor bool `env:"WAVEPORTAL_JARVIS_MONITOR"`

	RedisURL    string `env:"WAVEPORTAL_REDIS_URL"`
	RedisPrefix string `env:"WAVEPORTAL_REDIS_PREFIX"`
}

// Load reads an optional .env file, then the environment.
func Load(filenames ...string) (Config, error) {
	// a missing .env is fine, the environment may be set already
	_ = godotenv.Load(filenames...)

	cfg := Config{
		GasLimit:        waveportal.DefaultGasLimit,
		TxCheckInterval: waveportal.DefaultTxCheckInterval,
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !common.IsHexAddress(c.Contract) {
		return fmt.Errorf("WAVEPORTAL_CONTRACT %q is not an address", c.Contract)
	}
	if c.KeystoreAccount != "" && !common.IsHexAddress(c.KeystoreAccount) {
		return fmt.Errorf("WAVEPORTAL_KEYSTORE_ACCOUNT %q is not an address", c.KeystoreAccount)
	}
	if c.PrivateKey != "" && c.KeystoreAccount != "" {
		return errors.New("set only one of WAVEPORTAL_PRIVATE_KEY and WAVEPORTAL_KEYSTORE_ACCOUNT")
	}
	if c.GasLimit == 0 {
		return errors.New("WAVEPORTAL_GAS_LIMIT must be positive")
	}
	if c.TxCheckInterval <= 0 {
		return errors.New("WAVEPORTAL_TX_CHECK_INTERVAL must be positive")
	}
	if c.ConfirmationTimeout < 0 {
		return errors.New("WAVEPORTAL_CONFIRMATION_TIMEOUT cannot be negative")
	}
	if c.RedisURL != "" && !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
		return fmt.Errorf("WAVEPORTAL_REDIS_URL %q must be a redis:// or rediss:// url", c.RedisURL)
	}
	return nil
}

func (c Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Contract)
}

// Provider builds the signing capability the config names, nil when none.
func (c Config) Provider() (waveportal.Provider, error) {
	switch {
	case c.PrivateKey != "":
		p, err := waveportal.NewPrivateKeyProvider(c.PrivateKey)
		if err != nil {
			return nil, err
		}
		return p, nil
	case c.KeystoreAccount != "":
		return waveportal.NewKeystoreProvider(common.HexToAddress(c.KeystoreAccount)), nil
	default:
		return nil, nil
	}
}
