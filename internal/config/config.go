package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig models the optional YAML file named by MINTER_CONFIG.
// Environment variables override anything set here.
type FileConfig struct {
	Pinning struct {
		APIURL     string `yaml:"apiUrl"`
		APIKey     string `yaml:"apiKey"`
		GatewayURL string `yaml:"gatewayUrl"`
	} `yaml:"pinning"`
	Chain struct {
		NetworkID      string `yaml:"networkId"`
		RPCURL         string `yaml:"rpcUrl"`
		ContractID     string `yaml:"contractId"`
		AccountID      string `yaml:"accountId"`
		CredentialsDir string `yaml:"credentialsDir"`
	} `yaml:"chain"`
	Mint struct {
		MethodName     string `yaml:"methodName"`
		Gas            uint64 `yaml:"gas"`
		DepositYocto   string `yaml:"depositYocto"`
		MintingCost    string `yaml:"mintingCost"`
		StorageDeposit string `yaml:"storageDeposit"`
	} `yaml:"mint"`
	Service struct {
		HTTPPort   int    `yaml:"httpPort"`
		HMACSecret string `yaml:"hmacSecret"`
		LedgerPath string `yaml:"ledgerPath"`
		LedgerDSN  string `yaml:"ledgerDsn"`
	} `yaml:"service"`
	StateDir string `yaml:"stateDir"`
	LogLevel string `yaml:"logLevel"`
}

// AppConfig is the resolved configuration shared by the CLI and the server.
type AppConfig struct {
	Pinning  PinningConfig
	Chain    ChainConfig
	Mint     MintConfig
	Service  ServiceConfig
	StateDir string
	LogLevel string
}

type PinningConfig struct {
	APIURL     string
	APIKey     string
	GatewayURL string
}

type ChainConfig struct {
	NetworkID      string
	RPCURL         string
	ContractID     string
	AccountID      string
	CredentialsDir string
}

type MintConfig struct {
	MethodName     string
	Gas            uint64
	DepositYocto   string
	MintingCost    string
	StorageDeposit string
}

type ServiceConfig struct {
	HTTPPort        int
	HMACSecret      string
	HMACClockSkew   time.Duration
	ShutdownTimeout time.Duration
	LedgerPath      string
	LedgerDSN       string
}

const (
	defaultPinningAPIURL = "https://rpc.filebase.io"
	defaultGatewayURL    = "https://gateway.filebase.io/ipfs"
	defaultNetworkID     = "testnet"
	defaultContractID    = "easy-proxy.testnet"
	defaultMethodName    = "nft_mint_proxy"
	defaultGas           = 300_000_000_000_000
	// 0.2 NEAR in yoctoNEAR.
	defaultDepositYocto = "200000000000000000000000"
)

// Load aggregates configuration from the optional YAML file and the environment.
// It is called once at startup.
func Load() (*AppConfig, error) {
	var file FileConfig
	if path := envOr("MINTER_CONFIG", ""); path != "" {
		loaded, err := loadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		file = *loaded
	}
	return resolve(file)
}

func resolve(file FileConfig) (*AppConfig, error) {
	home, _ := os.UserHomeDir()

	network := envOr("NEAR_NETWORK", orDefault(file.Chain.NetworkID, defaultNetworkID))

	cfg := &AppConfig{
		Pinning: PinningConfig{
			APIURL:     envOr("PINNING_API_URL", orDefault(file.Pinning.APIURL, defaultPinningAPIURL)),
			APIKey:     envOr("PINNING_API_KEY", file.Pinning.APIKey),
			GatewayURL: envOr("IPFS_GATEWAY", orDefault(file.Pinning.GatewayURL, defaultGatewayURL)),
		},
		Chain: ChainConfig{
			NetworkID:      network,
			RPCURL:         envOr("NEAR_RPC_URL", orDefault(file.Chain.RPCURL, defaultRPCURL(network))),
			ContractID:     envOr("NEAR_CONTRACT_ID", orDefault(file.Chain.ContractID, defaultContractID)),
			AccountID:      envOr("NEAR_ACCOUNT_ID", file.Chain.AccountID),
			CredentialsDir: envOr("NEAR_CREDENTIALS_DIR", orDefault(file.Chain.CredentialsDir, filepath.Join(home, ".near-credentials"))),
		},
		Mint: MintConfig{
			MethodName:     orDefault(file.Mint.MethodName, defaultMethodName),
			Gas:            file.Mint.Gas,
			DepositYocto:   orDefault(file.Mint.DepositYocto, defaultDepositYocto),
			MintingCost:    orDefault(file.Mint.MintingCost, "0.2"),
			StorageDeposit: orDefault(file.Mint.StorageDeposit, "0.01"),
		},
		Service: ServiceConfig{
			HTTPPort:        envOrInt("API_HTTP_PORT", orDefaultInt(file.Service.HTTPPort, 3000)),
			HMACSecret:      envOr("API_HMAC_SECRET", file.Service.HMACSecret),
			HMACClockSkew:   time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
			ShutdownTimeout: time.Duration(envOrInt("SHUTDOWN_TIMEOUT_SECONDS", 15)) * time.Second,
			LedgerDSN:       envOr("LEDGER_DSN", file.Service.LedgerDSN),
		},
		StateDir: envOr("MINTER_STATE_DIR", orDefault(file.StateDir, filepath.Join(home, ".config", "nearminter"))),
		LogLevel: envOr("LOG_LEVEL", orDefault(file.LogLevel, "info")),
	}
	if cfg.Mint.Gas == 0 {
		cfg.Mint.Gas = defaultGas
	}
	cfg.Service.LedgerPath = envOr("LEDGER_PATH", orDefault(file.Service.LedgerPath, filepath.Join(cfg.StateDir, "ledger.json")))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Chain.NetworkID == "" {
		return errors.New("network id is required")
	}
	if c.Chain.ContractID == "" {
		return errors.New("contract id is required")
	}
	if c.Pinning.GatewayURL == "" {
		return errors.New("ipfs gateway url is required")
	}
	return nil
}

// ExplorerAccountURL points at the account's NFT transfers on nearblocks.
func (c *AppConfig) ExplorerAccountURL(accountID string) string {
	host := "nearblocks.io"
	if c.Chain.NetworkID != "mainnet" {
		host = c.Chain.NetworkID + ".nearblocks.io"
	}
	return fmt.Sprintf("https://%s/address/%s?tab=nfttokentxns", host, accountID)
}

func defaultRPCURL(network string) string {
	return fmt.Sprintf("https://rpc.%s.near.org", network)
}

func loadFile(path string) (*FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func orDefault(val, fallback string) string {
	if val != "" {
		return val
	}
	return fallback
}

func orDefaultInt(val, fallback int) int {
	if val != 0 {
		return val
	}
	return fallback
}
