// Package config loads the token sync client configuration from a YAML file
// or from command line flags. Private keys always come from the environment.
package config

import (
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/tokensync/internal/domain"
)

const (
	DefaultRPCURL              = "http://127.0.0.1:8545"
	DefaultChainID             = 31337
	DefaultNetworkName         = "Localhost 8545"
	DefaultProbeTimeout        = 5 * time.Second
	DefaultReadTimeout         = 10 * time.Second
	DefaultNoticeTTL           = 5 * time.Second
	DefaultPollInterval        = 2 * time.Second
	DefaultConfirmationTimeout = 2 * time.Minute
	DefaultWALDir              = "./wal"
	DefaultDashboardAddr       = ":8080"

	// GeneratedFile is where the setup wizard writes its result.
	GeneratedFile = "config.gen.yaml"
	// PrivateKeysEnv holds comma separated hex private keys.
	PrivateKeysEnv = "TOKENSYNC_PRIVATE_KEYS"
)

type Config struct {
	RPCURL              string
	ChainID             *big.Int
	NetworkName         string
	Contract            common.Address
	ProbeTimeout        time.Duration
	ReadTimeout         time.Duration
	NoticeTTL           time.Duration
	PollInterval        time.Duration
	ConfirmationTimeout time.Duration
	WALDir              string
	DashboardAddr       string
	TLSDomains          []string
	CertCacheDir        string
	AutoApprove         bool
	PrivateKeys         []string

	// Setup runs the configuration wizard instead of the client.
	Setup bool
	// GenWallet prints a fresh key pair and exits.
	GenWallet bool
}

type ConfigTmp struct {
	RPCURL              string        `yaml:"rpc_url"`
	ChainID             string        `yaml:"chain_id"`
	NetworkName         string        `yaml:"network_name,omitempty"`
	Contract            string        `yaml:"contract"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout,omitempty"`
	ReadTimeout         time.Duration `yaml:"read_timeout,omitempty"`
	NoticeTTL           time.Duration `yaml:"notice_ttl,omitempty"`
	PollInterval        time.Duration `yaml:"poll_interval,omitempty"`
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout,omitempty"`
	WALDir              string        `yaml:"wal_dir,omitempty"`
	DashboardAddr       string        `yaml:"dashboard_addr,omitempty"`
	TLSDomains          []string      `yaml:"tls_domains,omitempty"`
	CertCacheDir        string        `yaml:"cert_cache_dir,omitempty"`
	AutoApprove         bool          `yaml:"auto_approve,omitempty"`
}

// Get parses args (without the program name). With -config the YAML file is
// used, otherwise the remaining flags.
func Get(args []string) (Config, error) {
	fs := flag.NewFlagSet("tokensync", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to yaml config")
	setup := fs.Bool("setup", false, "run the configuration wizard")
	genWallet := fs.Bool("genwallet", false, "generate a new wallet key and exit")
	rpcURL := fs.String("rpc", DefaultRPCURL, "node JSON-RPC endpoint")
	chainID := fs.String("chainid", fmt.Sprint(DefaultChainID), "required chain id")
	contract := fs.String("contract", "", "token contract address, example: 0x5FbDB2315678afecb367f032d93F642f64180aa3")
	dashboard := fs.String("dashboard", DefaultDashboardAddr, "dashboard listen address")
	walDir := fs.String("waldir", DefaultWALDir, "directory for snapshot and trade logs")
	autoApprove := fs.Bool("autoapprove", false, "approve wallet prompts without asking")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *setup || *genWallet {
		return Config{Setup: *setup, GenWallet: *genWallet}, nil
	}
	if *configPath != "" {
		return Load(*configPath)
	}

	return ConfigTmp{
		RPCURL:        *rpcURL,
		ChainID:       *chainID,
		Contract:      *contract,
		WALDir:        *walDir,
		DashboardAddr: *dashboard,
		AutoApprove:   *autoApprove,
	}.Convert()
}

// Load reads and validates a YAML config file.
func Load(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, fmt.Errorf("incorrect yaml config %s: %w", path, err)
	}
	return tmp.Convert()
}

// Convert validates raw values, applies defaults and reads keys from the environment.
func (c ConfigTmp) Convert() (Config, error) {
	conf := Config{
		RPCURL:              c.RPCURL,
		NetworkName:         c.NetworkName,
		ProbeTimeout:        c.ProbeTimeout,
		ReadTimeout:         c.ReadTimeout,
		NoticeTTL:           c.NoticeTTL,
		PollInterval:        c.PollInterval,
		ConfirmationTimeout: c.ConfirmationTimeout,
		WALDir:              c.WALDir,
		DashboardAddr:       c.DashboardAddr,
		TLSDomains:          c.TLSDomains,
		CertCacheDir:        c.CertCacheDir,
		AutoApprove:         c.AutoApprove,
		PrivateKeys:         keysFromEnv(),
	}

	if conf.RPCURL == "" {
		conf.RPCURL = DefaultRPCURL
	}

	chainID := strings.TrimSpace(c.ChainID)
	if chainID == "" {
		conf.ChainID = big.NewInt(DefaultChainID)
	} else {
		id, ok := new(big.Int).SetString(chainID, 10)
		if !ok || id.Sign() <= 0 {
			return Config{}, fmt.Errorf("incorrect 'chain_id' param in config (must be a positive integer): %q", c.ChainID)
		}
		conf.ChainID = id
	}
	if conf.NetworkName == "" && conf.ChainID.Cmp(big.NewInt(DefaultChainID)) == 0 {
		conf.NetworkName = DefaultNetworkName
	}

	contract, err := domain.ParseAddress(c.Contract)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'contract' param in config: %w", err)
	}
	conf.Contract = contract

	if conf.ProbeTimeout <= 0 {
		conf.ProbeTimeout = DefaultProbeTimeout
	}
	if conf.ReadTimeout <= 0 {
		conf.ReadTimeout = DefaultReadTimeout
	}
	if conf.NoticeTTL <= 0 {
		conf.NoticeTTL = DefaultNoticeTTL
	}
	if conf.PollInterval <= 0 {
		conf.PollInterval = DefaultPollInterval
	}
	if conf.ConfirmationTimeout <= 0 {
		conf.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if conf.WALDir == "" {
		conf.WALDir = DefaultWALDir
	}
	if conf.DashboardAddr == "" {
		conf.DashboardAddr = DefaultDashboardAddr
	}

	return conf, nil
}

func keysFromEnv() []string {
	raw := os.Getenv(PrivateKeysEnv)
	if raw == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
