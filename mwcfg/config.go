// Package mwcfg holds the configuration of the mwwallet tool: the command
// line options and the ini config file both map onto Config.
package mwcfg

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/mwcore/mwwallet/address"
	"github.com/mwcore/mwwallet/build"
	"github.com/mwcore/mwwallet/mwixnet"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/nodeclient"
	"github.com/mwcore/mwwallet/scanner"
)

const (
	// DefaultConfigFilename is the name of the config file within the
	// wallet directory.
	DefaultConfigFilename = "mwwallet.conf"

	// DefaultSeedFilename is the name of the seed file within the data
	// directory.
	DefaultSeedFilename = "wallet.seed"

	// DefaultLogFilename is the name of the log file within the log
	// directory.
	DefaultLogFilename = "mwwallet.log"

	// DefaultDebugLevel is the log level of every subsystem unless
	// configured.
	DefaultDebugLevel = "info"

	// DefaultMinConfirmations is the number of confirmations an output
	// needs before it's spent.
	DefaultMinConfirmations = 10

	defaultDataDirname = "data"
	defaultLogDirname  = "logs"
)

var (
	// DefaultWalletDir is the default directory holding everything the
	// wallet writes.
	DefaultWalletDir = btcutil.AppDataDir("mwwallet", false)

	// DefaultConfigFile is the default path of the config file.
	DefaultConfigFile = filepath.Join(
		DefaultWalletDir, DefaultConfigFilename,
	)
)

// Node configures the connection to the node's foreign API.
//
//nolint:ll
type Node struct {
	URL           string        `long:"url" description:"URL of the node's foreign API."`
	APISecretFile string        `long:"apisecretfile" description:"File holding the foreign API secret. Leave empty if the node doesn't require one."`
	Timeout       time.Duration `long:"timeout" description:"Timeout of every request to the node."`
}

// Scanner tunes chain scans.
//
//nolint:ll
type Scanner struct {
	GapLimit uint32 `long:"gaplimit" description:"Number of consecutive unused key indices ending the search for wallet outputs."`
	PageSize int    `long:"pagesize" description:"Number of outputs fetched from the node per request."`
	Workers  int    `long:"workers" description:"Maximum number of parallel proof rewinds. 0 uses one per CPU."`
}

// Mixnet configures output swaps through a mix network. Swaps are disabled
// unless servers are configured.
//
//nolint:ll
type Mixnet struct {
	URL     string   `long:"url" description:"Websocket URL of the first mix server."`
	Servers []string `long:"server" description:"Hex encoded X25519 public key of a mix server, in path order. May be repeated."`
	HopFee  uint64   `long:"hopfee" description:"Fee in nanogrin charged by every mix server."`
}

// Fee sets the fee policy of new transactions.
//
//nolint:ll
type Fee struct {
	BaseFee uint64 `long:"basefee" description:"Fee in nanogrin per unit of transaction weight."`
}

// Config is the complete configuration of the wallet tool.
//
//nolint:ll
type Config struct {
	WalletDir  string `long:"walletdir" description:"The base directory that contains the wallet's data, logs, configuration file, etc."`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"The directory to store the wallet database and seed within"`
	LogDir     string `long:"logdir" description:"Directory to log output."`

	DebugLevel     string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	LogCompressor  string `long:"logcompressor" description:"Compression algorithm for rotated log files." choice:"gzip" choice:"zstd"`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	Testnet          bool   `long:"testnet" description:"Use testnet slatepack addresses."`
	Account          uint32 `long:"account" description:"The wallet account to operate on."`
	MinConfirmations uint64 `long:"minconf" description:"Confirmations an output needs before it's selected as an input."`

	Node    *Node    `group:"node" namespace:"node"`
	Scanner *Scanner `group:"scanner" namespace:"scanner"`
	Mixnet  *Mixnet  `group:"mixnet" namespace:"mixnet"`
	Fee     *Fee     `group:"fee" namespace:"fee"`
}

// DefaultConfig returns a config with every default set.
func DefaultConfig() Config {
	return Config{
		WalletDir:        DefaultWalletDir,
		ConfigFile:       DefaultConfigFile,
		DataDir:          filepath.Join(DefaultWalletDir, defaultDataDirname),
		LogDir:           filepath.Join(DefaultWalletDir, defaultLogDirname),
		DebugLevel:       DefaultDebugLevel,
		LogCompressor:    build.Gzip,
		MaxLogFiles:      build.DefaultMaxLogFiles,
		MaxLogFileSize:   build.DefaultMaxLogFileSize,
		MinConfirmations: DefaultMinConfirmations,
		Node: &Node{
			URL:     nodeclient.DefaultURL,
			Timeout: nodeclient.DefaultTimeout,
		},
		Scanner: &Scanner{
			GapLimit: scanner.DefaultGapLimit,
			PageSize: scanner.DefaultPageSize,
		},
		Mixnet: &Mixnet{
			HopFee: mwixnet.DefaultHopFee,
		},
		Fee: &Fee{
			BaseFee: mwtx.DefaultBaseFee,
		},
	}
}

// LoadConfig starts from the defaults, applies the config file and then the
// command line options in args, so that the command line takes precedence.
// Option parsing stops at the first non-option argument, which starts the
// remaining arguments returned with the validated config. A missing config
// file isn't an error.
func LoadConfig(args []string) (*Config, []string, error) {
	// Pre-parse the command line to pick up an alternative config file.
	preCfg := DefaultConfig()
	parser := flags.NewParser(
		&preCfg, flags.IgnoreUnknown|flags.PassAfterNonOption,
	)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, nil, err
	}

	// A custom wallet dir moves the default config file along.
	walletDir := CleanAndExpandPath(preCfg.WalletDir)
	configFile := CleanAndExpandPath(preCfg.ConfigFile)
	if walletDir != DefaultWalletDir && configFile == DefaultConfigFile {
		configFile = filepath.Join(walletDir, DefaultConfigFilename)
	}

	// Start over so that repeated options aren't applied twice.
	cfg := DefaultConfig()
	if err := flags.IniParse(configFile, &cfg); err != nil {
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, nil, err
		}
		if !os.IsNotExist(err) {
			return nil, nil, err
		}
	}

	parser = flags.NewParser(
		&cfg, flags.HelpFlag|flags.PassAfterNonOption,
	)
	rest, err := parser.ParseArgs(args)
	if err != nil {
		return nil, nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return &cfg, rest, nil
}

// Validate checks the config and normalizes its paths. Paths left at their
// defaults follow a custom wallet dir.
func (c *Config) Validate() error {
	walletDir := CleanAndExpandPath(c.WalletDir)
	if walletDir != DefaultWalletDir {
		defaults := DefaultConfig()
		if c.DataDir == defaults.DataDir {
			c.DataDir = filepath.Join(walletDir, defaultDataDirname)
		}
		if c.LogDir == defaults.LogDir {
			c.LogDir = filepath.Join(walletDir, defaultLogDirname)
		}
	}
	c.WalletDir = walletDir
	c.ConfigFile = CleanAndExpandPath(c.ConfigFile)
	c.DataDir = CleanAndExpandPath(c.DataDir)
	c.LogDir = CleanAndExpandPath(c.LogDir)
	c.Node.APISecretFile = CleanAndExpandPath(c.Node.APISecretFile)

	if !build.SupportedLogCompressor(c.LogCompressor) {
		return fmt.Errorf("invalid log compressor: %v", c.LogCompressor)
	}

	if err := c.Node.Validate(); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	if err := c.Scanner.Validate(); err != nil {
		return fmt.Errorf("scanner: %w", err)
	}
	if err := c.Mixnet.Validate(); err != nil {
		return fmt.Errorf("mixnet: %w", err)
	}
	if c.Fee.BaseFee == 0 {
		return errors.New("fee: base fee must be positive")
	}

	return nil
}

// Validate checks the node options.
func (n *Node) Validate() error {
	u, err := url.Parse(n.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if n.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}

	return nil
}

// Validate checks the scanner options.
func (s *Scanner) Validate() error {
	switch {
	case s.GapLimit == 0:
		return errors.New("gap limit must be positive")

	case s.PageSize <= 0:
		return errors.New("page size must be positive")

	case s.Workers < 0:
		return errors.New("workers can't be negative")
	}

	return nil
}

// Validate checks the mixnet options. Nothing is required when no servers
// are configured.
func (m *Mixnet) Validate() error {
	if len(m.Servers) == 0 {
		return nil
	}
	if _, err := m.ServerKeys(); err != nil {
		return err
	}

	u, err := url.Parse(m.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	return nil
}

// Enabled returns true if swaps are configured.
func (m *Mixnet) Enabled() bool {
	return len(m.Servers) > 0
}

// ServerKeys decodes the server keys.
func (m *Mixnet) ServerKeys() ([][32]byte, error) {
	keys := make([][32]byte, 0, len(m.Servers))
	for _, s := range m.Servers {
		b, err := hex.DecodeString(s)
		if err != nil || len(b) != 32 {
			return nil, fmt.Errorf("invalid server key %q", s)
		}

		var key [32]byte
		copy(key[:], b)
		keys = append(keys, key)
	}

	return keys, nil
}

// Network returns the slatepack address network.
func (c *Config) Network() address.Network {
	if c.Testnet {
		return address.Testnet
	}

	return address.Mainnet
}

// SeedFile returns the path of the wallet seed.
func (c *Config) SeedFile() string {
	return filepath.Join(c.DataDir, DefaultSeedFilename)
}

// LogFile returns the path of the log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, DefaultLogFilename)
}

// FileLogger returns the options of the rotating log file.
func (c *Config) FileLogger() *build.FileLoggerConfig {
	return &build.FileLoggerConfig{
		Compressor:     c.LogCompressor,
		MaxLogFiles:    c.MaxLogFiles,
		MaxLogFileSize: c.MaxLogFileSize,
	}
}

// NodeClientConfig returns the node client options, reading the API secret
// from its file if one is configured.
func (c *Config) NodeClientConfig() (nodeclient.Config, error) {
	cfg := nodeclient.Config{
		URL:     c.Node.URL,
		Timeout: c.Node.Timeout,
	}
	if c.Node.APISecretFile == "" {
		return cfg, nil
	}

	secret, err := os.ReadFile(c.Node.APISecretFile)
	if err != nil {
		return cfg, fmt.Errorf("unable to read api secret: %w", err)
	}
	cfg.APISecret = strings.TrimSpace(string(secret))

	return cfg, nil
}

// ScannerConfig returns the scanner options. The key ring and account are
// filled in by the wallet.
func (c *Config) ScannerConfig() scanner.Config {
	return scanner.Config{
		GapLimit: c.Scanner.GapLimit,
		PageSize: c.Scanner.PageSize,
		Workers:  c.Scanner.Workers,
	}
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}
