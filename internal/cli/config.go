package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/codeproof/internal/explorer"
)

// projectConfigFile is the project config file looked up in the working directory
const projectConfigFile = "codeproof.toml"

// ProjectConfig is the project-level TOML configuration
type ProjectConfig struct {
	Server       string `toml:"server,omitempty"`
	RPCURL       string `toml:"rpc_url,omitempty"`
	EtherscanURL string `toml:"etherscan_url,omitempty"`
	EtherscanKey string `toml:"etherscan_key,omitempty"`
	// Root is the Foundry project directory
	Root       string `toml:"root,omitempty"`
	Forge      string `toml:"forge,omitempty"`
	EVMVersion string `toml:"evm_version,omitempty"`
	// ArtifactCache is a sqlite database of previously built artifacts
	ArtifactCache string `toml:"artifact_cache,omitempty"`
}

// GlobalConfig is the user configuration stored in ~/.codeproof/config.yaml
type GlobalConfig struct {
	Server       string `yaml:"server,omitempty"`
	EtherscanKey string `yaml:"etherscan_key,omitempty"`
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())
	cmd.AddCommand(createConfigSetKeyCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var rpcURL string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a codeproof.toml configuration file in the current directory.

This file stores project-specific settings like the RPC endpoint,
the block explorer and the Foundry project root.

EXAMPLES:
  # Create config with a local node
  codeproof config init

  # Create config for a specific node
  codeproof config init --rpc-url https://eth-mainnet.example.com

  # Overwrite existing config
  codeproof config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), projectConfigFile, rpcURL, force)
		},
	}

	cmd.Flags().StringVar(&rpcURL, "rpc-url", "http://localhost:8545", "JSON-RPC endpoint")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		Long: `Display the current configuration.

Shows the local project config (codeproof.toml), the global config from
~/.codeproof/config.yaml and the effective settings.

EXAMPLES:
  codeproof config show
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout())
		},
	}

	return cmd
}

func createConfigSetKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-key",
		Short: "Store the block explorer API key",
		Long: `Store the block explorer API key in ~/.codeproof/config.yaml.

The key is read from the terminal without echo, or from stdin when piped.

EXAMPLES:
  codeproof config set-key
  echo $ETHERSCAN_API_KEY | codeproof config set-key
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.ErrOrStderr(), "Enter block explorer API key: ")
			key, err := readSecret(os.Stdin)
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("failed to read API key: %w", err)
			}
			if key == "" {
				return fmt.Errorf("API key cannot be empty")
			}

			cfg, err := loadGlobalConfig()
			if err != nil && !os.IsNotExist(err) {
				return err
			}
			if cfg == nil {
				cfg = &GlobalConfig{}
			}
			cfg.EtherscanKey = key
			if err := writeGlobalConfig(cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Saved API key %s to %s\n", maskAPIKey(key), globalConfigPath())
			return nil
		},
	}

	return cmd
}

func runConfigInit(w io.Writer, configPath, rpcURL string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	content := fmt.Sprintf(`# Codeproof project configuration

rpc_url = "%s"
etherscan_url = "%s"
# etherscan_key is better kept in ETHERSCAN_API_KEY or ~/.codeproof/config.yaml
# etherscan_key = ""

# Foundry project holding out/
root = "."
# forge = "forge"

# EVM version used when the explorer and the compiler default give none
# evm_version = "cancun"

# Keep built artifacts between runs
# artifact_cache = ".codeproof/artifacts.db"

# Server used by --remote and the runs commands
# server = "http://localhost:8080"
`, rpcURL, explorer.DefaultBaseURL)

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(w, "Created %s\n", configPath)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintf(w, "  1. Edit %s to customize settings\n", configPath)
	fmt.Fprintln(w, "  2. Run 'codeproof config set-key' to store your explorer API key")
	fmt.Fprintln(w, "  3. Run 'codeproof verify-bytecode <address> <contract>'")

	return nil
}

func runConfigShow(w io.Writer) error {
	fmt.Fprintln(w, "Configuration sources (in order of precedence):")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "1. Command line flags")
	fmt.Fprintln(w, "   --rpc-url, --etherscan-url, --etherscan-key, --root, --evm-version, --server, --config")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "2. Environment variables")
	for _, name := range []string{envRPCURL, envExplorerURL, envExplorerKey, "CODEPROOF_SERVER"} {
		v := os.Getenv(name)
		switch {
		case v == "":
			v = "(not set)"
		case name == envExplorerKey:
			v = maskAPIKey(v)
		}
		fmt.Fprintf(w, "   %s=%s\n", name, v)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "3. Local project config (%s)\n", projectConfigFile)
	projectConfig, configPath, err := loadProjectConfig()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(w, "   (not found)")
		} else {
			fmt.Fprintf(w, "   Error: %v\n", err)
		}
	} else {
		fmt.Fprintf(w, "   Loaded from: %s\n", configPath)
		printSetting(w, "rpc_url", projectConfig.RPCURL)
		printSetting(w, "etherscan_url", projectConfig.EtherscanURL)
		if projectConfig.EtherscanKey != "" {
			printSetting(w, "etherscan_key", maskAPIKey(projectConfig.EtherscanKey))
		}
		printSetting(w, "root", projectConfig.Root)
		printSetting(w, "forge", projectConfig.Forge)
		printSetting(w, "evm_version", projectConfig.EVMVersion)
		printSetting(w, "artifact_cache", projectConfig.ArtifactCache)
		printSetting(w, "server", projectConfig.Server)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "4. Global config (~/.codeproof/config.yaml)")
	globalConfig, err := loadGlobalConfig()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(w, "   (not found)")
		} else {
			fmt.Fprintf(w, "   Error: %v\n", err)
		}
	} else {
		printSetting(w, "server", globalConfig.Server)
		if globalConfig.EtherscanKey != "" {
			printSetting(w, "etherscan_key", maskAPIKey(globalConfig.EtherscanKey))
		}
	}
	fmt.Fprintln(w)

	s := loadSettings(settingsFlags{})
	fmt.Fprintln(w, "Effective configuration:")
	fmt.Fprintf(w, "   RPC URL:     %s\n", orNotSet(s.RPCURL))
	fmt.Fprintf(w, "   Explorer:    %s\n", s.ExplorerURL)
	if s.ExplorerKey != "" {
		fmt.Fprintf(w, "   API Key:     %s\n", maskAPIKey(s.ExplorerKey))
	} else {
		fmt.Fprintln(w, "   API Key:     (not set)")
	}
	fmt.Fprintf(w, "   Root:        %s\n", s.Root)
	fmt.Fprintf(w, "   EVM version: %s\n", orNotSet(s.EVMVersion))
	fmt.Fprintf(w, "   Server:      %s\n", getServer())

	return nil
}

func printSetting(w io.Writer, name, value string) {
	if value != "" {
		fmt.Fprintf(w, "   %s: %s\n", name, value)
	}
}

func orNotSet(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}

// loadProjectConfig loads the project config from --config or codeproof.toml.
// Returns the config, the path it was loaded from, and an error.
func loadProjectConfig() (*ProjectConfig, string, error) {
	path := projectConfigFile
	if cfgFile != "" {
		path = cfgFile
	}
	config, err := loadProjectConfigFromPath(path)
	if err != nil {
		return nil, path, err
	}
	return config, path, nil
}

// loadProjectConfigFromPath loads a project config from a specific path
func loadProjectConfigFromPath(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config ProjectConfig
	if _, err := toml.Decode(string(data), &config); err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}

	return &config, nil
}

// loadProjectConfigSilent loads the project config without returning errors for missing files.
// Returns nil if the file doesn't exist, but reports parse failures on stderr.
func loadProjectConfigSilent() *ProjectConfig {
	config, _, err := loadProjectConfig()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		fmt.Fprintf(os.Stderr, "Warning: failed to load project config: %v\n", err)
		return nil
	}
	return config
}

// Global config helpers

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codeproof"
	}
	return filepath.Join(home, ".codeproof")
}

func globalConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func loadGlobalConfig() (*GlobalConfig, error) {
	data, err := os.ReadFile(globalConfigPath())
	if err != nil {
		return nil, err
	}

	var cfg GlobalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", globalConfigPath(), err)
	}
	return &cfg, nil
}

func loadGlobalConfigSilent() *GlobalConfig {
	cfg, err := loadGlobalConfig()
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load global config: %v\n", err)
		}
		return nil
	}
	return cfg
}

// writeGlobalConfig stores the config readable only by the user since it
// holds the explorer API key.
func writeGlobalConfig(cfg *GlobalConfig) error {
	if err := os.MkdirAll(configDir(), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(globalConfigPath(), data, 0600)
}

// readSecret reads a line without echo from a terminal, or plainly from a pipe.
func readSecret(f *os.File) (string, error) {
	fd := int(f.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
