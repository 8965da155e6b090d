package cli

import (
	"github.com/pendergraft/codeproof/internal/explorer"
)

// Environment variables shared with the server.
const (
	envRPCURL      = "ETH_RPC_URL"
	envExplorerURL = "ETHERSCAN_API_URL"
	envExplorerKey = "ETHERSCAN_API_KEY"
	envRoot        = "FOUNDRY_ROOT"
	envEVMVersion  = "DEFAULT_EVM_VERSION"
)

// settingsFlags are the command line values that override config files.
type settingsFlags struct {
	RPCURL      string
	ExplorerURL string
	ExplorerKey string
	Root        string
	Forge       string
	EVMVersion  string
}

// settings are the resolved options of a local verification.
type settings struct {
	RPCURL        string
	ExplorerURL   string
	ExplorerKey   string
	Root          string
	Forge         string
	EVMVersion    string
	ArtifactCache string
}

// loadSettings merges flags, environment, codeproof.toml and
// ~/.codeproof/config.yaml.
func loadSettings(f settingsFlags) settings {
	project := &ProjectConfig{}
	if cfg := loadProjectConfigSilent(); cfg != nil {
		project = cfg
	}
	global := &GlobalConfig{}
	if cfg := loadGlobalConfigSilent(); cfg != nil {
		global = cfg
	}

	return settings{
		RPCURL:        resolveSetting(f.RPCURL, envRPCURL, project.RPCURL, "", ""),
		ExplorerURL:   resolveSetting(f.ExplorerURL, envExplorerURL, project.EtherscanURL, "", explorer.DefaultBaseURL),
		ExplorerKey:   resolveSetting(f.ExplorerKey, envExplorerKey, project.EtherscanKey, global.EtherscanKey, ""),
		Root:          resolveSetting(f.Root, envRoot, project.Root, "", "."),
		Forge:         resolveSetting(f.Forge, "", project.Forge, "", ""),
		EVMVersion:    resolveSetting(f.EVMVersion, envEVMVersion, project.EVMVersion, "", ""),
		ArtifactCache: project.ArtifactCache,
	}
}
