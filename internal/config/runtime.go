package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Runtime holds the process-wide settings that are not per-agent: worker
// pool size and the two listening addresses. Defaults match the original
// implementation's hardcoded constants; a runtime.yaml file overrides them,
// and environment variables override the file in turn (checked by callers
// after LoadRuntime returns, mirroring the original's os.getenv fallback for
// MAIN_MCP_PORT).
type Runtime struct {
	NumWorkers    int    `yaml:"num_workers"`
	AdminHTTPAddr string `yaml:"admin_http_addr"`
	MainMCPPort   int    `yaml:"main_mcp_port"`
	ModelProvider string `yaml:"model_provider"`
	MaxTokens     int    `yaml:"max_tokens"`
}

// DefaultRuntime returns the original's hardcoded defaults. ModelProvider
// defaults to "stub" so a checkout with no API key configured still runs;
// runtime.yaml or the -provider flag select a real LLM-provider runner.
func DefaultRuntime() Runtime {
	return Runtime{
		NumWorkers:    4,
		AdminHTTPAddr: "127.0.0.1:9000",
		MainMCPPort:   22222,
		ModelProvider: "stub",
		MaxTokens:     4096,
	}
}

// LoadRuntime reads a YAML runtime-settings file, starting from
// DefaultRuntime and overriding only the fields present in the file. A
// missing file is not an error: the defaults apply unchanged.
func LoadRuntime(path string) (Runtime, error) {
	cfg := DefaultRuntime()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Runtime{}, fmt.Errorf("config: read runtime settings %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Runtime{}, fmt.Errorf("config: decode runtime settings %q: %w", path, err)
	}
	if cfg.NumWorkers <= 0 {
		return Runtime{}, fmt.Errorf("config: runtime settings %q: num_workers must be positive", path)
	}
	return cfg, nil
}
