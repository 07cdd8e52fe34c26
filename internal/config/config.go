// Package config discovers AgentConfig records from an agent-folder
// directory tree and topologically orders them so that every agent's
// agent-typed tools are instantiated before the agent itself.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// AgentConfig is the declarative record for one agent, loaded from
// <agents_root>/<AgentFolder>/config.json. Unknown JSON keys are tolerated
// and ignored.
type AgentConfig struct {
	Name               string   `json:"name"`
	PromptFile         string   `json:"prompt_file"`
	ReturnType         string   `json:"return_type"`
	InputsDescription  string   `json:"inputs_description"`
	Tools              []string `json:"tools"`
	Model              string   `json:"model,omitempty"`
	StrategyName       string   `json:"strategy_name,omitempty"`
	folder             string
}

// Folder returns the resolved folder path this config was loaded from.
func (c AgentConfig) Folder() string { return c.folder }

// ErrCyclicDependency is returned by TopoSort when the agent-typed tool
// graph contains a cycle. Use errors.Is to detect it; the error message
// names the offending node.
var ErrCyclicDependency = errors.New("config: cyclic agent tool dependency")

// Discover reads every immediate subfolder of root that contains a
// config.json, decodes it into an AgentConfig, validates required fields,
// and attaches the folder path. Configuration errors (bad JSON, missing
// required fields) are returned immediately and should abort startup.
func Discover(root string) (map[string]AgentConfig, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("config: read agents root %q: %w", root, err)
	}

	configs := make(map[string]AgentConfig)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		folder := filepath.Join(root, entry.Name())
		cfgPath := filepath.Join(folder, "config.json")
		raw, err := os.ReadFile(cfgPath)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", cfgPath, err)
		}

		var cfg AgentConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %q: %w", cfgPath, err)
		}
		if err := validate(cfg, cfgPath); err != nil {
			return nil, err
		}
		if cfg.StrategyName == "" {
			cfg.StrategyName = "default"
		}
		cfg.folder = folder
		configs[cfg.Name] = cfg
	}
	return configs, nil
}

func validate(cfg AgentConfig, path string) error {
	switch {
	case cfg.Name == "":
		return fmt.Errorf("config: %q missing required field %q", path, "name")
	case cfg.PromptFile == "":
		return fmt.Errorf("config: %q missing required field %q", path, "prompt_file")
	case cfg.ReturnType == "":
		return fmt.Errorf("config: %q missing required field %q", path, "return_type")
	}
	return nil
}

// TopoSort returns an ordering of configs' names such that, for every
// AgentConfig whose tools list names another config, the dependency
// (tool) is ordered before the dependent. Tool names that resolve to
// external capability servers (not present in configs) are ignored for
// sorting purposes. For an acyclic input, TopoSort always terminates with a
// permutation of the input names; for a cyclic input it returns
// ErrCyclicDependency wrapping the node where the back edge was found.
func TopoSort(configs map[string]AgentConfig) ([]string, error) {
	// edges[dep] = []dependent, mirroring the original's dep -> dependent graph.
	edges := make(map[string][]string)
	names := make([]string, 0, len(configs))
	for name, cfg := range configs {
		names = append(names, name)
		for _, dep := range cfg.Tools {
			if _, isAgent := configs[dep]; isAgent {
				edges[dep] = append(edges[dep], name)
			}
		}
	}
	// Deterministic iteration order keeps output stable across runs.
	sort.Strings(names)
	for _, deps := range edges {
		sort.Strings(deps)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(names))
	order := make([]string, 0, len(names))

	var dfs func(node string) error
	dfs = func(node string) error {
		switch color[node] {
		case gray:
			return fmt.Errorf("%w: at %s", ErrCyclicDependency, node)
		case black:
			return nil
		}
		color[node] = gray
		for _, next := range edges[node] {
			if err := dfs(next); err != nil {
				return err
			}
		}
		color[node] = black
		order = append(order, node)
		return nil
	}

	for _, name := range names {
		if err := dfs(name); err != nil {
			return nil, err
		}
	}

	reverse(order)
	return order, nil
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
