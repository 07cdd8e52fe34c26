package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExternalServer is the declarative record for one external capability
// server (filesystem, MongoDB, email, ...), loaded from a static YAML
// manifest rather than discovered by importing arbitrary modules.
type ExternalServer struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// LoadExternalServers reads a YAML manifest of external servers. A missing
// file is not an error: it simply means no external tools are configured.
func LoadExternalServers(path string) ([]ExternalServer, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read external servers manifest %q: %w", path, err)
	}

	var doc struct {
		Servers []ExternalServer `yaml:"servers"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: decode external servers manifest %q: %w", path, err)
	}
	for _, s := range doc.Servers {
		if s.Name == "" || s.URL == "" {
			return nil, fmt.Errorf("config: external server entry missing name or url in %q", path)
		}
	}
	return doc.Servers, nil
}
