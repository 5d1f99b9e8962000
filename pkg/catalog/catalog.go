// Package catalog provides lazy-loaded access to the embedded defaults used
// by discovery code that would otherwise hardcode a list of well-known
// servers (STUN, fallback DNS resolvers).
package catalog

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogRawData []byte

type catalogFile struct {
	StunServers        []string `yaml:"stun_servers"`
	DnsFallbackServers []string `yaml:"dns_fallback_servers"`
}

// Catalog exposes the embedded defaults, parsed once on first access.
type Catalog struct {
	once sync.Once
	data catalogFile
	err  error
}

// NewCatalog creates a new Catalog that will parse the embedded YAML on
// first access.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// StunServers returns the default STUN server list in priority order.
func (c *Catalog) StunServers() ([]string, error) {
	c.once.Do(c.load)
	if c.err != nil {
		return nil, c.err
	}
	out := make([]string, len(c.data.StunServers))
	copy(out, c.data.StunServers)
	return out, nil
}

// DnsFallbackServers returns the default "ip:port" resolvers used by the
// TXT-record public-IP fallback tier.
func (c *Catalog) DnsFallbackServers() ([]string, error) {
	c.once.Do(c.load)
	if c.err != nil {
		return nil, c.err
	}
	out := make([]string, len(c.data.DnsFallbackServers))
	copy(out, c.data.DnsFallbackServers)
	return out, nil
}

func (c *Catalog) load() {
	if err := yaml.Unmarshal(catalogRawData, &c.data); err != nil {
		c.err = fmt.Errorf("catalog: parse yaml: %w", err)
	}
}
