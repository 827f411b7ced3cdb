package chassis

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sslauro/stratum/switchd"
)

// Config is the chassis configuration pushed by the controller or read
// from --chassis-config-file.
type Config struct {
	Description string `yaml:"description"`

	// Nodes are the forwarding nodes. Each node is one ASIC.
	Nodes []NodeConfig `yaml:"nodes"`

	// SingletonPorts are the front-panel ports to bring up.
	SingletonPorts []PortConfig `yaml:"singleton_ports"`
}

// NodeConfig identifies a node by its controller-visible id.
type NodeConfig struct {
	ID   uint64 `yaml:"id"`
	Name string `yaml:"name"`
	Slot int    `yaml:"slot"`
}

// PortConfig is a singleton port.
type PortConfig struct {
	ID   uint32 `yaml:"id"`
	Name string `yaml:"name"`
	// Node is the id of the node owning the port.
	Node uint64 `yaml:"node"`
	// Port is the device port on the node's ASIC.
	Port  uint32 `yaml:"port"`
	Speed Speed  `yaml:"speed"`
}

// Speed is a port speed written as "10G", "25G", "40G" or "100G".
type Speed switchd.PortSpeed

var speedNames = map[string]switchd.PortSpeed{
	"10G":  switchd.Speed10G,
	"25G":  switchd.Speed25G,
	"40G":  switchd.Speed40G,
	"100G": switchd.Speed100G,
}

// UnmarshalYAML accepts the speed names above.
func (s *Speed) UnmarshalYAML(value *yaml.Node) error {
	v, ok := speedNames[strings.ToUpper(value.Value)]
	if !ok {
		return fmt.Errorf("line %d: unknown port speed %q", value.Line, value.Value)
	}
	*s = Speed(v)
	return nil
}

// MarshalYAML writes the speed name.
func (s Speed) MarshalYAML() (any, error) {
	for name, v := range speedNames {
		if v == switchd.PortSpeed(s) {
			return name, nil
		}
	}
	return nil, fmt.Errorf("unknown port speed %d", uint64(s))
}

// ParseConfig decodes a YAML chassis config. Unknown fields are errors.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse chassis config: %w", err)
	}
	return &cfg, nil
}

// LoadConfig reads a YAML chassis config from path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chassis config: %w", err)
	}
	return ParseConfig(data)
}

// Marshal encodes cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks the config on its own, without regard to the units
// managed by this agent.
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("at least one node is required")
	}
	nodes := make(map[uint64]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.ID == 0 {
			return fmt.Errorf("node %q: id is required", n.Name)
		}
		if nodes[n.ID] {
			return fmt.Errorf("node %d: duplicate id", n.ID)
		}
		nodes[n.ID] = true
	}

	ports := make(map[uint32]bool, len(c.SingletonPorts))
	type devPort struct {
		node uint64
		port uint32
	}
	devPorts := make(map[devPort]bool, len(c.SingletonPorts))
	for _, p := range c.SingletonPorts {
		if p.ID == 0 {
			return fmt.Errorf("port %q: id is required", p.Name)
		}
		if ports[p.ID] {
			return fmt.Errorf("port %d: duplicate id", p.ID)
		}
		ports[p.ID] = true
		if !nodes[p.Node] {
			return fmt.Errorf("port %d: unknown node %d", p.ID, p.Node)
		}
		k := devPort{p.Node, p.Port}
		if devPorts[k] {
			return fmt.Errorf("port %d: device port %d on node %d used twice", p.ID, p.Port, p.Node)
		}
		devPorts[k] = true
		if p.Speed == 0 {
			return fmt.Errorf("port %d: speed is required", p.ID)
		}
	}
	return nil
}
