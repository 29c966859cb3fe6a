package profile

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/stlgen/stl/stream"
	"github.com/yanet-platform/stlgen/stl/vm"
)

// ErrInvalidProfile is returned for profiles that cannot be turned into
// streams.
var ErrInvalidProfile = errors.New("invalid profile")

// Profile is a set of streams.
type Profile struct {
	Streams []StreamConfig `yaml:"streams"`
}

// StreamConfig describes a stream: its template packet and the
// instructions applied to it.
type StreamConfig struct {
	Name   string              `yaml:"name"`
	Packet PacketConfig        `yaml:"packet"`
	VM     []InstructionConfig `yaml:"vm"`
}

// Load reads a profile from a YAML file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	return Parse(data)
}

// Parse decodes a YAML profile.
func Parse(data []byte) (*Profile, error) {
	profile := &Profile{}

	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("failed to parse YAML profile: %w", err)
	}
	if len(profile.Streams) == 0 {
		return nil, fmt.Errorf("no streams: %w", ErrInvalidProfile)
	}

	return profile, nil
}

// Build creates every stream of the profile.
func (m *Profile) Build(options ...stream.Option) ([]*stream.Stream, error) {
	out := make([]*stream.Stream, 0, len(m.Streams))
	names := map[string]struct{}{}

	for idx := range m.Streams {
		cfg := &m.Streams[idx]
		if cfg.Name == "" {
			cfg.Name = fmt.Sprintf("stream%d", idx)
		}
		if _, ok := names[cfg.Name]; ok {
			return nil, fmt.Errorf("duplicate stream %q: %w", cfg.Name, ErrInvalidProfile)
		}
		names[cfg.Name] = struct{}{}

		s, err := cfg.Build(options...)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}

	return out, nil
}

// Build creates the stream.
func (m *StreamConfig) Build(options ...stream.Option) (*stream.Stream, error) {
	pkt, layout, err := m.Packet.Build()
	if err != nil {
		return nil, fmt.Errorf("stream %q: %v: %w", m.Name, err, ErrInvalidProfile)
	}

	instructions, err := m.Instructions(layout)
	if err != nil {
		return nil, fmt.Errorf("stream %q: %w", m.Name, err)
	}

	return stream.New(m.Name, pkt, instructions, options...)
}

// Instructions converts the instruction list, resolving named packet
// offsets with the given layout.
func (m *StreamConfig) Instructions(layout Layout) ([]vm.Instruction, error) {
	out := make([]vm.Instruction, 0, len(m.VM))

	for idx := range m.VM {
		ins, err := m.VM[idx].instruction(layout)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %v: %w", idx, err, ErrInvalidProfile)
		}
		out = append(out, ins)
	}

	return out, nil
}
