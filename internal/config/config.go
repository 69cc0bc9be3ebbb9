// Package config loads the broker's Config from a JSON or YAML file,
// resolving spec.md §9's "unit drift" note explicitly: operators may
// write *_data ceilings as human-readable byte sizes ("200MB"), but
// the broker always stores and compares raw integer bytes internally.
// Nothing downstream of Load ever converts units again.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/dvid-broker/resourcebroker/internal/wire"
)

// requiredKeys mirrors DEFAULT_CONFIG.keys() in the original broker:
// the file's key set must match exactly, or startup fails (spec.md §6).
var requiredKeys = map[string]struct{}{
	"read_reqs":  {},
	"read_data":  {},
	"write_reqs": {},
	"write_data": {},
}

// Load reads path (.json, .yml, or .yaml) and decodes it into a
// wire.Config. It returns an error wrapping the exact problem
// (unreadable file, wrong key set, or an unparsable value) rather than
// a generic failure, matching the teacher's pkg/errors-wrapped style
// in older packages such as pkg/compose/compose.go.
func Load(path string) (wire.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return wire.Config{}, errors.Wrapf(err, "reading config file %s", path)
	}

	raw := map[string]any{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return wire.Config{}, errors.Wrapf(err, "parsing YAML config %s", path)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return wire.Config{}, errors.Wrapf(err, "parsing JSON config %s", path)
		}
	}

	if err := checkKeySet(raw); err != nil {
		return wire.Config{}, err
	}

	cfg, err := decode(raw)
	if err != nil {
		return wire.Config{}, errors.Wrapf(err, "decoding config %s", path)
	}
	return cfg, nil
}

func checkKeySet(raw map[string]any) error {
	if len(raw) != len(requiredKeys) {
		return fmt.Errorf("config file does not have the expected keys: got %v, want %v", keysOf(raw), keysOf(requiredKeys))
	}
	for k := range raw {
		if _, ok := requiredKeys[k]; !ok {
			return fmt.Errorf("config file does not have the expected keys: unexpected key %q", k)
		}
	}
	return nil
}

func keysOf[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// decode converts the raw map into a wire.Config, accepting either a
// JSON number or a human-readable size string ("200MB", "1.5GB") for
// the *_data fields via github.com/docker/go-units.
func decode(raw map[string]any) (wire.Config, error) {
	for _, field := range []string{"read_data", "write_data"} {
		s, ok := raw[field].(string)
		if !ok {
			continue
		}
		bytes, err := units.FromHumanSize(s)
		if err != nil {
			return wire.Config{}, fmt.Errorf("parsing %s=%q as a byte size: %w", field, s, err)
		}
		raw[field] = int(bytes)
	}

	var cfg wire.Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return wire.Config{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return wire.Config{}, err
	}
	return cfg, nil
}
