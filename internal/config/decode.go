package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
)

// Decode parses data strictly: JSON by default, YAML for .yaml/.yml names.
// Unknown keys and a second document are rejected.
func Decode(name string, data []byte) (*Config, error) {
	base := filepath.Base(name)
	if isYAML(name) {
		j, err := yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", base, err)
		}
		data = j
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	cfg := new(Config)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", base, err)
	}
	switch err := dec.Decode(new(json.RawMessage)); {
	case errors.Is(err, io.EOF):
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("%s: after first document: %w", base, err)
	default:
		return nil, fmt.Errorf("%s: unexpected data after first document", base)
	}
}

// fingerprint identifies a config by content so that saves which change
// nothing are not republished.
func fingerprint(cfg *Config) [sha256.Size]byte {
	b, _ := json.Marshal(cfg)
	return sha256.Sum256(b)
}
