package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v3"
)

// Format is a config file syntax.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks the syntax from the file extension. Unknown extensions are JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// Decode parses b in the given format into a Config. Unknown keys and
// trailing data are errors.
func Decode(format Format, b []byte) (*Config, error) {
	jb, err := toJSON(format, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", format, err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, fmt.Errorf("invalid %s config: trailing data", format)
	}
	return &cfg, nil
}

func toJSON(format Format, b []byte) ([]byte, error) {
	switch format {
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		return marshalNormalized(v)
	case FormatTOML:
		var v map[string]any
		if err := toml.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
		return marshalNormalized(v)
	default:
		return b, nil
	}
}

func marshalNormalized(v any) ([]byte, error) {
	out, err := json.Marshal(normalize(v))
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}
	return out, nil
}

// normalize turns YAML's map[any]any into map[string]any so encoding/json can
// handle it, recursing into nested values.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = normalize(vv)
		}
		return m
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[fmt.Sprint(k)] = normalize(vv)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalize(t[i])
		}
		return out
	default:
		return v
	}
}
