package profile

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/efficientgo/core/errors"
	toml "github.com/pelletier/go-toml"
	yaml "gopkg.in/yaml.v3"
)

// Format is a profile file encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ParseFormat normalizes a format name or file extension.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	default:
		return "", errors.Newf("unsupported profile format %q", name)
	}
}

// Ext returns the file extension for f, with the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// Decode parses data in format f, fills defaults and validates the result.
func Decode(data []byte, f Format) (*Profile, error) {
	p := &Profile{}
	var err error
	switch f {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(p)
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(p)
	case FormatTOML:
		err = toml.Unmarshal(data, p)
	default:
		return nil, errors.Newf("unsupported profile format %q", f)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s profile", f)
	}
	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Encode writes p in format f.
func Encode(p *Profile, f Format) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch f {
	case FormatJSON:
		data, err = json.MarshalIndent(p, "", "  ")
		data = append(data, '\n')
	case FormatYAML:
		data, err = yaml.Marshal(p)
	case FormatTOML:
		data, err = toml.Marshal(p)
	default:
		return nil, errors.Newf("unsupported profile format %q", f)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s profile", f)
	}
	return data, nil
}

// Load reads a profile, choosing the format from the file extension.
func Load(path string) (*Profile, error) {
	f, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return nil, errors.Wrapf(err, "profile %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read profile %s", path)
	}
	p, err := Decode(data, f)
	if err != nil {
		return nil, errors.Wrapf(err, "profile %s", path)
	}
	return p, nil
}

// WriteTemplate writes the default profile to path in format f. An existing
// file is only replaced when force is set.
func WriteTemplate(path string, f Format, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return errors.Newf("%s exists; use --force to overwrite", path)
		}
	}
	data, err := Encode(Default(), f)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}
