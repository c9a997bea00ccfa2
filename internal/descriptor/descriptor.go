// Package descriptor reads operation descriptors from YAML, JSON or CUE
// files.
//
// All three formats share one shape:
//
//	principal: u1
//	resource:  s9
//	action:    pay
//	payload:   {amount: 1000}
//	window:    30m     # optional
package descriptor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/idem/internal/key"
)

// Format identifies a descriptor encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCUE  Format = "cue"
)

// File is the serialized form of a key.Descriptor.
type File struct {
	Principal string `json:"principal" yaml:"principal"`
	Resource  string `json:"resource" yaml:"resource"`
	Action    string `json:"action" yaml:"action"`
	Payload   any    `json:"payload,omitempty" yaml:"payload,omitempty"`
	Window    string `json:"window,omitempty" yaml:"window,omitempty"`
}

// Descriptor converts f, parsing Window as a Go duration.
func (f File) Descriptor() (key.Descriptor, error) {
	d := key.Descriptor{
		Principal: f.Principal,
		Resource:  f.Resource,
		Action:    f.Action,
		Payload:   f.Payload,
	}
	if f.Window != "" {
		w, err := time.ParseDuration(f.Window)
		if err != nil {
			return key.Descriptor{}, fmt.Errorf("%w: window %q: %v", key.ErrInvalidDescriptor, f.Window, err)
		}
		d.Window = w
	}
	return d, nil
}

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".cue":
		return FormatCUE, nil
	}
	return "", fmt.Errorf("unsupported descriptor file %s: want .yaml, .yml, .json or .cue", path)
}

// Load reads a descriptor file.
func Load(path string) (key.Descriptor, error) {
	format, err := FormatOf(path)
	if err != nil {
		return key.Descriptor{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return key.Descriptor{}, fmt.Errorf("read descriptor: %w", err)
	}
	f, err := Parse(data, format, path)
	if err != nil {
		return key.Descriptor{}, err
	}
	return f.Descriptor()
}

// Parse decodes data in the given format. name labels CUE error positions.
func Parse(data []byte, format Format, name string) (File, error) {
	switch format {
	case FormatYAML:
		var f File
		if err := yaml.Unmarshal(data, &f); err != nil {
			return File{}, fmt.Errorf("parse yaml descriptor: %w", err)
		}
		return f, nil
	case FormatJSON:
		return parseJSON(data)
	case FormatCUE:
		ctx := cuecontext.New()
		v := ctx.CompileBytes(data, cue.Filename(name))
		if err := v.Err(); err != nil {
			return File{}, fmt.Errorf("compile cue descriptor: %w", err)
		}
		if err := v.Validate(cue.Concrete(true)); err != nil {
			return File{}, fmt.Errorf("cue descriptor is not concrete: %w", err)
		}
		exported, err := v.MarshalJSON()
		if err != nil {
			return File{}, fmt.Errorf("export cue descriptor: %w", err)
		}
		return parseJSON(exported)
	}
	return File{}, fmt.Errorf("unknown descriptor format %q", format)
}

// parseJSON decodes with UseNumber so large integers keep their digits.
func parseJSON(data []byte) (File, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	var f File
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("parse json descriptor: %w", err)
	}
	return f, nil
}
