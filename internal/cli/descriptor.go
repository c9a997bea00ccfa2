package cli

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/roach88/idem/internal/descriptor"
	"github.com/roach88/idem/internal/key"
)

// DescriptorFlags identify one logical request on the command line, either
// field by field or through a descriptor file.
type DescriptorFlags struct {
	File      string
	Principal string
	Resource  string
	Action    string
	Payload   string
	Window    string
}

func (f *DescriptorFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.File, "file", "f", "", "descriptor file (.yaml, .json or .cue)")
	fs.StringVar(&f.Principal, "principal", "", "who is acting")
	fs.StringVar(&f.Resource, "resource", "", "entity acted upon")
	fs.StringVar(&f.Action, "action", "", "operation name")
	fs.StringVar(&f.Payload, "payload", "", "operation payload as JSON")
	fs.StringVar(&f.Window, "window", "", "time bucket width for this request (e.g. 30m)")
}

// Descriptor builds the descriptor. Field flags are ignored when --file is set.
func (f *DescriptorFlags) Descriptor() (key.Descriptor, error) {
	if f.File != "" {
		return descriptor.Load(f.File)
	}
	file := descriptor.File{
		Principal: f.Principal,
		Resource:  f.Resource,
		Action:    f.Action,
		Window:    f.Window,
	}
	if f.Payload != "" {
		dec := json.NewDecoder(bytes.NewReader([]byte(f.Payload)))
		dec.UseNumber()
		if err := dec.Decode(&file.Payload); err != nil {
			return key.Descriptor{}, fmt.Errorf("%w: --payload is not valid JSON: %v", key.ErrInvalidDescriptor, err)
		}
	}
	return file.Descriptor()
}
