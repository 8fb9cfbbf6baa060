package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pop-os/launcher/internal/protocol"
)

// DescriptorFile is the metadata file expected inside each plugin directory.
const DescriptorFile = "plugin.yaml"

// Descriptor is the static metadata describing one plugin, parsed once at
// startup and immutable thereafter.
type Descriptor struct {
	Name        string
	Description string
	Icon        *protocol.IconSource
	Exec        string
	Query       QueryPolicy
}

// QueryPolicy is the descriptor's routing policy, consulted once per search.
type QueryPolicy struct {
	// Isolate makes the plugin the only one consulted when the query
	// matches.
	Isolate *regexp.Regexp
	// Persistent plugins are also consulted on empty queries.
	Persistent bool
	// NoSort results bypass ranking and keep plugin emission order.
	NoSort bool
	// Regex gates the plugin: the query must match to reach it.
	Regex *regexp.Regexp
}

type descriptorFile struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Icon        *struct {
		Name string `yaml:"name"`
		Mime string `yaml:"mime"`
	} `yaml:"icon"`
	Bin struct {
		Path string `yaml:"path"`
	} `yaml:"bin"`
	Query struct {
		Isolate    string `yaml:"isolate"`
		Persistent bool   `yaml:"persistent"`
		NoSort     bool   `yaml:"no_sort"`
		Regex      string `yaml:"regex"`
	} `yaml:"query"`
}

// LoadDescriptor parses the descriptor file of the plugin directory at
// source. The executable path is resolved relative to source. Regexes are
// compiled here, once, so selection never recompiles them.
func LoadDescriptor(source string) (*Descriptor, error) {
	path := filepath.Join(source, DescriptorFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var file descriptorFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if strings.TrimSpace(file.Name) == "" {
		return nil, fmt.Errorf("%s: missing name", path)
	}
	if strings.TrimSpace(file.Bin.Path) == "" {
		return nil, fmt.Errorf("%s: missing bin.path", path)
	}

	desc := &Descriptor{
		Name:        file.Name,
		Description: file.Description,
		Exec:        file.Bin.Path,
	}
	if !filepath.IsAbs(desc.Exec) {
		desc.Exec = filepath.Join(source, desc.Exec)
	}

	if file.Icon != nil {
		if file.Icon.Mime != "" {
			desc.Icon = &protocol.IconSource{Mime: file.Icon.Mime}
		} else if file.Icon.Name != "" {
			desc.Icon = &protocol.IconSource{Name: file.Icon.Name}
		}
	}

	if expr := file.Query.Isolate; expr != "" {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%s: isolate: %w", path, err)
		}
		desc.Query.Isolate = re
	}
	if expr := file.Query.Regex; expr != "" {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%s: regex: %w", path, err)
		}
		desc.Query.Regex = re
	}
	desc.Query.Persistent = file.Query.Persistent
	desc.Query.NoSort = file.Query.NoSort

	return desc, nil
}
