// Package registry discovers plugin descriptors on disk at startup and
// answers the per-query routing policy: which plugins a search reaches.
package registry

import (
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
)

// Plugin search paths, highest priority first. User plugins shadow
// identically named system and distribution plugins.
const (
	localPlugins        = ".local/share/pop-launcher/plugins"
	systemPlugins       = "/etc/pop-launcher/plugins"
	distributionPlugins = "/usr/lib/pop-launcher/plugins"
)

// DefaultPaths returns the layered plugin search path.
func DefaultPaths() []string {
	paths := make([]string, 0, 3)
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, localPlugins))
	}
	return append(paths, systemPlugins, distributionPlugins)
}

// Registry is the frozen catalog of plugins found at startup. Plugin ids
// are indices into the load-ordered catalog and stay valid for the process
// lifetime.
type Registry struct {
	plugins []*Descriptor
	log     hclog.Logger
}

// Load walks the search paths in priority order and parses every plugin
// directory containing a descriptor file. Malformed descriptors are logged
// and skipped. A plugin directory name seen in an earlier path shadows the
// same name in later paths.
func Load(log hclog.Logger, paths ...string) *Registry {
	reg := &Registry{log: log}
	seen := make(map[string]string)

	for _, path := range paths {
		entries, err := os.ReadDir(path)
		if err != nil {
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			source := filepath.Join(path, entry.Name())
			if _, err := os.Stat(filepath.Join(source, DescriptorFile)); err != nil {
				continue
			}

			if shadowed, ok := seen[entry.Name()]; ok {
				log.Debug("plugin shadowed", "name", entry.Name(), "by", shadowed)
				continue
			}

			desc, err := LoadDescriptor(source)
			if err != nil {
				log.Error("skipping plugin", "source", source, "error", err)
				continue
			}

			seen[entry.Name()] = source
			reg.plugins = append(reg.plugins, desc)
			log.Info("found plugin", "name", desc.Name, "exec", desc.Exec)
		}
	}

	return reg
}

// Plugins returns the catalog in load order.
func (r *Registry) Plugins() []*Descriptor {
	return r.plugins
}

// Get returns the descriptor for a plugin id.
func (r *Registry) Get(id int) *Descriptor {
	if id < 0 || id >= len(r.plugins) {
		return nil
	}
	return r.plugins[id]
}

// Select computes the set of plugin ids a query fans out to, in load order.
// skip removes plugins from consideration before any policy is applied.
//
// Policy: a plugin with a regex gate is dropped unless the query matches.
// If any remaining plugin's isolate pattern matches, the earliest such
// plugin is selected exclusively. An empty query is restricted to
// persistent plugins.
func (r *Registry) Select(query string, skip map[int]struct{}) []int {
	persistenceRequired := query == ""

	var selected []int
	for id, plugin := range r.plugins {
		if _, ok := skip[id]; ok {
			continue
		}

		if re := plugin.Query.Regex; re != nil && !re.MatchString(query) {
			continue
		}

		if persistenceRequired && !plugin.Query.Persistent {
			continue
		}

		if re := plugin.Query.Isolate; re != nil && re.MatchString(query) {
			return []int{id}
		}

		selected = append(selected, id)
	}

	return selected
}
