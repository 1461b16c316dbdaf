// Package presets provides named configurations that replace the defaults.
package presets

import (
	"fmt"
	"maps"
	"slices"

	"github.com/peerpull/go-peerpull/config"
)

var presets = map[string]config.Config{}

func register(name string, conf config.Config) {
	if _, exists := presets[name]; exists {
		panic(fmt.Sprintf("preset %s registered twice", name))
	}
	presets[name] = conf
}

// Options returns the names of all registered presets.
func Options() []string {
	return slices.Sorted(maps.Keys(presets))
}

// Get returns the preset with the given name.
func Get(name string) (config.Config, error) {
	conf, ok := presets[name]
	if !ok {
		return config.Config{}, fmt.Errorf("unknown preset %q, options: %v", name, Options())
	}
	// decoding a config file into the result must not leak into the preset
	conf.Logging.Modules = maps.Clone(conf.Logging.Modules)
	conf.Pool.Concurrency = maps.Clone(conf.Pool.Concurrency)
	conf.Replication.Lifespans = maps.Clone(conf.Replication.Lifespans)
	conf.Subscriptions = slices.Clone(conf.Subscriptions)
	return conf, nil
}
