package configwatcher

import "github.com/bft-labs/meshrelay/pkg/meshrelay"

// WithConfigWatcher returns a meshrelay Option that reloads settings when
// the config file changes. The file path comes from meshrelay.WithConfigPath.
//
// Usage:
//
//	r, err := meshrelay.New(cfg,
//	    meshrelay.WithConfigPath(path),
//	    configwatcher.WithConfigWatcher(configwatcher.Config{
//	        DebounceDelay: 200 * time.Millisecond,
//	    }),
//	)
func WithConfigWatcher(cfg Config) meshrelay.Option {
	return meshrelay.WithPlugin(New(cfg))
}

// WithDefaultConfigWatcher returns a meshrelay Option that enables config
// watching with default settings (debounce 100ms).
func WithDefaultConfigWatcher() meshrelay.Option {
	return WithConfigWatcher(DefaultConfig())
}
