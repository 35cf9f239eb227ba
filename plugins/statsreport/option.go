package statsreport

import "github.com/bft-labs/meshrelay/pkg/meshrelay"

// WithStatsReport returns a meshrelay Option that logs relay counters
// periodically.
//
// Usage:
//
//	r, err := meshrelay.New(cfg,
//	    statsreport.WithStatsReport(statsreport.Config{
//	        Interval: time.Minute,
//	    }),
//	)
func WithStatsReport(cfg Config) meshrelay.Option {
	return meshrelay.WithPlugin(New(cfg))
}

// WithDefaultStatsReport logs every 5 minutes, skipping idle periods.
func WithDefaultStatsReport() meshrelay.Option {
	return WithStatsReport(DefaultConfig())
}
