package journalprune

import "github.com/bft-labs/meshrelay/pkg/meshrelay"

// WithJournalPrune returns a meshrelay Option that trims the journal set
// with meshrelay.WithJournal.
//
// Usage:
//
//	r, err := meshrelay.New(cfg,
//	    meshrelay.WithJournal(journal),
//	    journalprune.WithJournalPrune(journalprune.Config{
//	        HighWatermark: 5000,
//	        LowWatermark:  4000,
//	    }),
//	)
func WithJournalPrune(cfg Config) meshrelay.Option {
	return meshrelay.WithPlugin(New(cfg))
}

// WithDefaultJournalPrune enables pruning with default settings
// (check every 6h, prune above 10000 rows down to 8000).
func WithDefaultJournalPrune() meshrelay.Option {
	return WithJournalPrune(DefaultConfig())
}
