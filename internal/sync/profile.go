package sync

import (
	"time"

	"github.com/haulmark/fieldsync/internal/config"
	"github.com/haulmark/fieldsync/internal/netmon"
)

// Profile is the drain tuning for one connection quality: how often to
// drain, how many concurrent uploads per batch, how long each request may
// take, and how long to pause between batches.
//
// Timeouts scale the other way from intervals: a slow-but-working link needs
// more time per request, not less, or every upload gets misclassified as a
// failure.
type Profile struct {
	Interval    time.Duration
	BatchSize   int
	ItemTimeout time.Duration
	BatchPause  time.Duration
}

// profiles builds the quality map from configuration. Offline has no
// profile; the engine simply does not drain.
func profiles(cfg config.SyncConfig) map[netmon.Quality]Profile {
	return map[netmon.Quality]Profile{
		netmon.Excellent: {
			Interval:    time.Duration(cfg.ExcellentIntervalSec) * time.Second,
			BatchSize:   5,
			ItemTimeout: 10 * time.Second,
		},
		netmon.Good: {
			Interval:    time.Duration(cfg.GoodIntervalSec) * time.Second,
			BatchSize:   3,
			ItemTimeout: 20 * time.Second,
		},
		netmon.Poor: {
			// Strictly serial on a constrained link, with a deliberate
			// pause between batches so the drain doesn't saturate it.
			Interval:    time.Duration(cfg.PoorIntervalSec) * time.Second,
			BatchSize:   1,
			ItemTimeout: 45 * time.Second,
			BatchPause:  time.Duration(cfg.PoorPauseMS) * time.Millisecond,
		},
	}
}
