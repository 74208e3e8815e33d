package main

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/j45k4/puppynet/internal/catalog"
	"github.com/j45k4/puppynet/internal/config"
	"github.com/j45k4/puppynet/internal/identity"
	"github.com/j45k4/puppynet/internal/scan"
)

// runScan performs a single one-shot scan of the given path into the
// local catalog and exits, without starting the swarm or the node loop —
// an operator maintenance path distinct from a daemon-initiated scan.
func runScan() {
	cfg, err := config.Load(globalContext.base)
	if err != nil {
		log.Fatalf("Could not load config from %q: %v", globalContext.base, err)
	}
	id, err := identity.Load(cfg.KeypairPath)
	if err != nil {
		log.Fatalf("Could not load keypair at %q: %v", cfg.KeypairPath, err)
	}
	store, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Could not open catalog at %q: %v", cfg.CatalogPath, err)
	}
	defer store.Close()

	events := scan.Run(context.Background(), store, id.NodeID.String(), scanContext.path, func() bool { return false })
	for ev := range events {
		switch {
		case ev.Progress != nil:
			log.WithFields(log.Fields{
				"processed": ev.Progress.Processed,
				"total":     ev.Progress.Total,
				"inserted":  ev.Progress.Inserted,
				"updated":   ev.Progress.Updated,
				"removed":   ev.Progress.Removed,
			}).Info("scan progress")
		case ev.Result != nil:
			if !ev.Result.OK {
				log.Fatalf("Scan of %q failed: %v", scanContext.path, ev.Result.Err)
			}
			log.WithFields(log.Fields{
				"inserted": ev.Result.Inserted,
				"updated":  ev.Result.Updated,
				"removed":  ev.Result.Removed,
				"duration": ev.Result.Duration,
			}).Info("scan finished")
		}
	}
}
