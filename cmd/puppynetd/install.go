package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/j45k4/puppynet/internal/config"
	"github.com/j45k4/puppynet/internal/identity"
)

// runInstall writes a fresh config file and generates the node's Ed25519
// keypair up front, mirroring the teacher's "init" subcommand (muscle.go)
// which is also handled outside the config.Load path since it must
// create configuration, not use it.
func runInstall() {
	if err := config.Initialize(globalContext.base); err != nil {
		log.Fatalf("Could not initialize config in %q: %v", globalContext.base, err)
	}
	cfg, err := config.Load(globalContext.base)
	if err != nil {
		log.Fatalf("Could not reload freshly written config from %q: %v", globalContext.base, err)
	}
	if _, err := identity.Load(cfg.KeypairPath); err != nil {
		log.Fatalf("Could not generate keypair at %q: %v", cfg.KeypairPath, err)
	}
	log.WithField("base", globalContext.base).Info("Initialized puppynetd configuration")
}

// runUninstall removes the base directory, undoing runInstall. Destructive
// by design: the operator invoking this subcommand is the authorization.
func runUninstall() {
	if err := os.RemoveAll(globalContext.base); err != nil {
		log.Fatalf("Could not remove %q: %v", globalContext.base, err)
	}
	log.WithField("base", globalContext.base).Info("Removed puppynetd base directory")
}
