package main

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/j45k4/puppynet/internal/catalog"
	"github.com/j45k4/puppynet/internal/config"
	"github.com/j45k4/puppynet/internal/session"
)

func runCreateUser() {
	cfg, err := config.Load(globalContext.base)
	if err != nil {
		log.Fatalf("Could not load config from %q: %v", globalContext.base, err)
	}
	store, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Could not open catalog at %q: %v", cfg.CatalogPath, err)
	}
	defer store.Close()

	hash, err := session.HashPassword(createUserContext.password)
	if err != nil {
		log.Fatalf("Could not hash password: %v", err)
	}
	if err := store.CreateUser(createUserContext.username, hash, time.Now()); err != nil {
		log.Fatalf("Could not create user %q: %v", createUserContext.username, err)
	}
	log.WithField("username", createUserContext.username).Info("Created user")
}
