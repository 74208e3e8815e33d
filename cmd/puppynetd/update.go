package main

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/j45k4/puppynet/internal/config"
	"github.com/j45k4/puppynet/internal/updater"
)

// updatePublicKeyPEM is the RSA public key self-update archives are
// signed against (§4.6, §6). A placeholder key ships in this tree;
// operators building their own release pipeline replace releasePublicKeyPEM.
var updatePublicKeyPEM = []byte(releasePublicKeyPEM)

func runUpdate() {
	cfg, err := config.Load(globalContext.base)
	if err != nil {
		log.Fatalf("Could not load config from %q: %v", globalContext.base, err)
	}

	events := updater.Run(updater.Config{
		ReleasesBaseURL: releasesBaseURL,
		CurrentVersion:  currentVersionAsUint32(),
		Version:         updateContext.version,
		BaseDir:         cfg.UpdateBaseDirectoryPath(),
		PublicKeyPEM:    updatePublicKeyPEM,
		HTTPClient:      http.DefaultClient,
	})
	for ev := range events {
		fields := log.Fields{"stage": ev.Stage}
		if ev.Filename != "" {
			fields["filename"] = ev.Filename
		}
		if ev.Version != "" {
			fields["version"] = ev.Version
		}
		if ev.Error != "" {
			fields["error"] = ev.Error
		}
		log.WithFields(fields).Info("update progress")
		if ev.Stage == updater.StageFailed {
			log.Fatalf("Update failed: %s", ev.Error)
		}
	}
}
