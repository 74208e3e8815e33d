package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/j45k4/puppynet/internal/auth"
	"github.com/j45k4/puppynet/internal/blob"
	"github.com/j45k4/puppynet/internal/catalog"
	"github.com/j45k4/puppynet/internal/config"
	"github.com/j45k4/puppynet/internal/dispatcher"
	"github.com/j45k4/puppynet/internal/facade"
	"github.com/j45k4/puppynet/internal/httpapi"
	"github.com/j45k4/puppynet/internal/identity"
	"github.com/j45k4/puppynet/internal/metrics"
	"github.com/j45k4/puppynet/internal/swarm"
	"github.com/j45k4/puppynet/internal/updater"
)

// runDaemon bootstraps and runs the node loop: config, identity, catalog,
// blob store, swarm host and dispatcher, in the same order (and for the
// same reasons) the teacher's musclefs.go main() assembles its own
// storage chain before serving. Do NOT turn on agent.ShutdownCleanup:
// its own signal handler calls os.Exit, which would race the handler
// below that cancels the node loop's context for a clean shutdown.
func runDaemon() {
	if err := agent.Listen(agent.Options{}); err != nil {
		log.Warnf("Could not start gops agent: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	cfg, err := config.Load(globalContext.base)
	if err != nil {
		log.Fatalf("Could not load config from %q: %v", globalContext.base, err)
	}
	if daemonContext.bind != "" {
		cfg.ListenAddr = daemonContext.bind
	}
	if daemonContext.http != "" {
		cfg.HTTPAddr = daemonContext.http
	}
	for _, p := range daemonContext.reads {
		cfg.SharedFolders = append(cfg.SharedFolders, config.SharedFolder{Path: p, Read: true})
	}
	for _, p := range daemonContext.write {
		cfg.SharedFolders = append(cfg.SharedFolders, config.SharedFolder{Path: p, Read: true, Write: true})
	}
	if cfg.JWTSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			log.Fatalf("Could not generate an ephemeral JWT secret: %v", err)
		}
		cfg.JWTSecret = hex.EncodeToString(b)
		log.Warn("No JWT secret configured; using an ephemeral one, sessions will not survive a restart")
	}

	id, err := identity.Load(cfg.KeypairPath)
	if err != nil {
		log.Fatalf("Could not load keypair at %q: %v", cfg.KeypairPath, err)
	}
	log.WithField("peer", id.Peer.String()).Info("Loaded node identity")

	store, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Could not open catalog at %q: %v", cfg.CatalogPath, err)
	}
	defer store.Close()

	hostname, _ := os.Hostname()
	if err := store.UpsertLocalNode(catalog.Node{
		NodeID:   id.NodeID.String(),
		Hostname: hostname,
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		LastSeen: time.Now(),
	}); err != nil {
		log.Fatalf("Could not persist local node: %v", err)
	}

	blobStore, err := blob.New(blob.Config{
		CacheDir:    cfg.CacheDirectoryPath(),
		MirrorTier:  cfg.MirrorTier,
		S3Region:    cfg.S3Region,
		S3Bucket:    cfg.S3Bucket,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
	}, cfg.PropagationLogFilePath())
	if err != nil {
		log.Fatalf("Could not build content mirror: %v", err)
	}

	host, err := swarm.New(id.Priv, listenAddr(cfg))
	if err != nil {
		log.Fatalf("Could not start swarm host: %v", err)
	}
	defer host.Close()
	host.StartDiscovery(daemonContext.peer)

	sharedFolders, err := sharedFolderPermissions(cfg.SharedFolders)
	if err != nil {
		log.Fatalf("Could not validate shared-folder configuration: %v", err)
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	d := dispatcher.New(dispatcher.Config{
		Store:         store,
		GrantedByMe:   auth.NewPeerPermissions(),
		GrantedToMe:   auth.NewPeerPermissions(),
		SharedFolders: sharedFolders,
		Blob:          blobStore,
		Swarm:         host,
		SelfPeerID:    id.Peer.String(),
		JWTSecret:     []byte(cfg.JWTSecret),
		UpdaterConfig: updater.Config{
			ReleasesBaseURL: releasesBaseURL,
			CurrentVersion:  currentVersionAsUint32(),
			BaseDir:         cfg.UpdateBaseDirectoryPath(),
			PublicKeyPEM:    updatePublicKeyPEM,
			HTTPClient:      http.DefaultClient,
		},
	})
	if err := d.LoadPermissions(); err != nil {
		log.Fatalf("Could not load persisted permissions: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := <-sigc
		log.WithField("signal", sig).Info("Received signal, shutting down")
		cancel()
	}()

	if cfg.HTTPAddr != "" {
		srv := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: httpapi.NewRouter(facade.New(d), store, []byte(cfg.JWTSecret)),
		}
		go func() {
			log.WithField("addr", cfg.HTTPAddr).Info("Serving HTTP JSON façade")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("HTTP façade stopped: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
	}

	log.WithFields(log.Fields{
		"peer":  id.Peer.String(),
		"addrs": host.Addrs(),
	}).Info("puppynetd node loop starting")
	d.Run(ctx)
}

// listenAddr builds a TCP libp2p multiaddr string from the config's
// listen address (ListenNet is not consulted), defaulting to an
// ephemeral TCP port on every interface.
func listenAddr(cfg *config.C) string {
	if cfg.ListenAddr == "" {
		return "/ip4/0.0.0.0/tcp/0"
	}
	host, port, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return cfg.ListenAddr
	}
	if host == "" || host == "0.0.0.0" {
		host = "0.0.0.0"
	}
	return "/ip4/" + host + "/tcp/" + port
}

// sharedFolderPermissions canonicalizes and validates every configured
// shared folder up front, at daemon startup, so a typo in the config
// file fails fast instead of silently never matching (§3: Config.
// SharedFolders is carried on dispatcher.Config for this validation and
// for a future policy change scoping the owner self-bypass to named
// folders, per DESIGN.md).
func sharedFolderPermissions(folders []config.SharedFolder) ([]auth.Permission, error) {
	perms := make([]auth.Permission, 0, len(folders))
	for _, f := range folders {
		canonical, err := auth.Canonicalize(f.Path)
		if err != nil {
			return nil, err
		}
		flags := auth.Search
		if f.Read {
			flags |= auth.Read
		}
		if f.Write {
			flags |= auth.Write
		}
		perm, err := auth.NewFolder(canonical, flags)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
		log.WithFields(log.Fields{"path": canonical, "flags": flags.String()}).Info("Registered shared folder")
	}
	return perms, nil
}
