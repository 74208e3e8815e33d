package dispatcher

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/j45k4/puppynet/internal/auth"
	"github.com/j45k4/puppynet/internal/catalog"
	"github.com/j45k4/puppynet/internal/swarm"
	"github.com/j45k4/puppynet/internal/wire"
)

// handleSwarmEvent implements §4.5 "Swarm event handling".
func (d *Dispatcher) handleSwarmEvent(ctx context.Context, ev swarm.Event) {
	switch {
	case ev.IncomingRequest != nil:
		d.handleIncomingRequest(ctx, ev.IncomingRequest)
	case ev.ConnectionEstablished != nil:
		d.handleConnectionEstablished(ev.ConnectionEstablished)
	case ev.ConnectionClosed != nil:
		// In-memory only (§3 Connection type); the node loop is the
		// single owner and there is no persisted table to clean up.
	case ev.Discovered != nil:
		d.handleDiscovered(ev.Discovered)
	case ev.Expired != nil:
		// Expired peers are left in discovered_peers for warm reconnect
		// (§3 DiscoveredPeer: "ephemeral but persisted"); nothing to do.
	}
}

func (d *Dispatcher) handleIncomingRequest(ctx context.Context, in *swarm.IncomingRequest) {
	peerKey := auth.PeerKey(in.From.String())
	origin := streamOrigin{local: false, remotePeer: in.From}

	if in.Req.Kind == "get_thumbnail" {
		// §9 "blocking vs async": never resize images from the node
		// loop itself, which is where this case is dispatched from.
		go func() {
			d.replyIncoming(ctx, in, peerKey, origin)
		}()
		return
	}
	d.replyIncoming(ctx, in, peerKey, origin)
}

func (d *Dispatcher) replyIncoming(ctx context.Context, in *swarm.IncomingRequest, peerKey auth.PeerKey, origin streamOrigin) {
	res := func() (res wire.Res) {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Error("Panic handling incoming request")
				res = wire.ErrorRes("Internal error")
			}
		}()
		return d.handleLocal(ctx, peerKey, in.Req, origin)
	}()
	if err := in.Reply(res); err != nil {
		log.WithError(err).Warn("Failed to write response to incoming request")
	}
}

func (d *Dispatcher) handleConnectionEstablished(ev *swarm.ConnectionEvent) {
	if err := d.cfg.Store.UpsertDiscoveredPeer(catalog.DiscoveredPeer{
		PeerID:    ev.PeerID.String(),
		Multiaddr: ev.Multiaddr,
		LastSeen:  time.Now(),
	}); err != nil {
		log.WithError(err).Warn("Failed to persist discovered peer on connect")
	}
}

func (d *Dispatcher) handleDiscovered(ev *swarm.DiscoveredPeer) {
	if err := d.cfg.Store.UpsertDiscoveredPeer(catalog.DiscoveredPeer{
		PeerID:    ev.PeerID.String(),
		Multiaddr: ev.Multiaddr,
		LastSeen:  time.Now(),
	}); err != nil {
		log.WithError(err).Warn("Failed to persist discovered peer")
	}
}
