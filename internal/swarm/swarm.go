// Package swarm wires the Peer Protocol (§4.4) onto libp2p: one stream
// per request/response pair, LAN mDNS discovery, and connection
// lifecycle notifications delivered as a single Event stream the Command
// Dispatcher multiplexes (§4.5).
package swarm

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/j45k4/puppynet/internal/wire"
)

// ProtocolID identifies the PuppyNet stream protocol on the libp2p host.
const ProtocolID protocol.ID = "/puppynet/1.0.0"

// RequestTimeout bounds how long a single outbound request waits for a
// framed response before the stream is abandoned as a transport failure
// (§7: "Transport failure (outbound) ⇒ waiter fails with 'request
// failed: {cause}'").
const RequestTimeout = 30 * time.Second

// Event is the tagged union the dispatcher's node loop multiplexes
// alongside its command queue (§4.5 "swarm event handling").
type Event struct {
	IncomingRequest       *IncomingRequest
	Discovered            *DiscoveredPeer
	Expired               *ExpiredPeer
	ConnectionEstablished *ConnectionEvent
	ConnectionClosed      *ConnectionEvent
}

// IncomingRequest is a framed PeerReq received on a fresh stream. Reply
// must be called exactly once; the stream is closed afterward.
type IncomingRequest struct {
	From  peer.ID
	Req   wire.Req
	Reply func(wire.Res) error
}

type DiscoveredPeer struct {
	PeerID    peer.ID
	Multiaddr string
}

type ExpiredPeer struct {
	PeerID peer.ID
}

type ConnectionEvent struct {
	PeerID       peer.ID
	ConnectionID string
	Multiaddr    string
}

// Host wraps a libp2p host.Host configured for the PuppyNet protocol.
type Host struct {
	host   host.Host
	events chan Event

	mdnsMu sync.Mutex
	mdns   mdns.Service
}

// New starts a libp2p host listening on listenAddr (e.g.
// "/ip4/0.0.0.0/tcp/0"), using privKey as its identity (§6: "peer
// identity == Ed25519 public key").
func New(privKey libp2pcrypto.PrivKey, listenAddr string) (*Host, error) {
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.Identity(privKey),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create libp2p host")
	}

	sw := &Host{
		host:   h,
		events: make(chan Event, 64),
	}
	h.SetStreamHandler(ProtocolID, sw.handleStream)
	h.Network().Notify(sw.notifiee())
	return sw, nil
}

// StartDiscovery begins LAN mDNS discovery advertising rendezvous
// (§6: "Discovery uses LAN multicast announcements advertising
// (peer_id, multiaddr)"). mDNS failure is logged, not fatal — a node
// with no LAN peers nearby is still a valid standalone node.
func (h *Host) StartDiscovery(rendezvous string) {
	svc := mdns.NewMdnsService(h.host, rendezvous, &discoveryNotifee{host: h})
	if err := svc.Start(); err != nil {
		log.WithError(err).Warn("mDNS discovery failed to start")
		return
	}
	h.mdnsMu.Lock()
	h.mdns = svc
	h.mdnsMu.Unlock()
}

// Events returns the channel of swarm events; the dispatcher's node loop
// selects on it alongside its command queue.
func (h *Host) Events() <-chan Event { return h.events }

// ID returns this host's peer identity.
func (h *Host) ID() peer.ID { return h.host.ID() }

// Addrs returns the multiaddrs this host is listening on.
func (h *Host) Addrs() []string {
	var out []string
	for _, a := range h.host.Addrs() {
		out = append(out, a.String())
	}
	return out
}

// Connect dials a discovered peer's multiaddr so subsequent SendRequest
// calls can open streams to it.
func (h *Host) Connect(ctx context.Context, info peer.AddrInfo) error {
	return h.host.Connect(ctx, info)
}

// Close shuts down the host and any running mDNS service.
func (h *Host) Close() error {
	h.mdnsMu.Lock()
	if h.mdns != nil {
		h.mdns.Close()
	}
	h.mdnsMu.Unlock()
	close(h.events)
	return h.host.Close()
}

// SendRequest opens a fresh stream to target, writes req, and waits for
// the single framed response (§4.4: "every request has exactly one
// response"). Each request gets its own stream; request ids for waiter
// correlation are assigned by the caller (dispatcher), not by this layer.
func (h *Host) SendRequest(ctx context.Context, target peer.ID, req wire.Req) (wire.Res, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	s, err := h.host.NewStream(ctx, target, ProtocolID)
	if err != nil {
		return wire.Res{}, errors.Wrapf(err, "request failed: open stream to %s", target)
	}
	defer s.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(dl)
	}
	if err := wire.WriteReq(s, req); err != nil {
		return wire.Res{}, errors.Wrap(err, "request failed: write request")
	}
	res, err := wire.ReadRes(s)
	if err != nil {
		return wire.Res{}, errors.Wrap(err, "request failed: read response")
	}
	return res, nil
}

// handleStream services one inbound stream: read a request, publish it
// as an Event, and let the dispatcher's reply callback write the
// response and close the stream.
func (h *Host) handleStream(s network.Stream) {
	req, err := wire.ReadReq(s)
	if err != nil {
		log.WithError(err).Warn("Failed to read incoming request frame")
		s.Reset()
		return
	}

	replied := make(chan struct{})
	reply := func(res wire.Res) error {
		defer close(replied)
		defer s.Close()
		return wire.WriteRes(s, res)
	}

	h.events <- Event{IncomingRequest: &IncomingRequest{
		From:  s.Conn().RemotePeer(),
		Req:   req,
		Reply: reply,
	}}

	// Guard against a dispatcher bug that drops the request without
	// replying: never leave a stream open indefinitely (§4.5: "Any
	// internal failure becomes PeerRes::Error('Internal error'); never a
	// dropped channel").
	select {
	case <-replied:
	case <-time.After(RequestTimeout):
		log.Warn("Incoming request was never replied to; resetting stream")
		s.Reset()
	}
}

func (h *Host) notifiee() *network.NotifyBundle {
	return &network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			h.events <- Event{ConnectionEstablished: &ConnectionEvent{
				PeerID:       c.RemotePeer(),
				ConnectionID: c.ID(),
				Multiaddr:    c.RemoteMultiaddr().String(),
			}}
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			h.events <- Event{ConnectionClosed: &ConnectionEvent{
				PeerID:       c.RemotePeer(),
				ConnectionID: c.ID(),
				Multiaddr:    c.RemoteMultiaddr().String(),
			}}
		},
	}
}

// discoveryNotifee bridges libp2p's mdns.Notifee callback into our Event
// stream (grounded on the other pack's discoveryNotifee/HandlePeerFound
// pattern).
type discoveryNotifee struct {
	host *Host
}

func (n *discoveryNotifee) HandlePeerFound(info peer.AddrInfo) {
	addr := ""
	if len(info.Addrs) > 0 {
		addr = info.Addrs[0].String()
	}
	n.host.events <- Event{Discovered: &DiscoveredPeer{
		PeerID:    info.ID,
		Multiaddr: addr,
	}}
}
