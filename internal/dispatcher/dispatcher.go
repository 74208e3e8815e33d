// Package dispatcher implements the Command Dispatcher / Node Loop
// (§4.5): the single task owning the swarm, the catalog handle, the
// pending-waiter map, the local shell session pool, and the scan/update
// stream maps.
package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/j45k4/puppynet/internal/auth"
	"github.com/j45k4/puppynet/internal/blob"
	"github.com/j45k4/puppynet/internal/catalog"
	"github.com/j45k4/puppynet/internal/metrics"
	"github.com/j45k4/puppynet/internal/scan"
	"github.com/j45k4/puppynet/internal/session"
	"github.com/j45k4/puppynet/internal/shellsession"
	"github.com/j45k4/puppynet/internal/swarm"
	"github.com/j45k4/puppynet/internal/updater"
	"github.com/j45k4/puppynet/internal/wire"
)

// Command is what in-process clients (facade, HTTP) push into the node
// loop's unbounded queue (§2 data flow).
type Command struct {
	// Peer is the target peer's hex PeerID, or "" to address the local
	// node — "Commands that refer to a peer test peer == self.me" (§4.5).
	Peer string
	Req  wire.Req

	// Reply receives exactly one Result. Streaming commands (StartScan,
	// UpdateSelf, StartShell) reply immediately with the ack variant;
	// further events arrive on the channel returned by ScanEvents/
	// UpdateEvents, or through ShellPool.
	Reply chan Result
}

// Result is delivered to a Command's Reply channel.
type Result struct {
	Res wire.Res
	Err error
}

// outboundCompletion is how a background goroutine performing a blocking
// swarm.SendRequest reports back to the node loop without the loop ever
// blocking on network I/O itself (§4.5, §5: "the loop itself never
// blocks on a peer response").
type outboundCompletion struct {
	requestID string
	res       wire.Res
	err       error
}

type pendingWaiter struct {
	kind  string
	reply chan Result
}

// Config bundles the collaborators the Node Loop owns.
type Config struct {
	Store          *catalog.Store
	GrantedByMe    *auth.PeerPermissions // permissions this node has granted to peers
	GrantedToMe    *auth.PeerPermissions // mirror: permissions peers have granted this node
	SharedFolders  []auth.Permission
	Blob           blob.Store
	Swarm          *swarm.Host
	SelfPeerID     string
	JWTSecret      []byte
	UpdaterConfig  updater.Config
}

// Dispatcher is the Node Loop.
type Dispatcher struct {
	cfg Config

	commands chan Command
	outbound chan outboundCompletion

	pending     map[string]pendingWaiter
	scanStreams *streamRegistry[scan.Event]
	updStreams  *streamRegistry[updater.Event]
	shells      *shellsession.Pool
}

// New constructs a Dispatcher; call Run to start its loop.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		cfg:         cfg,
		commands:    make(chan Command, 256),
		outbound:    make(chan outboundCompletion, 64),
		pending:     make(map[string]pendingWaiter),
		scanStreams: newStreamRegistry[scan.Event](),
		updStreams:  newStreamRegistry[updater.Event](),
		shells:      shellsession.NewPool(),
	}
}

// LoadPermissions rehydrates the in-memory granted-by-me map from the
// catalog's persisted peer_permissions rows; call once at startup before
// Run (§5: node state is single-owner in-memory).
func (d *Dispatcher) LoadPermissions() error {
	rows, err := d.cfg.Store.ListPeerPermissions()
	if err != nil {
		return err
	}
	byPeer := make(map[string][]catalog.PermissionRow)
	for _, r := range rows {
		byPeer[r.PeerID] = append(byPeer[r.PeerID], r)
	}
	for peerID, peerRows := range byPeer {
		d.cfg.GrantedByMe.Set(auth.PeerKey(peerID), permissionRowsToAuth(peerRows))
	}
	return nil
}

// ScanEvents returns the channel of scan.Event for a stream id started
// locally via StartScan, or false if no such stream is registered.
func (d *Dispatcher) ScanEvents(id string) (<-chan scan.Event, bool) {
	ch, ok := d.scanStreams.Get(id)
	return ch, ok
}

// UpdateEvents returns the channel of updater.Event for a stream id
// started locally via UpdateSelf, or false if no such stream exists.
func (d *Dispatcher) UpdateEvents(id string) (<-chan updater.Event, bool) {
	ch, ok := d.updStreams.Get(id)
	return ch, ok
}

// ShellPool exposes the local shell session pool so the façade can poll
// output without routing every byte through the command channel.
func (d *Dispatcher) ShellPool() *shellsession.Pool { return d.shells }

// Submit enqueues cmd for processing; the caller reads exactly one
// Result from cmd.Reply (buffered, capacity 1, by convention of callers).
func (d *Dispatcher) Submit(cmd Command) {
	d.commands <- cmd
}

// Run multiplexes the three sources named in §4.5 until ctx is cancelled:
// swarm events, inbound commands, and outbound-request completions (the
// "internal command" tunnel feeding server-initiated events back out).
// Shutdown drains in-flight swarm events then exits; outstanding waiters
// are dropped (§5 "Shutdown is a one-shot signal").
func (d *Dispatcher) Run(ctx context.Context) {
	swarmEvents := d.cfg.Swarm.Events()
	for {
		select {
		case <-ctx.Done():
			log.Info("Node loop shutting down")
			for {
				select {
				case ev, ok := <-swarmEvents:
					if !ok {
						return
					}
					d.handleSwarmEvent(ctx, ev)
				default:
					return
				}
			}
		case cmd := <-d.commands:
			d.handleCommand(ctx, cmd)
		case ev, ok := <-swarmEvents:
			if !ok {
				return
			}
			d.handleSwarmEvent(ctx, ev)
		case oc := <-d.outbound:
			d.completeWaiter(oc)
		}
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, cmd Command) {
	metrics.CommandsTotal.WithLabelValues(cmd.Req.Kind, "received").Inc()

	if cmd.Peer == "" || cmd.Peer == d.cfg.SelfPeerID {
		selfKey := auth.PeerKey(d.cfg.SelfPeerID)
		if cmd.Req.Kind == "get_thumbnail" {
			// Image resizing runs on a dedicated goroutine so the node
			// loop is never blocked by it (§9 "blocking vs async").
			go func() {
				cmd.Reply <- Result{Res: d.handleLocal(ctx, selfKey, cmd.Req, streamOrigin{local: true})}
			}()
			return
		}
		res := d.handleLocal(ctx, selfKey, cmd.Req, streamOrigin{local: true})
		cmd.Reply <- Result{Res: res}
		return
	}
	d.sendRemote(ctx, cmd)
}

// sendRemote parks a waiter and launches a goroutine that performs the
// blocking swarm round trip, reporting back through d.outbound so the
// node loop itself never blocks (§4.5, §5).
func (d *Dispatcher) sendRemote(ctx context.Context, cmd Command) {
	requestID := uuid.NewString()
	d.parkWaiter(requestID, cmd.Req.Kind, cmd.Reply)

	target, err := peer.Decode(cmd.Peer)
	if err != nil {
		d.outbound <- outboundCompletion{requestID: requestID, err: errors.Wrapf(err, "decode peer id %q", cmd.Peer)}
		return
	}

	start := time.Now()
	go func() {
		res, err := d.cfg.Swarm.SendRequest(ctx, target, cmd.Req)
		metrics.PeerRequestDuration.WithLabelValues(cmd.Req.Kind).Observe(time.Since(start).Seconds())
		d.outbound <- outboundCompletion{requestID: requestID, res: res, err: err}
	}()
}

// parkWaiter installs a waiter under requestID. A duplicate id — "a
// transport-reuse edge case" (§4.5) — fails the prior waiter with
// "replaced" before the new one is inserted.
func (d *Dispatcher) parkWaiter(requestID, kind string, reply chan Result) {
	if prior, ok := d.pending[requestID]; ok {
		prior.reply <- Result{Err: errors.New("replaced")}
	}
	d.pending[requestID] = pendingWaiter{kind: kind, reply: reply}
	metrics.PendingWaiters.Set(float64(len(d.pending)))
}

func (d *Dispatcher) completeWaiter(oc outboundCompletion) {
	w, ok := d.pending[oc.requestID]
	if !ok {
		return
	}
	delete(d.pending, oc.requestID)
	metrics.PendingWaiters.Set(float64(len(d.pending)))
	if oc.err != nil {
		w.reply <- Result{Err: oc.err}
		metrics.CommandsTotal.WithLabelValues(w.kind, "transport_failure").Inc()
		return
	}
	if oc.res.Kind != "" && w.kind != "" && !responseMatchesRequest(w.kind, oc.res.Kind) {
		w.reply <- Result{Err: errors.Errorf("unexpected response: expected a reply to %q, got %q", w.kind, oc.res.Kind)}
		metrics.CommandsTotal.WithLabelValues(w.kind, "protocol_mismatch").Inc()
		return
	}
	w.reply <- Result{Res: oc.res}
	metrics.CommandsTotal.WithLabelValues(w.kind, "ok").Inc()
}

// responseMatchesRequest reports whether a response kind is a valid
// reply to a request kind — either the expected variant, or the
// universal "error" variant any request may receive (§9: "a waiter
// knows the variant it expects").
func responseMatchesRequest(reqKind, resKind string) bool {
	if resKind == "error" {
		return true
	}
	for _, want := range expectedResponseKind[reqKind] {
		if want == resKind {
			return true
		}
	}
	return false
}

// expectedResponseKind models §9's "a waiter knows the variant it
// expects" as a sum type of waiters indexed by response kind; shell_input
// is the one request with two conformant replies (output still flowing,
// or the process having just exited).
var expectedResponseKind = map[string][]string{
	"list_dir":      {"dir_entries"},
	"stat_file":     {"file_stat"},
	"read_file":     {"file_chunk"},
	"write_file":    {"write_ack"},
	"list_cpus":     {"cpus"},
	"list_disks":    {"disks"},
	"list_ifaces":   {"interfaces"},
	"file_entries":  {"file_entries"},
	"list_perms":    {"permissions"},
	"grant_access":  {"access_grant"},
	"create_user":   {"user_created"},
	"authenticate":  {"error"},
	"create_token":  {"error"},
	"start_scan":    {"scan_started"},
	"scan_event":    {"scan_event_ack"},
	"get_thumbnail": {"thumbnail"},
	"update_self":   {"update_start"},
	"update_event":  {"update_ack"},
	"start_shell":   {"shell_started"},
	"shell_input":   {"shell_output", "shell_exited"},
}

// HashPasswordForCreateUser is exposed so the façade/CLI can hash a
// plaintext password before building a CreateUser command without
// importing internal/session directly.
func HashPasswordForCreateUser(password string) (string, error) {
	return session.HashPassword(password)
}
