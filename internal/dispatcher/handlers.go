package dispatcher

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/j45k4/puppynet/internal/auth"
	"github.com/j45k4/puppynet/internal/catalog"
	"github.com/j45k4/puppynet/internal/hostinfo"
	"github.com/j45k4/puppynet/internal/metrics"
	"github.com/j45k4/puppynet/internal/scan"
	"github.com/j45k4/puppynet/internal/session"
	"github.com/j45k4/puppynet/internal/thumbnail"
	"github.com/j45k4/puppynet/internal/updater"
	"github.com/j45k4/puppynet/internal/wire"
)

// defaultReadLength is the ~64 KiB default cap named in §5 ("ReadFile
// caps per call at ~64 KiB default, caller-controlled via length").
const defaultReadLength = 64 * 1024

// streamOrigin tells a streaming handler (StartScan, UpdateSelf) where to
// deliver its sub-events: straight into this process's streamRegistry for
// a local caller, or tunneled back out as outbound PeerReqs for a remote
// one (§9 "server-to-client streams are emulated by the server issuing
// its own requests to the client").
type streamOrigin struct {
	local      bool
	remotePeer peer.ID
}

// handleLocal services req as if it had arrived addressed to this node —
// the same code path a remote IncomingRequest takes (§4.5: "the operation
// resolves locally (same code path as a remote request would exercise on
// this node)"). peerKey identifies the caller for authorization purposes;
// for an operator-issued local command this is the node's own PeerKey.
func (d *Dispatcher) handleLocal(ctx context.Context, peerKey auth.PeerKey, req wire.Req, origin streamOrigin) wire.Res {
	switch req.Kind {
	case "list_dir":
		return d.handleListDir(peerKey, req.ListDir)
	case "stat_file":
		return d.handleStatFile(peerKey, req.StatFile)
	case "read_file":
		return d.handleReadFile(peerKey, req.ReadFile)
	case "write_file":
		return d.handleWriteFile(peerKey, req.WriteFile)
	case "list_cpus":
		return d.handleListCpus()
	case "list_disks":
		return d.handleListDisks()
	case "list_ifaces":
		return d.handleListIfaces()
	case "file_entries":
		return d.handleFileEntries(req.FileEntries)
	case "list_perms":
		return d.handleListPerms(peerKey)
	case "grant_access":
		return d.handleGrantAccess(peerKey, req.GrantAccess)
	case "create_user":
		return d.handleCreateUser(req.CreateUser)
	case "authenticate", "create_token":
		// §E Open Question decision: placeholders only, no semantics.
		return wire.ErrorRes("not implemented")
	case "start_scan":
		return d.handleStartScan(ctx, req.StartScan, origin)
	case "scan_event":
		return d.handleScanEvent(req.ScanEvent)
	case "get_thumbnail":
		return d.handleGetThumbnail(peerKey, req.GetThumbnail)
	case "update_self":
		return d.handleUpdateSelf(req.UpdateSelf, origin)
	case "update_event":
		return d.handleUpdateEvent(req.UpdateEvent)
	case "start_shell":
		return d.handleStartShell(req.StartShell)
	case "shell_input":
		return d.handleShellInput(req.ShellInput)
	default:
		return wire.ErrorRes("Internal error")
	}
}

// authorize canonicalizes path and checks peerKey against required. The
// local node's own identity is implicitly Owner and bypasses the check for
// every path; the configured shared folders do not narrow it (§3, §4.1):
// an operator driving their own node is never locked out by an ACL meant
// to gate remote peers.
func (d *Dispatcher) authorize(peerKey auth.PeerKey, path string, required auth.AccessFlags) (string, error) {
	canonical, err := auth.Canonicalize(path)
	if err != nil {
		return "", errors.Wrapf(err, "Failed to access %q", path)
	}
	if peerKey == auth.PeerKey(d.cfg.SelfPeerID) {
		return canonical, nil
	}
	if !d.cfg.GrantedByMe.HasAccess(peerKey, canonical, required) {
		auth.LogDenial(peerKey, canonical, required)
		return "", errAccessDenied
	}
	return canonical, nil
}

var errAccessDenied = errors.New("Access denied")

func (d *Dispatcher) handleListDir(peerKey auth.PeerKey, r *wire.ListDirReq) wire.Res {
	if r == nil {
		return wire.ErrorRes("Internal error")
	}
	canonical, err := d.authorize(peerKey, r.Path, auth.ReadMask)
	if err != nil {
		return errorResFor(err)
	}
	entries, err := os.ReadDir(canonical)
	if err != nil {
		return wire.ErrorRes(err.Error())
	}
	out := make([]wire.DirEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, wire.DirEntry{Name: e.Name(), IsDir: e.IsDir(), Size: info.Size(), Mtime: info.ModTime()})
	}
	sortDirEntries(out)
	return wire.DirEntriesResponse(out)
}

// sortDirEntries orders dirs-first, then case-insensitive name (§8 S1).
func sortDirEntries(entries []wire.DirEntry) {
	less := func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return lowerLess(entries[i].Name, entries[j].Name)
	}
	insertionSort(entries, less)
}

func lowerLess(a, b string) bool {
	return toLower(a) < toLower(b)
}

func toLower(s string) string {
	r := []rune(s)
	for i, c := range r {
		if c >= 'A' && c <= 'Z' {
			r[i] = c + ('a' - 'A')
		}
	}
	return string(r)
}

func insertionSort(entries []wire.DirEntry, less func(i, j int) bool) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func (d *Dispatcher) handleStatFile(peerKey auth.PeerKey, r *wire.StatFileReq) wire.Res {
	if r == nil {
		return wire.ErrorRes("Internal error")
	}
	canonical, err := d.authorize(peerKey, r.Path, auth.ReadMask)
	if err != nil {
		return errorResFor(err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return wire.ErrorRes(err.Error())
	}
	return wire.FileStatResponse(wire.DirEntry{
		Name:  info.Name(),
		IsDir: info.IsDir(),
		Size:  info.Size(),
		Mtime: info.ModTime(),
	})
}

func (d *Dispatcher) handleReadFile(peerKey auth.PeerKey, r *wire.ReadFileReq) wire.Res {
	if r == nil {
		return wire.ErrorRes("Internal error")
	}
	canonical, err := d.authorize(peerKey, r.Path, auth.ReadMask)
	if err != nil {
		return errorResFor(err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return wire.ErrorRes(err.Error())
	}
	if info.IsDir() {
		return wire.ErrorRes("path is a directory")
	}

	length := r.Length
	if length <= 0 {
		length = defaultReadLength
	}

	f, err := os.Open(canonical)
	if err != nil {
		return wire.ErrorRes(err.Error())
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, r.Offset)
	if err != nil && err != io.EOF {
		return wire.ErrorRes(err.Error())
	}
	eof := r.Offset+int64(n) >= info.Size()
	return wire.FileChunkResponse(r.Offset, buf[:n], eof)
}

func (d *Dispatcher) handleWriteFile(peerKey auth.PeerKey, r *wire.WriteFileReq) wire.Res {
	if r == nil {
		return wire.ErrorRes("Internal error")
	}
	canonical, err := d.authorize(peerKey, r.Path, auth.WriteMask)
	if err != nil {
		return errorResFor(err)
	}
	f, err := os.OpenFile(canonical, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return wire.ErrorRes(err.Error())
	}
	defer f.Close()
	n, err := f.WriteAt(r.Data, r.Offset)
	if err != nil {
		return wire.ErrorRes(err.Error())
	}
	return wire.WriteAckResponse(int64(n))
}

// refreshInventory resamples host inventory when the persisted snapshot
// is stale (§C.3's throttle, catalog.InventoryRefreshInterval) and
// returns the current snapshot either way.
func (d *Dispatcher) refreshInventory() (catalog.HostInventory, error) {
	inv, err := d.cfg.Store.GetHostInventory(d.cfg.SelfPeerID)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return catalog.HostInventory{}, err
	}
	if err == nil && !inv.Stale(time.Now()) {
		return inv, nil
	}

	cpusJSON, err := catalog.MarshalJSONList(hostinfo.CPUs())
	if err != nil {
		return catalog.HostInventory{}, err
	}
	disksJSON, err := catalog.MarshalJSONList(hostinfo.Disks([]string{"/"}))
	if err != nil {
		return catalog.HostInventory{}, err
	}
	ifacesJSON, err := catalog.MarshalJSONList(hostinfo.Interfaces())
	if err != nil {
		return catalog.HostInventory{}, err
	}
	fresh := catalog.HostInventory{
		NodeID:         d.cfg.SelfPeerID,
		CPUsJSON:       cpusJSON,
		DisksJSON:      disksJSON,
		InterfacesJSON: ifacesJSON,
		CollectedAt:    time.Now(),
	}
	if err := d.cfg.Store.PutHostInventory(fresh); err != nil {
		return catalog.HostInventory{}, err
	}
	return fresh, nil
}

func (d *Dispatcher) handleListCpus() wire.Res {
	inv, err := d.refreshInventory()
	if err != nil {
		return wire.ErrorRes("Database unavailable")
	}
	var cpus []wire.CPU
	if err := catalog.UnmarshalJSONList(inv.CPUsJSON, &cpus); err != nil {
		return wire.ErrorRes("Database unavailable")
	}
	return wire.CpusResponse(cpus, inv.CollectedAt)
}

func (d *Dispatcher) handleListDisks() wire.Res {
	inv, err := d.refreshInventory()
	if err != nil {
		return wire.ErrorRes("Database unavailable")
	}
	var disks []wire.Disk
	if err := catalog.UnmarshalJSONList(inv.DisksJSON, &disks); err != nil {
		return wire.ErrorRes("Database unavailable")
	}
	return wire.DisksResponse(disks, inv.CollectedAt)
}

func (d *Dispatcher) handleListIfaces() wire.Res {
	inv, err := d.refreshInventory()
	if err != nil {
		return wire.ErrorRes("Database unavailable")
	}
	var ifaces []wire.Interface
	if err := catalog.UnmarshalJSONList(inv.InterfacesJSON, &ifaces); err != nil {
		return wire.ErrorRes("Database unavailable")
	}
	return wire.InterfacesResponse(ifaces, inv.CollectedAt)
}

func (d *Dispatcher) handleFileEntries(r *wire.FileEntriesReq) wire.Res {
	if r == nil {
		return wire.ErrorRes("Internal error")
	}
	pageSize := r.Limit
	if pageSize <= 0 {
		pageSize = 50
	}
	result, err := d.cfg.Store.SearchFiles(catalog.SearchFilter{
		Page:     r.Offset/pageSize + 1,
		PageSize: pageSize,
	})
	if err != nil {
		return wire.ErrorRes("Database unavailable")
	}
	out := make([]wire.FileEntrySummary, len(result.Entries))
	for i, e := range result.Entries {
		out[i] = wire.FileEntrySummary{
			Hash:       e.Hash,
			Size:       e.Size,
			MimeType:   e.MimeType,
			FirstSeen:  e.FirstSeen,
			LatestSeen: e.LatestSeen,
		}
	}
	return wire.FileEntriesResponse(out, result.Total)
}

func (d *Dispatcher) handleListPerms(peerKey auth.PeerKey) wire.Res {
	rows, err := d.cfg.Store.GetPeerPermissions(string(peerKey))
	if err != nil {
		return wire.ErrorRes("Database unavailable")
	}
	return wire.PermissionsResponse(permissionRowsToWire(rows))
}

func permissionRowsToWire(rows []catalog.PermissionRow) []wire.Permission {
	out := make([]wire.Permission, len(rows))
	for i, r := range rows {
		out[i] = wire.Permission{
			Owner:  r.Kind == "owner",
			Path:   r.Path,
			Search: r.Flags&uint8(auth.Search) != 0,
			Read:   r.Flags&uint8(auth.Read) != 0,
			Write:  r.Flags&uint8(auth.Write) != 0,
		}
	}
	return out
}

func wirePermissionsToAuth(in []wire.Permission) []auth.Permission {
	out := make([]auth.Permission, 0, len(in))
	for _, p := range in {
		if p.Owner {
			// §C.2: GrantAccess can never install Owner remotely; skip
			// any Owner entry a peer attempts to send.
			continue
		}
		var flags auth.AccessFlags
		if p.Search {
			flags |= auth.Search
		}
		if p.Read {
			flags |= auth.Read
		}
		if p.Write {
			flags |= auth.Write
		}
		perm, err := auth.NewFolder(p.Path, flags)
		if err != nil {
			continue
		}
		out = append(out, perm)
	}
	return out
}

// permissionRowsToAuth is the inverse of authPermissionsToRows, used to
// rehydrate auth.PeerPermissions from persisted catalog rows at startup.
func permissionRowsToAuth(rows []catalog.PermissionRow) []auth.Permission {
	out := make([]auth.Permission, 0, len(rows))
	for _, r := range rows {
		if r.Kind == "owner" {
			out = append(out, auth.Owner())
			continue
		}
		perm, err := auth.NewFolder(r.Path, auth.AccessFlags(r.Flags))
		if err != nil {
			continue
		}
		out = append(out, perm)
	}
	return out
}

func authPermissionsToRows(peerID string, perms []auth.Permission) []catalog.PermissionRow {
	out := make([]catalog.PermissionRow, len(perms))
	for i, p := range perms {
		kind := "folder"
		if p.Kind == auth.KindOwner {
			kind = "owner"
		}
		out[i] = catalog.PermissionRow{PeerID: peerID, Kind: kind, Path: p.Path, Flags: uint8(p.Flags)}
	}
	return out
}

// handleGrantAccess implements GrantAccess (§4.4, §C.1/§C.2): peerKey is
// the remote caller asking this node for access, and it is the subject
// whose permissions are installed into GrantedByMe; r.Username is only
// echoed back in the response.
func (d *Dispatcher) handleGrantAccess(peerKey auth.PeerKey, r *wire.GrantAccessReq) wire.Res {
	if r == nil {
		return wire.ErrorRes("Internal error")
	}
	incoming := wirePermissionsToAuth(r.Permissions)

	if r.Merge {
		d.cfg.GrantedByMe.Merge(peerKey, incoming)
	} else {
		d.cfg.GrantedByMe.Set(peerKey, incoming)
	}
	final := d.cfg.GrantedByMe.Get(peerKey)

	if err := d.cfg.Store.SetPeerPermissions(string(peerKey), authPermissionsToRows(string(peerKey), final)); err != nil {
		return wire.ErrorRes("Database unavailable")
	}

	return wire.AccessGrantedResponse(r.Username, permissionsToWire(final))
}

func permissionsToWire(perms []auth.Permission) []wire.Permission {
	out := make([]wire.Permission, len(perms))
	for i, p := range perms {
		out[i] = wire.Permission{
			Owner:  p.Kind == auth.KindOwner,
			Path:   p.Path,
			Search: p.Flags&auth.Search != 0,
			Read:   p.Flags&auth.Read != 0,
			Write:  p.Flags&auth.Write != 0,
		}
	}
	return out
}

func (d *Dispatcher) handleCreateUser(r *wire.CreateUserReq) wire.Res {
	if r == nil {
		return wire.ErrorRes("Internal error")
	}
	hash, err := session.HashPassword(r.Password)
	if err != nil {
		return wire.ErrorRes("Internal error")
	}
	if err := d.cfg.Store.CreateUser(r.Username, hash, time.Now()); err != nil {
		if errors.Is(err, catalog.ErrConflict) {
			return wire.ErrorRes("username already exists")
		}
		return wire.ErrorRes("Database unavailable")
	}
	return wire.UserCreatedResponse()
}

func (d *Dispatcher) handleStartScan(ctx context.Context, r *wire.StartScanReq, origin streamOrigin) wire.Res {
	if r == nil {
		return wire.ErrorRes("Internal error")
	}
	ch := d.scanStreams.Register(r.ID)
	events := scan.Run(ctx, d.cfg.Store, d.cfg.SelfPeerID, r.Path, nil)

	go func() {
		for ev := range events {
			if origin.local {
				ch <- ev
			} else {
				d.tunnelScanEvent(ctx, origin.remotePeer, r.ID, ev)
			}
			if ev.Result != nil {
				outcome := "ok"
				if !ev.Result.OK {
					outcome = "error"
				}
				metrics.ScansTotal.WithLabelValues(outcome).Inc()
				metrics.ScanFilesProcessed.Add(float64(ev.Result.Inserted + ev.Result.Updated))
				d.scanStreams.Remove(r.ID)
			}
		}
	}()

	return wire.ScanStartedResponse(true)
}

// tunnelScanEvent implements the server-initiated ScanEvent requests that
// carry progress back to a remote initiator (§4.4, §9).
func (d *Dispatcher) tunnelScanEvent(ctx context.Context, target peer.ID, id string, ev scan.Event) {
	payload := wire.ScanEventPayload{}
	if ev.Progress != nil {
		payload.Progress = &wire.ScanProgress{
			Processed: ev.Progress.Processed,
			Total:     ev.Progress.Total,
			Inserted:  ev.Progress.Inserted,
			Updated:   ev.Progress.Updated,
			Removed:   ev.Progress.Removed,
		}
	}
	if ev.Result != nil {
		errMsg := ""
		if ev.Result.Err != nil {
			errMsg = ev.Result.Err.Error()
		}
		payload.Finished = &wire.ScanFinished{
			OK:       ev.Result.OK,
			Error:    errMsg,
			Inserted: ev.Result.Inserted,
			Updated:  ev.Result.Updated,
			Removed:  ev.Result.Removed,
			Duration: ev.Result.Duration,
		}
	}
	req := wire.Req{Kind: "scan_event", ScanEvent: &wire.ScanEventReq{ID: id, Event: payload}}
	if _, err := d.cfg.Swarm.SendRequest(ctx, target, req); err != nil {
		log.WithError(err).Warn("Failed to tunnel scan event to remote initiator")
	}
}

// handleScanEvent is the inbound side of the tunnel: a remote node is
// forwarding progress for a scan we initiated remotely.
func (d *Dispatcher) handleScanEvent(r *wire.ScanEventReq) wire.Res {
	if r == nil {
		return wire.ErrorRes("Internal error")
	}
	ch, ok := d.scanStreams.Get(r.ID)
	if !ok {
		return wire.ScanEventAckResponse()
	}
	ev := scan.Event{}
	if r.Event.Progress != nil {
		ev.Progress = &scan.Progress{
			Processed: r.Event.Progress.Processed,
			Total:     r.Event.Progress.Total,
			Inserted:  r.Event.Progress.Inserted,
			Updated:   r.Event.Progress.Updated,
			Removed:   r.Event.Progress.Removed,
		}
	}
	if r.Event.Finished != nil {
		var err error
		if r.Event.Finished.Error != "" {
			err = errors.New(r.Event.Finished.Error)
		}
		ev.Result = &scan.Result{
			OK:       r.Event.Finished.OK,
			Err:      err,
			Inserted: r.Event.Finished.Inserted,
			Updated:  r.Event.Finished.Updated,
			Removed:  r.Event.Finished.Removed,
			Duration: r.Event.Finished.Duration,
		}
	}
	ch <- ev
	if ev.Result != nil {
		d.scanStreams.Remove(r.ID)
	}
	return wire.ScanEventAckResponse()
}

// handleGetThumbnail is invoked off the node loop (handleCommand and
// handleIncomingRequest run get_thumbnail on its own goroutine) — §9: "the
// node loop must never call [image resizing] directly."
func (d *Dispatcher) handleGetThumbnail(peerKey auth.PeerKey, r *wire.GetThumbnailReq) wire.Res {
	if r == nil {
		return wire.ErrorRes("Internal error")
	}
	canonical, err := d.authorize(peerKey, r.Path, auth.ReadMask)
	if err != nil {
		return errorResFor(err)
	}
	data, mimeType, err := thumbnail.Generate(canonical, r.MaxW, r.MaxH)
	if err != nil {
		return wire.ErrorRes(err.Error())
	}
	return wire.ThumbnailResponse(data, mimeType)
}

func (d *Dispatcher) handleUpdateSelf(r *wire.UpdateSelfReq, origin streamOrigin) wire.Res {
	if r == nil {
		return wire.ErrorRes("Internal error")
	}
	ch := d.updStreams.Register(r.ID)
	cfg := d.cfg.UpdaterConfig
	cfg.Version = r.Version

	events := updater.Run(cfg)
	ctx := context.Background()
	go func() {
		for ev := range events {
			if origin.local {
				ch <- ev
			} else {
				d.tunnelUpdateEvent(ctx, origin.remotePeer, r.ID, ev)
			}
			if ev.Stage == updater.StageCompleted || ev.Stage == updater.StageFailed || ev.Stage == updater.StageAlreadyUpToDate {
				d.updStreams.Remove(r.ID)
			}
		}
	}()

	return wire.UpdateStartedResponse(true)
}

func (d *Dispatcher) tunnelUpdateEvent(ctx context.Context, target peer.ID, id string, ev updater.Event) {
	req := wire.Req{Kind: "update_event", UpdateEvent: &wire.UpdateEventReq{
		ID: id,
		Event: wire.UpdateEventPayload{
			Stage:    ev.Stage,
			Filename: ev.Filename,
			Version:  ev.Version,
			Error:    ev.Error,
		},
	}}
	if _, err := d.cfg.Swarm.SendRequest(ctx, target, req); err != nil {
		log.WithError(err).Warn("Failed to tunnel update event to remote initiator")
	}
}

func (d *Dispatcher) handleUpdateEvent(r *wire.UpdateEventReq) wire.Res {
	if r == nil {
		return wire.ErrorRes("Internal error")
	}
	ch, ok := d.updStreams.Get(r.ID)
	if !ok {
		return wire.UpdateAckResponse()
	}
	ev := updater.Event{
		Stage:    r.Event.Stage,
		Filename: r.Event.Filename,
		Version:  r.Event.Version,
		Error:    r.Event.Error,
	}
	ch <- ev
	if ev.Stage == updater.StageCompleted || ev.Stage == updater.StageFailed || ev.Stage == updater.StageAlreadyUpToDate {
		d.updStreams.Remove(r.ID)
	}
	return wire.UpdateAckResponse()
}

func (d *Dispatcher) handleStartShell(r *wire.StartShellReq) wire.Res {
	if r == nil {
		return wire.ErrorRes("Internal error")
	}
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	if err := d.shells.Start(id, r.Cols, r.Rows); err != nil {
		return wire.ErrorRes(err.Error())
	}
	return wire.ShellStartedResponse(id)
}

// handleShellInput writes r.Data (possibly empty, a bare poll) to the
// session's stdin, then returns whatever output accumulated within the
// pool's short polling window (§4.5, §5) — the client-driven half of the
// request/response emulation of shell streaming (§9). Once the process
// has exited it replies shell_exited with the exit code instead, and
// output read by that poll is not included.
func (d *Dispatcher) handleShellInput(r *wire.ShellInputReq) wire.Res {
	if r == nil {
		return wire.ErrorRes("Internal error")
	}
	if len(r.Data) > 0 {
		if err := d.shells.Write(r.ID, r.Data); err != nil {
			return wire.ErrorRes(err.Error())
		}
	}
	data, exited, exitCode, err := d.shells.Poll(r.ID)
	if err != nil {
		return wire.ErrorRes(err.Error())
	}
	if exited {
		return wire.ShellExitedResponse(r.ID, exitCode)
	}
	return wire.ShellOutputResponse(r.ID, data)
}

func errorResFor(err error) wire.Res {
	if errors.Is(err, errAccessDenied) {
		return wire.ErrorRes("Access denied")
	}
	return wire.ErrorRes(err.Error())
}
