// Package facade is the in-process async command façade (§D Module Map
// "External Surface Glue"): synchronous Go methods wrapping
// dispatcher.Dispatcher.Submit so that internal/httpapi and cmd/puppynetd
// never touch wire.Req/wire.Res directly. Grounded on the teacher's own
// pattern of a thin synchronous wrapper over an asynchronous worker (e.g.
// musclefs's 9P handlers each just building a request and awaiting a single
// reply from the store's own serialized loop).
package facade

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/j45k4/puppynet/internal/dispatcher"
	"github.com/j45k4/puppynet/internal/scan"
	"github.com/j45k4/puppynet/internal/updater"
	"github.com/j45k4/puppynet/internal/wire"
)

// Facade wraps a Dispatcher with synchronous, typed entry points.
type Facade struct {
	d *dispatcher.Dispatcher
}

func New(d *dispatcher.Dispatcher) *Facade {
	return &Facade{d: d}
}

// Do submits req addressed to peer (empty for the local node) and blocks
// for its single reply, or ctx's cancellation. For start_scan and
// update_self it returns only the ack; the StartScan and UpdateSelf
// methods below also resolve the event channel.
func (f *Facade) Do(ctx context.Context, peer string, req wire.Req) (wire.Res, error) {
	reply := make(chan dispatcher.Result, 1)
	f.d.Submit(dispatcher.Command{Peer: peer, Req: req, Reply: reply})
	select {
	case res := <-reply:
		return res.Res, res.Err
	case <-ctx.Done():
		return wire.Res{}, ctx.Err()
	}
}

func (f *Facade) ListDir(ctx context.Context, peer, path string) (wire.Res, error) {
	return f.Do(ctx, peer, wire.Req{Kind: "list_dir", ListDir: &wire.ListDirReq{Path: path}})
}

func (f *Facade) StatFile(ctx context.Context, peer, path string) (wire.Res, error) {
	return f.Do(ctx, peer, wire.Req{Kind: "stat_file", StatFile: &wire.StatFileReq{Path: path}})
}

func (f *Facade) ReadFile(ctx context.Context, peer, path string, offset, length int64) (wire.Res, error) {
	return f.Do(ctx, peer, wire.Req{Kind: "read_file", ReadFile: &wire.ReadFileReq{Path: path, Offset: offset, Length: length}})
}

func (f *Facade) WriteFile(ctx context.Context, peer, path string, offset int64, data []byte) (wire.Res, error) {
	return f.Do(ctx, peer, wire.Req{Kind: "write_file", WriteFile: &wire.WriteFileReq{Path: path, Offset: offset, Data: data}})
}

func (f *Facade) ListCpus(ctx context.Context, peer string) (wire.Res, error) {
	return f.Do(ctx, peer, wire.Req{Kind: "list_cpus", ListCpus: &struct{}{}})
}

func (f *Facade) ListDisks(ctx context.Context, peer string) (wire.Res, error) {
	return f.Do(ctx, peer, wire.Req{Kind: "list_disks", ListDisks: &struct{}{}})
}

func (f *Facade) ListIfaces(ctx context.Context, peer string) (wire.Res, error) {
	return f.Do(ctx, peer, wire.Req{Kind: "list_ifaces", ListIfaces: &struct{}{}})
}

func (f *Facade) FileEntries(ctx context.Context, peer string, offset, limit int) (wire.Res, error) {
	return f.Do(ctx, peer, wire.Req{Kind: "file_entries", FileEntries: &wire.FileEntriesReq{Offset: offset, Limit: limit}})
}

func (f *Facade) ListPerms(ctx context.Context, peer string) (wire.Res, error) {
	return f.Do(ctx, peer, wire.Req{Kind: "list_perms", ListPerms: &struct{}{}})
}

func (f *Facade) GrantAccess(ctx context.Context, peer, username string, perms []wire.Permission, merge bool) (wire.Res, error) {
	return f.Do(ctx, peer, wire.Req{Kind: "grant_access", GrantAccess: &wire.GrantAccessReq{
		Username: username, Permissions: perms, Merge: merge,
	}})
}

func (f *Facade) CreateUser(ctx context.Context, peer, username, password string) (wire.Res, error) {
	return f.Do(ctx, peer, wire.Req{Kind: "create_user", CreateUser: &wire.CreateUserReq{Username: username, Password: password}})
}

func (f *Facade) GetThumbnail(ctx context.Context, peer, path string, maxW, maxH int) (wire.Res, error) {
	return f.Do(ctx, peer, wire.Req{Kind: "get_thumbnail", GetThumbnail: &wire.GetThumbnailReq{Path: path, MaxW: maxW, MaxH: maxH}})
}

// StartScan starts a scan against peer (empty for local) and returns the
// stream id plus a channel of scan.Event, valid only when peer is empty —
// a remote-initiated scan's events are tunneled back as ScanEvent requests
// that the dispatcher's node loop, not this façade, receives (§4.5, §9).
func (f *Facade) StartScan(ctx context.Context, peer, path string) (string, <-chan scan.Event, error) {
	id := uuid.NewString()
	res, err := f.Do(ctx, peer, wire.Req{Kind: "start_scan", StartScan: &wire.StartScanReq{ID: id, Path: path}})
	if err != nil {
		return "", nil, err
	}
	if res.Kind == "error" {
		return "", nil, errors.New(*res.Error)
	}
	ch, ok := f.d.ScanEvents(id)
	if !ok {
		return "", nil, errors.Errorf("no scan stream registered for %q", id)
	}
	return id, ch, nil
}

// UpdateSelf starts a self-update against peer (empty for local) and
// returns the stream id plus a channel of updater.Event, under the same
// local-only streaming constraint as StartScan.
func (f *Facade) UpdateSelf(ctx context.Context, peer, version string) (string, <-chan updater.Event, error) {
	id := uuid.NewString()
	res, err := f.Do(ctx, peer, wire.Req{Kind: "update_self", UpdateSelf: &wire.UpdateSelfReq{ID: id, Version: version}})
	if err != nil {
		return "", nil, err
	}
	if res.Kind == "error" {
		return "", nil, errors.New(*res.Error)
	}
	ch, ok := f.d.UpdateEvents(id)
	if !ok {
		return "", nil, errors.Errorf("no update stream registered for %q", id)
	}
	return id, ch, nil
}

// StartShell starts a local shell session and returns its id. Output is
// polled via ShellInput (possibly with empty data), matching the wire
// protocol's own request/response emulation of a stream (§9).
func (f *Facade) StartShell(ctx context.Context, peer string, cols, rows int) (wire.Res, error) {
	return f.Do(ctx, peer, wire.Req{Kind: "start_shell", StartShell: &wire.StartShellReq{Cols: cols, Rows: rows}})
}

func (f *Facade) ShellInput(ctx context.Context, peer, id string, data []byte) (wire.Res, error) {
	return f.Do(ctx, peer, wire.Req{Kind: "shell_input", ShellInput: &wire.ShellInputReq{ID: id, Data: data}})
}
