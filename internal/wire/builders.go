package wire

import "time"

// Builder functions for each Res variant, keeping Kind in lockstep with
// the populated field so callers never forget to tag a response (§4.4:
// "every response names its own variant").

func DirEntriesResponse(entries []DirEntry) Res {
	return Res{Kind: "dir_entries", DirEntries: &DirEntriesRes{Entries: entries}}
}

func FileStatResponse(entry DirEntry) Res {
	return Res{Kind: "file_stat", FileStat: &FileStatRes{Entry: entry}}
}

func FileChunkResponse(offset int64, data []byte, eof bool) Res {
	return Res{Kind: "file_chunk", FileChunk: &FileChunkRes{Offset: offset, Data: data, EOF: eof}}
}

func WriteAckResponse(written int64) Res {
	return Res{Kind: "write_ack", WriteAck: &WriteAckRes{Written: written}}
}

func CpusResponse(cpus []CPU, collectedAt time.Time) Res {
	return Res{Kind: "cpus", Cpus: &CpusRes{Cpus: cpus, CollectedAt: collectedAt}}
}

func DisksResponse(disks []Disk, collectedAt time.Time) Res {
	return Res{Kind: "disks", Disks: &DisksRes{Disks: disks, CollectedAt: collectedAt}}
}

func InterfacesResponse(ifaces []Interface, collectedAt time.Time) Res {
	return Res{Kind: "interfaces", Interfaces: &InterfacesRes{Interfaces: ifaces, CollectedAt: collectedAt}}
}

func FileEntriesResponse(entries []FileEntrySummary, total int) Res {
	return Res{Kind: "file_entries", FileEntries: &FileEntriesRes{Entries: entries, Total: total}}
}

func PermissionsResponse(perms []Permission) Res {
	return Res{Kind: "permissions", Permissions: &PermissionsRes{Permissions: perms}}
}

func AccessGrantedResponse(username string, perms []Permission) Res {
	return Res{Kind: "access_grant", AccessGrant: &AccessGrantedRes{Username: username, Permissions: perms}}
}

func UserCreatedResponse() Res {
	return Res{Kind: "user_created", UserCreated: &struct{}{}}
}

func ScanStartedResponse(ok bool) Res {
	return Res{Kind: "scan_started", ScanStarted: &ScanStartedRes{OK: ok}}
}

func ScanEventAckResponse() Res {
	return Res{Kind: "scan_event_ack", ScanEventAck: &struct{}{}}
}

func ThumbnailResponse(data []byte, mimeType string) Res {
	return Res{Kind: "thumbnail", Thumbnail: &ThumbnailRes{Data: data, MimeType: mimeType}}
}

func UpdateStartedResponse(ok bool) Res {
	return Res{Kind: "update_start", UpdateStart: &UpdateStartedRes{OK: ok}}
}

func UpdateAckResponse() Res {
	return Res{Kind: "update_ack", UpdateAck: &struct{}{}}
}

func ShellStartedResponse(id string) Res {
	return Res{Kind: "shell_started", ShellStarted: &ShellStartedRes{ID: id}}
}

func ShellOutputResponse(id string, data []byte) Res {
	return Res{Kind: "shell_output", ShellOutput: &ShellOutputRes{ID: id, Data: data}}
}

func ShellExitedResponse(id string, exitCode int) Res {
	return Res{Kind: "shell_exited", ShellExited: &ShellExitedRes{ID: id, ExitCode: exitCode}}
}

func TokenCreatedResponse(token string) Res {
	return Res{Kind: "token_created", TokenCreated: &TokenCreatedRes{Token: token}}
}
