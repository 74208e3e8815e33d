package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/j45k4/puppynet/internal/wire"
)

// writeRes maps a facade call's (wire.Res, error) pair onto an HTTP
// response: a transport/context error is a 500, a wire-level "error" kind
// is a 400 (the wire protocol's own rule that only the server emits that
// variant, §7), anything else is 200 with the response body as JSON.
func writeRes(w http.ResponseWriter, res wire.Res, err error) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if res.Kind == "error" {
		msg := "request failed"
		if res.Error != nil {
			msg = *res.Error
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListDir(w http.ResponseWriter, r *http.Request) {
	res, err := s.facade.ListDir(r.Context(), peerParam(r), r.URL.Query().Get("path"))
	writeRes(w, res, err)
}

func (s *Server) handleStatFile(w http.ResponseWriter, r *http.Request) {
	res, err := s.facade.StatFile(r.Context(), peerParam(r), r.URL.Query().Get("path"))
	writeRes(w, res, err)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
	length, _ := strconv.ParseInt(r.URL.Query().Get("length"), 10, 64)
	res, err := s.facade.ReadFile(r.Context(), peerParam(r), r.URL.Query().Get("path"), offset, length)
	writeRes(w, res, err)
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path   string `json:"path"`
		Offset int64  `json:"offset"`
		Data   []byte `json:"data"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.facade.WriteFile(r.Context(), peerParam(r), body.Path, body.Offset, body.Data)
	writeRes(w, res, err)
}

func (s *Server) handleListCpus(w http.ResponseWriter, r *http.Request) {
	res, err := s.facade.ListCpus(r.Context(), peerParam(r))
	writeRes(w, res, err)
}

func (s *Server) handleListDisks(w http.ResponseWriter, r *http.Request) {
	res, err := s.facade.ListDisks(r.Context(), peerParam(r))
	writeRes(w, res, err)
}

func (s *Server) handleListIfaces(w http.ResponseWriter, r *http.Request) {
	res, err := s.facade.ListIfaces(r.Context(), peerParam(r))
	writeRes(w, res, err)
}

func (s *Server) handleFileEntries(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	res, err := s.facade.FileEntries(r.Context(), peerParam(r), offset, limit)
	writeRes(w, res, err)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	maxW, _ := strconv.Atoi(r.URL.Query().Get("w"))
	maxH, _ := strconv.Atoi(r.URL.Query().Get("h"))
	res, err := s.facade.GetThumbnail(r.Context(), peerParam(r), r.URL.Query().Get("path"), maxW, maxH)
	if err == nil && res.Kind == "thumbnail" {
		w.Header().Set("Content-Type", res.Thumbnail.MimeType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Thumbnail.Data)
		return
	}
	writeRes(w, res, err)
}

func (s *Server) handleListPerms(w http.ResponseWriter, r *http.Request) {
	res, err := s.facade.ListPerms(r.Context(), peerParam(r))
	writeRes(w, res, err)
}

func (s *Server) handleGrantAccess(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username    string           `json:"username"`
		Permissions []wire.Permission `json:"permissions"`
		Merge       bool             `json:"merge"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.facade.GrantAccess(r.Context(), peerParam(r), body.Username, body.Permissions, body.Merge)
	writeRes(w, res, err)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.facade.CreateUser(r.Context(), peerParam(r), body.Username, body.Password)
	writeRes(w, res, err)
}

func (s *Server) handleStartShell(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.facade.StartShell(r.Context(), peerParam(r), body.Cols, body.Rows)
	writeRes(w, res, err)
}

func (s *Server) handleShellInput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Data []byte `json:"data"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.facade.ShellInput(r.Context(), peerParam(r), id, body.Data)
	writeRes(w, res, err)
}

// handleStartScan streams scan.Event as server-sent events until the
// terminal Result arrives (§4.3's Progress/Finished ordering guarantee).
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_, events, err := s.facade.StartScan(r.Context(), peerParam(r), body.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	streamSSE(w, r, func() (interface{}, bool) {
		ev, ok := <-events
		if !ok {
			return nil, false
		}
		return ev, ev.Result == nil
	})
}

// handleUpdateSelf streams updater.Event as server-sent events across
// §4.6's stage pipeline.
func (s *Server) handleUpdateSelf(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Version string `json:"version"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_, events, err := s.facade.UpdateSelf(r.Context(), peerParam(r), body.Version)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	streamSSE(w, r, func() (interface{}, bool) {
		ev, ok := <-events
		if !ok {
			return nil, false
		}
		return ev, ev.Stage != "completed" && ev.Stage != "failed" && ev.Stage != "already_up_to_date"
	})
}

// streamSSE writes one "data: <json>\n\n" frame per call to next until it
// reports more=false or the channel closes, flushing after every frame so
// a browser EventSource sees progress incrementally.
func streamSSE(w http.ResponseWriter, r *http.Request, next func() (interface{}, bool)) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)

	for {
		v, more := next()
		if v == nil {
			return
		}
		fmt.Fprint(w, "data: ")
		_ = writeJSONBody(w, v)
		fmt.Fprint(w, "\n\n")
		if ok {
			flusher.Flush()
		}
		if !more {
			return
		}
		select {
		case <-r.Context().Done():
			return
		default:
		}
	}
}
