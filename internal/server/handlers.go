package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rokytory/winx-code-agent/internal/dispatch"
	"github.com/rokytory/winx-code-agent/internal/tool"
)

// maxRequestBytes bounds tool call bodies; file contents travel in them.
const maxRequestBytes = 32 << 20

// ToolInfo describes a tool for GET /tools.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.config.Version,
	})
}

func (s *Server) getWorkspace(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.Workspace())
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	tools := s.toolReg.List()
	infos := make([]ToolInfo, len(tools))
	for i, t := range tools {
		infos[i] = ToolInfo{
			Name:        t.ID(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		}
	}
	writeJSON(w, http.StatusOK, infos)
}

// callTool runs a tool with the JSON request body as its input. The body of
// the response is always the tool result; failures also set a 4xx or 5xx
// status derived from the result kind.
func (s *Server) callTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.toolReg.Get(name); !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown tool: "+name)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeInvalidRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "request body is not valid JSON")
		return
	}

	result := s.toolReg.Run(r.Context(), name, body)
	writeJSON(w, statusFor(result), result)
}

// statusFor maps a tool result to an HTTP status.
func statusFor(res *tool.Result) int {
	if !res.IsError {
		return http.StatusOK
	}
	switch res.Kind {
	case dispatch.KindPermissionDenied:
		return http.StatusForbidden
	case dispatch.KindNotInitialized, dispatch.KindSessionBusy, dispatch.KindTargetNotEmpty,
		dispatch.KindNotRunning, dispatch.KindProcessVanished:
		return http.StatusConflict
	case dispatch.KindJobNotFound, dispatch.KindTaskNotFound:
		return http.StatusNotFound
	case dispatch.KindNoMatch, dispatch.KindAmbiguousMatch, dispatch.KindSyntaxRejected, dispatch.KindBinaryFile:
		return http.StatusUnprocessableEntity
	case dispatch.KindInvalidInput, dispatch.KindBlockSyntax, dispatch.KindRange, dispatch.KindUnknownSpecial:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
