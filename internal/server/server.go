// Package server runs the request loop: newline-delimited JSON requests
// on stdin, one JSON response per line on stdout.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"gitscribe/internal/engine"
	"gitscribe/internal/entity"
	"gitscribe/internal/rules"
	"gitscribe/internal/session"
	"gitscribe/internal/snapshot"
	"gitscribe/internal/tool"
)

// maxLine bounds one request line; file contents travel inline.
const maxLine = 16 * 1024 * 1024

// Request is one operation invocation.
type Request struct {
	ID        string      `json:"id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Operation string      `json:"operation"`
	Params    tool.Params `json:"params,omitempty"`
}

// Response answers one request. Exactly one of Result and Error is set.
type Response struct {
	ID     string     `json:"id,omitempty"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is a structured failure: a stable kind plus the message.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Server reads requests and dispatches them against one repository.
type Server struct {
	env *tool.Env
	log *slog.Logger
}

// New creates a server over the given tool environment.
func New(env *tool.Env) *Server {
	return &Server{env: env, log: env.Log}
}

// Serve processes requests until EOF or the context is canceled.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if err := enc.Encode(Response{Error: &ErrorInfo{
				Kind:    "bad_request",
				Message: fmt.Sprintf("malformed request: %v", err),
			}}); err != nil {
				return err
			}
			continue
		}

		resp := s.handle(ctx, req)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	return scanner.Err()
}

// handle runs one request and never panics out of the loop.
func (s *Server) handle(ctx context.Context, req Request) (resp Response) {
	resp.ID = req.ID

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("operation panicked", "operation", req.Operation, "panic", r)
			resp.Result = nil
			resp.Error = &ErrorInfo{Kind: "internal", Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	result, err := tool.Dispatch(ctx, s.env, req.Operation, req.SessionID, req.Params)
	if err != nil {
		s.log.Warn("operation failed",
			"operation", req.Operation, "session", req.SessionID, "error", err)
		resp.Error = classify(err)
		return resp
	}
	resp.Result = result
	return resp
}

// classify maps an error to its stable wire kind.
func classify(err error) *ErrorInfo {
	info := &ErrorInfo{Kind: "internal", Message: err.Error()}

	var (
		param      *tool.ParamError
		unknown    *tool.UnknownToolError
		notAllowed *tool.CommandNotAllowedError
		notFound   *engine.NotFoundError
		ambiguous  *engine.AmbiguousError
		untracked  *engine.UntrackedFileError
		stale      *snapshot.StaleError
		notRead    *snapshot.NotReadError
		protected  *rules.ProtectedError
		integrity  *session.IntegrityError
		duplicate  *session.DuplicateError
		entMissing *entity.NotFoundError
		entDup     *entity.AmbiguousError
		entLang    *entity.UnsupportedLanguageError
	)
	switch {
	case errors.As(err, &param):
		info.Kind = "bad_request"
	case errors.As(err, &unknown):
		info.Kind = "unknown_operation"
	case errors.As(err, &notAllowed):
		info.Kind = "command_not_allowed"
	case errors.As(err, &notFound):
		info.Kind = "not_found"
	case errors.As(err, &ambiguous):
		info.Kind = "ambiguous"
	case errors.As(err, &untracked):
		info.Kind = "untracked"
	case errors.As(err, &stale):
		info.Kind = "stale_read"
	case errors.As(err, &notRead):
		info.Kind = "not_read"
	case errors.As(err, &protected):
		info.Kind = "protected_path"
	case errors.As(err, &integrity):
		info.Kind = "integrity"
	case errors.As(err, &duplicate):
		info.Kind = "duplicate_session"
	case errors.As(err, &entMissing):
		info.Kind = "entity_not_found"
	case errors.As(err, &entDup):
		info.Kind = "entity_ambiguous"
	case errors.As(err, &entLang):
		info.Kind = "unsupported_language"
	}
	return info
}
