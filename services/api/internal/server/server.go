package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"graphdj/internal/util"
	"graphdj/services/api/internal/apierr"
	"graphdj/services/api/internal/app"
	"graphdj/services/api/internal/graph"
)

const (
	maxBodyBytes       = 1 << 20
	multipartMemory    = 8 << 20
	healthCheckTimeout = 2 * time.Second
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Executor defaults to the embedded schema bound to App.
	Executor       *graph.Executor
	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64
}

// Server exposes the GraphQL endpoint and a health check.
type Server struct {
	app            *app.App
	exec           *graph.Executor
	trusted        *util.TrustedProxies
	maxUploadBytes int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	exec := cfg.Executor
	if exec == nil {
		schema, err := graph.LoadSchema()
		if err != nil {
			return nil, err
		}
		exec, err = graph.NewExecutor(schema, graph.NewResolvers(cfg.App))
		if err != nil {
			return nil, fmt.Errorf("init executor: %w", err)
		}
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 5 << 20
	}
	s := &Server{
		app:            cfg.App,
		exec:           exec,
		trusted:        cfg.TrustedProxies,
		maxUploadBytes: maxUpload,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(h)
	h = util.WithSecurityHeaders(h)
	h = withRecovery(h)
	h = util.WithRequestLog(h)
	h = util.WithClientIP(s.trusted, h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/graphql", s.app.IdentityResolver().Middleware(http.HandlerFunc(s.handleGraphQL)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()
	if err := s.app.Ping(ctx); err != nil {
		util.LoggerFromContext(r.Context()).Warn("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	var (
		req graph.Request
		err error
	)
	switch r.Method {
	case http.MethodGet:
		req, err = parseGetRequest(r)
	case http.MethodPost:
		var cleanup func()
		req, cleanup, err = s.parsePostRequest(w, r)
		if cleanup != nil {
			defer cleanup()
		}
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, graph.CodeBadRequest, "method not allowed")
		return
	}
	if err != nil {
		var re *requestError
		if errors.As(err, &re) {
			writeError(w, re.status, graph.CodeBadRequest, re.msg)
			return
		}
		writeError(w, http.StatusBadRequest, graph.CodeBadRequest, err.Error())
		return
	}

	resp := s.exec.Execute(r.Context(), req)
	status := http.StatusOK
	if resp.Data == nil {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func parseGetRequest(r *http.Request) (graph.Request, error) {
	q := r.URL.Query()
	req := graph.Request{
		Query:         q.Get("query"),
		OperationName: q.Get("operationName"),
		ReadOnly:      true,
	}
	if raw := q.Get("variables"); raw != "" {
		if err := decodeJSON(strings.NewReader(raw), &req.Variables); err != nil {
			return req, badRequest("variables must be a JSON object")
		}
	}
	return req, nil
}

// parsePostRequest decodes a JSON body or a GraphQL multipart request. The
// returned cleanup releases uploaded files.
func (s *Server) parsePostRequest(w http.ResponseWriter, r *http.Request) (graph.Request, func(), error) {
	var req graph.Request
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}
	switch mediaType {
	case "application/json", "":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := decodeJSON(r.Body, &req); err != nil {
			return req, nil, bodyError(err, "request body must be a JSON object")
		}
		return req, nil, nil
	case "multipart/form-data":
		return s.parseMultipart(w, r)
	default:
		return req, nil, &requestError{status: http.StatusUnsupportedMediaType, msg: "unsupported content type " + mediaType}
	}
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) (graph.Request, func(), error) {
	var req graph.Request
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+maxBodyBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return req, nil, bodyError(err, "invalid multipart form")
	}
	form := r.MultipartForm
	var files []multipart.File
	cleanup := func() {
		for _, f := range files {
			_ = f.Close()
		}
		_ = form.RemoveAll()
	}

	operations := form.Value["operations"]
	if len(operations) != 1 {
		return req, cleanup, badRequest("operations form field is required")
	}
	if err := decodeJSON(strings.NewReader(operations[0]), &req); err != nil {
		return req, cleanup, badRequest("operations must be a JSON object")
	}
	var fileMap map[string][]string
	if raw := form.Value["map"]; len(raw) == 1 {
		if err := json.Unmarshal([]byte(raw[0]), &fileMap); err != nil {
			return req, cleanup, badRequest("map must be a JSON object")
		}
	}
	for key, paths := range fileMap {
		headers := form.File[key]
		if len(headers) != 1 {
			return req, cleanup, badRequest("file %q is missing", key)
		}
		header := headers[0]
		f, err := header.Open()
		if err != nil {
			return req, cleanup, badRequest("open file %q", key)
		}
		files = append(files, f)
		for _, path := range paths {
			upload := graphql.Upload{
				File:        f,
				Filename:    header.Filename,
				Size:        header.Size,
				ContentType: header.Header.Get("Content-Type"),
			}
			if err := setVariable(&req, path, upload); err != nil {
				return req, cleanup, err
			}
		}
	}
	return req, cleanup, nil
}

// setVariable places v at a map path such as "variables.file" or
// "variables.input.files.0".
func setVariable(req *graph.Request, path string, v any) error {
	parts := strings.Split(path, ".")
	if len(parts) < 2 || parts[0] != "variables" {
		return badRequest("invalid map path %q", path)
	}
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	var parent any = req.Variables
	for i, part := range parts[1:] {
		last := i == len(parts)-2
		switch node := parent.(type) {
		case map[string]any:
			if last {
				node[part] = v
				return nil
			}
			parent = node[part]
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return badRequest("invalid map path %q", path)
			}
			if last {
				node[idx] = v
				return nil
			}
			parent = node[idx]
		default:
			return badRequest("invalid map path %q", path)
		}
	}
	return nil
}

func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

func bodyError(err error, msg string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &requestError{status: http.StatusRequestEntityTooLarge, msg: "request body too large"}
	}
	return badRequest("%s", msg)
}

// withRecovery turns a handler panic into a 500 GraphQL error response.
func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				util.LoggerFromContext(r.Context()).Error("handler panic", "panic", rec, "stack", string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, apierr.Infrastructure.Code(), apierr.InternalMessage)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, &graphql.Response{Errors: gqlerror.List{{
		Message:    msg,
		Extensions: map[string]any{"code": code},
	}}})
}
