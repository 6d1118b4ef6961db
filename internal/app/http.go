package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/search"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/workflow"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log.With().Str("component", "http").Logger()}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.routes())
}

func (s *HTTPServer) routes() http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET", "HEAD")
	api.HandleFunc("/ready", s.handleReady).Methods("GET", "HEAD")

	api.HandleFunc("/users", s.handleCreateUser).Methods("POST")
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods("GET")

	api.HandleFunc("/contents", s.handleListContents).Methods("GET")
	api.HandleFunc("/contents", s.handleCreateContent).Methods("POST")
	api.HandleFunc("/contents/{id}", s.handleGetContent).Methods("GET")
	api.HandleFunc("/contents/{id}", s.handleSaveContent).Methods("PUT")
	api.HandleFunc("/contents/{id}/revisions", s.handleListRevisions).Methods("GET")
	api.HandleFunc("/contents/{id}/revisions/current", s.handleCurrentRevision).Methods("GET")
	api.HandleFunc("/contents/{id}/revisions/current/repair", s.handleRepairCurrent).Methods("POST")
	api.HandleFunc("/contents/{id}/revisions/{revisionId}", s.handleGetRevision).Methods("GET")
	api.HandleFunc("/contents/{id}/revisions/{revisionId}/restore", s.handleRestoreRevision).Methods("POST")
	api.HandleFunc("/contents/{id}/compare", s.handleCompare).Methods("GET")
	api.HandleFunc("/contents/{id}/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/contents/{id}/state", s.handleTransition).Methods("PUT")

	api.HandleFunc("/workflow/states", s.handleListStates).Methods("GET")
	api.HandleFunc("/workflow/states", s.handleCreateState).Methods("POST")

	api.HandleFunc("/trees/{kind}", s.handleTree).Methods("GET")
	api.HandleFunc("/trees/{kind}/nodes", s.handleCreateNode).Methods("POST")
	api.HandleFunc("/trees/{kind}/reorder", s.handleReorder).Methods("POST")
	api.HandleFunc("/trees/{kind}/{id}", s.handleDeleteNode).Methods("DELETE")
	api.HandleFunc("/trees/{kind}/{id}/parent", s.handleSetParent).Methods("PUT")
	api.HandleFunc("/trees/{kind}/{id}/ancestors", s.handleAncestors).Methods("GET")
	api.HandleFunc("/trees/{kind}/{id}/children", s.handleChildren).Methods("GET")

	api.HandleFunc("/search", s.handleSearch).Methods("GET")
	return router
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.CreateUser(r.Context(), body.Name, body.Email)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *HTTPServer) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleListContents(w http.ResponseWriter, r *http.Request) {
	contents, err := s.service.ListContents(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contents": contents})
}

func (s *HTTPServer) handleCreateContent(w http.ResponseWriter, r *http.Request) {
	var body CreateContentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	content, err := s.service.CreateContent(r.Context(), body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, content)
}

func (s *HTTPServer) handleGetContent(w http.ResponseWriter, r *http.Request) {
	content, err := s.service.GetContent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (s *HTTPServer) handleSaveContent(w http.ResponseWriter, r *http.Request) {
	var body SaveContentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	rev, err := s.service.SaveContent(r.Context(), mux.Vars(r)["id"], body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

func (s *HTTPServer) handleListRevisions(w http.ResponseWriter, r *http.Request) {
	revisions, err := s.service.Revisions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
}

func (s *HTTPServer) handleCurrentRevision(w http.ResponseWriter, r *http.Request) {
	rev, err := s.service.CurrentRevision(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

func (s *HTTPServer) handleRepairCurrent(w http.ResponseWriter, r *http.Request) {
	rev, err := s.service.RepairCurrent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

func (s *HTTPServer) handleGetRevision(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snapshot, err := s.service.RevisionSnapshot(r.Context(), vars["id"], vars["revisionId"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *HTTPServer) handleRestoreRevision(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AuthorID string `json:"authorId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	vars := mux.Vars(r)
	rev, err := s.service.RestoreRevision(r.Context(), vars["id"], vars["revisionId"], body.AuthorID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rev)
}

func (s *HTTPServer) handleCompare(w http.ResponseWriter, r *http.Request) {
	from := strings.TrimSpace(r.URL.Query().Get("from"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "from and to are required", nil)
		return
	}
	diff, err := s.service.CompareRevisions(r.Context(), mux.Vars(r)["id"], from, to)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (s *HTTPServer) handleGetState(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	current, err := s.service.ContentState(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	rules, err := s.service.TransitionRules(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": current, "transitions": rules})
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To string `json:"to"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.To) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "to is required", nil)
		return
	}
	state, err := s.service.TransitionState(r.Context(), mux.Vars(r)["id"], strings.TrimSpace(body.To))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

func (s *HTTPServer) handleListStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.service.WorkflowStates(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": states})
}

func (s *HTTPServer) handleCreateState(w http.ResponseWriter, r *http.Request) {
	var body workflow.State
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	state, err := s.service.CreateWorkflowState(r.Context(), body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (s *HTTPServer) handleTree(w http.ResponseWriter, r *http.Request) {
	roots, err := s.service.Tree(r.Context(), mux.Vars(r)["kind"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": roots})
}

func (s *HTTPServer) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var body CreateNodeInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	node, err := s.service.CreateNode(r.Context(), mux.Vars(r)["kind"], body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (s *HTTPServer) handleReorder(w http.ResponseWriter, r *http.Request) {
	var body ReorderInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	parentID, err := s.service.Reorder(r.Context(), mux.Vars(r)["kind"], body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": body.MovedID, "parentId": parentID})
}

func (s *HTTPServer) handleSetParent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ParentID *string `json:"parentId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	vars := mux.Vars(r)
	if err := s.service.SetParent(r.Context(), vars["kind"], vars["id"], body.ParentID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": vars["id"], "parentId": body.ParentID})
}

func (s *HTTPServer) handleAncestors(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ancestors, err := s.service.Ancestors(r.Context(), vars["kind"], vars["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ancestors": ancestors})
}

func (s *HTTPServer) handleChildren(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	children, err := s.service.Children(r.Context(), vars["kind"], vars["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"children": children})
}

func (s *HTTPServer) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.service.DeleteNode(r.Context(), vars["kind"], vars["id"]); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := search.Query{
		Text:  strings.TrimSpace(query.Get("q")),
		State: strings.TrimSpace(query.Get("state")),
	}
	var err error
	if q.Limit, err = intParam(query.Get("limit"), 20); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be a number", nil)
		return
	}
	if q.Offset, err = intParam(query.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "offset must be a number", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), q))
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid number %q", raw)
	}
	return value, nil
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("request_id", requestID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.log.Info().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
