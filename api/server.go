// Package api exposes HTTP handlers for the docqa workflows.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/fabfab/docqa/answer"
	"github.com/fabfab/docqa/ingestion"
	"github.com/fabfab/docqa/state"
)

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type askRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

type askResponse struct {
	Answer  string         `json:"answer,omitempty"`
	Refusal string         `json:"refusal,omitempty"`
	Sources []sourceDetail `json:"sources,omitempty"`
}

type sourceDetail struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Distance   float64 `json:"distance"`
	Snippet    string  `json:"snippet"`
}

type uploadResponse struct {
	Results []uploadResult `json:"results"`
}

type uploadResult struct {
	Name     string          `json:"name"`
	Document *state.Document `json:"document,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Server wires the ingestion and answer services into an HTTP API.
type Server struct {
	ingest  *ingestion.Service
	answers *answer.Service
	store   *state.Store
	logger  *log.Logger
	handler http.Handler
}

func New(ingest *ingestion.Service, answers *answer.Service, store *state.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{ingest: ingest, answers: answers, store: store, logger: logger}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/documents", s.handleDocuments)
	mux.HandleFunc("/v1/documents/", s.handleDocumentByID)
	mux.HandleFunc("/v1/ask", s.handleAsk)
	mux.HandleFunc("/v1/history", s.handleHistory)
	mux.HandleFunc("/v1/stats", s.handleStats)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

// handleDocuments lists documents on GET and ingests a multipart upload
// batch on POST. Each file in the batch succeeds or fails independently.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.store.ListDocuments())
	case http.MethodPost:
		s.handleUpload(w, r)
	default:
		s.methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			s.logger.Printf("clean multipart form: %v", err)
		}
	}()

	var files []*multipart.FileHeader
	for _, headers := range r.MultipartForm.File {
		files = append(files, headers...)
	}
	if len(files) == 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("no files in request"))
		return
	}

	uploads, slots, results := collectUploads(files)
	for j, res := range s.ingest.IngestAll(r.Context(), uploads) {
		if res.Err != nil {
			results[slots[j]].Error = res.Err.Error()
			continue
		}
		doc := res.Document
		results[slots[j]].Document = &doc
	}

	failed := 0
	for _, res := range results {
		if res.Error != "" {
			failed++
		}
	}

	status := http.StatusOK
	if failed == len(results) {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, uploadResponse{Results: results})
}

// collectUploads reads every multipart part independently: an unreadable
// part becomes that file's error entry and never aborts the batch. slots
// maps each returned upload back to its position in results.
func collectUploads(files []*multipart.FileHeader) ([]ingestion.Upload, []int, []uploadResult) {
	results := make([]uploadResult, len(files))
	uploads := make([]ingestion.Upload, 0, len(files))
	slots := make([]int, 0, len(files))
	for i, header := range files {
		results[i] = uploadResult{Name: header.Filename}
		data, err := readUpload(header)
		if err != nil {
			results[i].Error = fmt.Sprintf("read upload: %v", err)
			continue
		}
		uploads = append(uploads, ingestion.Upload{Name: header.Filename, Data: data})
		slots = append(slots, i)
	}
	return uploads, slots, results
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown path %q", r.URL.Path))
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, found := s.store.FindDocument(id)
		if !found {
			s.writeError(w, http.StatusNotFound, fmt.Errorf("document %s not found", id))
			return
		}
		s.writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		doc, found, err := s.ingest.Remove(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("remove document: %w", err))
			return
		}
		if !found {
			s.writeError(w, http.StatusNotFound, fmt.Errorf("document %s not found", id))
			return
		}
		s.writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("removed %s", doc.OriginalName)})
	default:
		s.methodNotAllowed(w, "GET, DELETE")
	}
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}

	result, err := s.answers.Ask(r.Context(), req.SessionID, req.Question)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("answer failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, toAskResponse(result))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = "default"
	}
	s.writeJSON(w, http.StatusOK, s.store.History(sessionID))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, s.store.Stats())
}

func toAskResponse(result answer.Result) askResponse {
	resp := askResponse{
		Answer:  result.Answer,
		Refusal: result.Refusal,
	}
	for _, src := range result.Sources {
		resp.Sources = append(resp.Sources, sourceDetail{
			ChunkID:    src.ChunkID,
			DocumentID: src.DocumentID,
			Distance:   src.Distance,
			Snippet:    src.Snippet,
		})
	}
	return resp
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}
