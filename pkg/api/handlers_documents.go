package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dd0wney/cluso-syncstore/pkg/merge"
	"github.com/dd0wney/cluso-syncstore/pkg/validation"
)

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.List(r.Context())
	if err != nil {
		s.respondStoreError(w, r, "list documents", err)
		return
	}
	s.respondJSON(w, http.StatusOK, ListResponse{Documents: docs, Count: len(docs)})
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	var req validation.DocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondStoreError(w, r, "create document", err)
		return
	}
	if err := validation.ValidateDocumentRequest(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		doc merge.Document
		err error
	)
	if req.ID != "" {
		doc, err = s.store.CreateWithID(r.Context(), req.ID, req.Fields)
	} else {
		doc, err = s.store.Create(r.Context(), req.Fields)
	}
	if err != nil {
		s.respondStoreError(w, r, "create document", err)
		return
	}

	w.Header().Set("Location", "/api/docs/"+doc.ID)
	s.respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, r, "get document", err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) updateDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req validation.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondStoreError(w, r, "update document", err)
		return
	}
	if err := validation.ValidateUpdateRequest(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var original merge.Document
	if err := json.Unmarshal(req.Original, &original); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid original document: %v", err))
		return
	}
	if original.ID == "" {
		original.ID = id
	}
	if original.ID != id {
		s.respondError(w, http.StatusBadRequest, "original document id does not match the path")
		return
	}

	doc, err := s.store.Update(r.Context(), req.Fields, original)
	if err != nil {
		s.respondStoreError(w, r, "update document", err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	rev := r.URL.Query().Get("rev")
	if rev == "" {
		s.respondError(w, http.StatusBadRequest, "rev query parameter is required")
		return
	}

	res, err := s.store.Delete(r.Context(), chi.URLParam(r, "id"), rev)
	if err != nil {
		s.respondStoreError(w, r, "delete document", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}
