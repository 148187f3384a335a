package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailblast/internal/domain"
)

type createContactRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req createContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := s.contacts.Create(r.Context(), req.Name, req.Email)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	c, err := s.contacts.Get(r.Context(), chi.URLParam(r, "contactID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	contacts, err := s.contacts.ListActive(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"contacts": contacts})
}

type importContactsRequest struct {
	Contacts []struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"contacts"`
}

func (s *Server) handleImportContacts(w http.ResponseWriter, r *http.Request) {
	var req importContactsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Contacts) == 0 {
		respondError(w, http.StatusBadRequest, "contacts is required")
		return
	}

	batch := make([]*domain.Contact, len(req.Contacts))
	for i, c := range req.Contacts {
		batch[i] = &domain.Contact{Name: c.Name, Email: c.Email}
	}

	imported, err := s.contacts.Import(r.Context(), batch)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{
		"imported": imported,
		"skipped":  len(batch) - imported,
	})
}
