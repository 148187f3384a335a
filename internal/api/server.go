// Package api exposes the campaign and contact services over HTTP. Handlers
// are thin: decode, call the service, map errors to status codes.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	campaignsvc "github.com/ignite/mailblast/internal/service/campaign"
	contactsvc "github.com/ignite/mailblast/internal/service/contact"
)

// Server holds the services handlers delegate to.
type Server struct {
	campaigns *campaignsvc.Service
	contacts  *contactsvc.Service
}

// NewServer creates the API server.
func NewServer(campaigns *campaignsvc.Service, contacts *contactsvc.Service) *Server {
	return &Server{campaigns: campaigns, contacts: contacts}
}

// Router builds the chi router with middleware and all routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleListCampaigns)
			r.Post("/", s.handleCreateCampaign)
			r.Route("/{campaignID}", func(r chi.Router) {
				r.Get("/", s.handleGetCampaign)
				r.Put("/", s.handleUpdateCampaign)
				r.Delete("/", s.handleDeleteCampaign)

				r.Post("/contacts", s.handleAttachContacts)
				r.Delete("/contacts", s.handleDetachContacts)

				r.Post("/send", s.handleSendCampaign)
				r.Post("/pause", s.handlePauseCampaign)
				r.Post("/resume", s.handleResumeCampaign)
				r.Post("/cancel", s.handleCancelCampaign)
				r.Post("/retry", s.handleRetryFailed)

				r.Get("/progress", s.handleProgress)
				r.Get("/stats", s.handleStats)
			})
		})

		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", s.handleListContacts)
			r.Post("/", s.handleCreateContact)
			r.Post("/import", s.handleImportContacts)
			r.Get("/{contactID}", s.handleGetContact)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service sentinel errors to HTTP status codes.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaignsvc.ErrNotFound), errors.Is(err, contactsvc.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, campaignsvc.ErrInvalidTransition),
		errors.Is(err, campaignsvc.ErrNotEditable):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, campaignsvc.ErrEmptyName),
		errors.Is(err, campaignsvc.ErrEmptySubject),
		errors.Is(err, campaignsvc.ErrEmptyBody),
		errors.Is(err, campaignsvc.ErrNoRecipients),
		errors.Is(err, campaignsvc.ErrNoFailedRecipients),
		errors.Is(err, contactsvc.ErrInvalidEmail):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
