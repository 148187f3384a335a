package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailblast/internal/domain"
	campaignsvc "github.com/ignite/mailblast/internal/service/campaign"
)

type createCampaignRequest struct {
	Name        string     `json:"name"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := s.campaigns.Create(r.Context(), campaignsvc.CreateInput{
		Name:        req.Name,
		Subject:     req.Subject,
		Body:        req.Body,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	status := domain.CampaignStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		respondError(w, http.StatusBadRequest, "unknown status filter")
		return
	}

	campaigns, err := s.campaigns.List(r.Context(), status, 100)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"campaigns": campaigns})
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.Get(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

type updateCampaignRequest struct {
	Name        *string    `json:"name"`
	Subject     *string    `json:"subject"`
	Body        *string    `json:"body"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var req updateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := s.campaigns.Update(r.Context(), chi.URLParam(r, "campaignID"), campaignsvc.UpdateInput{
		Name:        req.Name,
		Subject:     req.Subject,
		Body:        req.Body,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.campaigns.Delete(r.Context(), chi.URLParam(r, "campaignID")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type contactIDsRequest struct {
	ContactIDs []string `json:"contact_ids"`
}

func (s *Server) handleAttachContacts(w http.ResponseWriter, r *http.Request) {
	var req contactIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.ContactIDs) == 0 {
		respondError(w, http.StatusBadRequest, "contact_ids is required")
		return
	}

	added, err := s.campaigns.AttachContacts(r.Context(), chi.URLParam(r, "campaignID"), req.ContactIDs)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"added": added})
}

func (s *Server) handleDetachContacts(w http.ResponseWriter, r *http.Request) {
	var req contactIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	removed, err := s.campaigns.DetachContacts(r.Context(), chi.URLParam(r, "campaignID"), req.ContactIDs)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleSendCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.campaigns.Send(r.Context(), chi.URLParam(r, "campaignID")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "sending"})
}

func (s *Server) handlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.campaigns.Pause(r.Context(), chi.URLParam(r, "campaignID")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResumeCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.campaigns.Resume(r.Context(), chi.URLParam(r, "campaignID")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "sending"})
}

func (s *Server) handleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.campaigns.Cancel(r.Context(), chi.URLParam(r, "campaignID")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	retried, err := s.campaigns.RetryFailed(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]int{"retried": retried})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := s.campaigns.Progress(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.campaigns.Stats(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
