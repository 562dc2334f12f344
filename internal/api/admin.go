package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sportfolio/internal/gameday"
	"sportfolio/internal/store"
)

// GET /api/admin/jobs
func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.RecentJobLogs(50)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":       s.sched.JobNames(),
		"recentRuns": logs,
	})
}

// POST /api/admin/jobs/{name}/trigger
// The run is detached from the request so a long job cannot be killed by a
// client disconnect.
func (s *Server) handleJobTrigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	found := false
	for _, n := range s.sched.JobNames() {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}

	go func() {
		if err := s.sched.TriggerNow(context.Background(), name); err != nil {
			s.log.WithError(err).WithField("job", name).Error("manual trigger failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered", "job": name})
}

// POST /api/admin/backfill {"startDate": "2026-01-01", "endDate": "2026-01-07"}
func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartDate string `json:"startDate"`
		EndDate   string `json:"endDate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	start, err := gameday.Parse(req.StartDate)
	if err != nil {
		http.Error(w, "invalid startDate", http.StatusBadRequest)
		return
	}
	end, err := gameday.Parse(req.EndDate)
	if err != nil || end.Before(start) || end.Sub(start) > 90*24*time.Hour {
		http.Error(w, "invalid date range", http.StatusBadRequest)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			res, err := s.ingest.SyncGamelogs(ctx, gameday.FromTime(day), true)
			if err != nil {
				s.log.WithError(err).WithField("day", gameday.FromTime(day)).Error("backfill day failed")
				continue
			}
			s.log.WithFields(map[string]any{
				"day": gameday.FromTime(day), "processed": res.Processed, "errors": res.Errors,
			}).Info("backfill day done")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "backfill started"})
}

// GET /api/admin/bots
func (s *Server) handleBotStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetBotStats()
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// POST /api/admin/bots/trigger
func (s *Server) handleBotTrigger(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()
	res, err := s.bots.RunTick(ctx)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/admin/premium {"userId": "...", "days": 30}
func (s *Server) handleGrantPremium(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		Days   int    `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Days <= 0 || req.Days > 365 {
		http.Error(w, "days must be 1..365", http.StatusBadRequest)
		return
	}

	expiresAt := time.Now().AddDate(0, 0, req.Days)
	if err := s.store.SetPremium(req.UserID, expiresAt); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": req.UserID, "premiumUntil": expiresAt})
}

// POST /api/admin/credit {"userId": "...", "amount": 5000}
func (s *Server) handleCreditBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		Amount int64  `json:"amount"` // cents
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	if err := s.store.CreditBalance(req.UserID, req.Amount); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.serverError(w, err)
		return
	}
	if user, err := s.store.GetUserByID(req.UserID); err == nil {
		s.hub.PortfolioChanged(user.ID, user.Balance)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "credited"})
}
