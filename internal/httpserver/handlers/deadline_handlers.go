package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rentvault/internal/auth"
	"rentvault/internal/models"
)

func validDeadlineKind(kind string) bool {
	switch kind {
	case models.DeadlineTerminationNotice, models.DeadlineRentPayment, models.DeadlineCustom:
		return true
	}
	return false
}

type createDeadlineReq struct {
	Kind             string    `json:"kind" validate:"required"`
	Label            string    `json:"label" validate:"max=120"`
	DueOn            time.Time `json:"due_on" validate:"required"`
	RemindDaysBefore []int     `json:"remind_days_before" validate:"max=5,dive,min=0,max=365"`
}

func CreateDeadline(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var req createDeadlineReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !validDeadlineKind(req.Kind) {
			http.Error(w, "unknown deadline kind", http.StatusBadRequest)
			return
		}
		if req.RemindDaysBefore == nil {
			req.RemindDaysBefore = []int{}
		}
		offsets, err := json.Marshal(req.RemindDaysBefore)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		d := models.Deadline{
			CaseID:           c.ID,
			Kind:             req.Kind,
			Label:            strings.TrimSpace(req.Label),
			DueOn:            req.DueOn,
			RemindDaysBefore: models.JSONB(offsets),
			CreatedAt:        time.Now(),
		}
		if err := db.Create(&d).Error; err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		respondStatus(w, http.StatusCreated, d)
	}
}

func ListDeadlines(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var ds []models.Deadline
		_ = db.Where("case_id = ?", c.ID).Order("due_on asc").Find(&ds).Error
		respondJSON(w, ds)
	}
}

func DeleteDeadline(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "deadlineID")
		var d models.Deadline
		if err := db.First(&d, "id = ?", id).Error; err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var c models.Case
		if err := db.First(&c, "id = ?", d.CaseID).Error; err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		claims := auth.FromContext(r.Context())
		if c.UserID != claims.Subject && !claims.IsAdmin() {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := db.Delete(&models.Deadline{}, "id = ?", d.ID).Error; err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, map[string]any{"deleted": true})
	}
}
