package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"rentvault/internal/auth"
	"rentvault/internal/entitlement"
	"rentvault/internal/models"
	"rentvault/internal/sealing"
)

// retentionPeriod is how long a deleted case stays readable before it is
// eligible for purging.
const retentionPeriod = 365 * 24 * time.Hour

type createCaseReq struct {
	Label      string     `json:"label" validate:"required,max=120"`
	LeaseStart *time.Time `json:"lease_start,omitempty"`
	LeaseEnd   *time.Time `json:"lease_end,omitempty"`
}

func CreateCase(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createCaseReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req.Label = strings.TrimSpace(req.Label)
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c := models.Case{
			UserID:     auth.Subject(r.Context()),
			Label:      req.Label,
			LeaseStart: req.LeaseStart,
			LeaseEnd:   req.LeaseEnd,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
		if err := db.Create(&c).Error; err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		audit(db, c.UserID, c.ID, "case.create", map[string]any{"label": c.Label})
		respondStatus(w, http.StatusCreated, c)
	}
}

func ListCases(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cs []models.Case
		_ = db.Where("user_id = ?", auth.Subject(r.Context())).Order("created_at desc").Find(&cs).Error
		respondJSON(w, cs)
	}
}

// GetCase returns the case together with the derived seal states and the
// resolved entitlement grant, so clients never re-derive those locally.
func GetCase(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		grant := entitlement.Resolve(db, c, auth.FromContext(r.Context()).IsAdmin())
		respondJSON(w, map[string]any{
			"case":            c,
			"checkin_sealed":  phaseState(c, sealing.PhaseCheckin).Sealed(),
			"handover_sealed": phaseState(c, sealing.PhaseHandover).Sealed(),
			"entitlements":    grant,
		})
	}
}

func UpdateCase(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var req struct {
			Label      *string    `json:"label"`
			LeaseStart *time.Time `json:"lease_start"`
			LeaseEnd   *time.Time `json:"lease_end"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Label != nil {
			label := strings.TrimSpace(*req.Label)
			if label == "" {
				http.Error(w, "label required", http.StatusBadRequest)
				return
			}
			c.Label = label
		}
		if req.LeaseStart != nil {
			c.LeaseStart = req.LeaseStart
		}
		if req.LeaseEnd != nil {
			c.LeaseEnd = req.LeaseEnd
		}
		c.UpdatedAt = time.Now()
		if err := db.Save(c).Error; err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, c)
	}
}

// DeleteCase never hard-deletes: it stamps retention_until and leaves the
// row (and its evidence) readable until the retention period expires.
func DeleteCase(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		until := time.Now().Add(retentionPeriod)
		c.RetentionUntil = &until
		c.UpdatedAt = time.Now()
		if err := db.Save(c).Error; err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		audit(db, auth.Subject(r.Context()), c.ID, "case.retire", map[string]any{"retention_until": until})
		respondJSON(w, map[string]any{"retention_until": until})
	}
}
