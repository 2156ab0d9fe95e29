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
	"rentvault/internal/storage"
)

// Issue log handlers. Issues live outside the sealing model: no seal check
// anywhere here, and issue media stays deletable after either phase locks.

type createIssueReq struct {
	Title      string     `json:"title" validate:"required,max=120"`
	Note       string     `json:"note" validate:"max=4000"`
	HappenedAt *time.Time `json:"happened_at,omitempty"`
}

func CreateIssue(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var req createIssueReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req.Title = strings.TrimSpace(req.Title)
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		happened := time.Now()
		if req.HappenedAt != nil {
			happened = *req.HappenedAt
		}
		issue := models.Issue{
			CaseID:     c.ID,
			Title:      req.Title,
			Note:       req.Note,
			HappenedAt: happened,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
		if err := db.Create(&issue).Error; err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		respondStatus(w, http.StatusCreated, issue)
	}
}

func ListIssues(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var issues []models.Issue
		_ = db.Where("case_id = ?", c.ID).Order("happened_at desc").Find(&issues).Error
		respondJSON(w, issues)
	}
}

func UpdateIssue(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issue, c, status, err := ownedIssue(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var req struct {
			Title      *string    `json:"title"`
			Note       *string    `json:"note"`
			HappenedAt *time.Time `json:"happened_at"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Title != nil {
			title := strings.TrimSpace(*req.Title)
			if title == "" {
				http.Error(w, "title required", http.StatusBadRequest)
				return
			}
			issue.Title = title
		}
		if req.Note != nil {
			issue.Note = *req.Note
		}
		if req.HappenedAt != nil {
			issue.HappenedAt = *req.HappenedAt
		}
		issue.UpdatedAt = time.Now()
		if err := db.Save(issue).Error; err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		audit(db, auth.Subject(r.Context()), c.ID, "issue.update", nil)
		respondJSON(w, issue)
	}
}

// DeleteIssue removes the entry and its media in one transaction, then the
// stored objects.
func DeleteIssue(db *gorm.DB, store storage.ObjectStore, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issue, c, status, err := ownedIssue(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var media []models.Asset
		_ = db.Where("issue_id = ?", issue.ID).Find(&media).Error
		if err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&models.Asset{}, "issue_id = ?", issue.ID).Error; err != nil {
				return err
			}
			return tx.Delete(&models.Issue{}, "id = ?", issue.ID).Error
		}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for _, a := range media {
			if err := store.Remove(r.Context(), a.StorageKey); err != nil {
				lg.Warnw("orphaned object after issue delete", "key", a.StorageKey, "error", err)
			}
		}
		audit(db, auth.Subject(r.Context()), c.ID, "issue.delete", map[string]any{"media": len(media)})
		respondJSON(w, map[string]any{"deleted": true})
	}
}

func ownedIssue(db *gorm.DB, r *http.Request) (*models.Issue, *models.Case, int, error) {
	id := chi.URLParam(r, "issueID")
	var issue models.Issue
	if err := db.First(&issue, "id = ?", id).Error; err != nil {
		return nil, nil, http.StatusNotFound, err
	}
	var c models.Case
	if err := db.First(&c, "id = ?", issue.CaseID).Error; err != nil {
		return nil, nil, http.StatusNotFound, err
	}
	claims := auth.FromContext(r.Context())
	if c.UserID != claims.Subject && !claims.IsAdmin() {
		return nil, nil, http.StatusNotFound, gorm.ErrRecordNotFound
	}
	return &issue, &c, 0, nil
}
