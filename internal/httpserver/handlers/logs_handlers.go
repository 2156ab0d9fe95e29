package handlers

import (
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"rentvault/internal/auth"
	"rentvault/internal/models"
)

// MyLogs returns recent audit logs. Tenants see their own actions;
// administrators can pass ?all=1 for everyone, or ?case_id= for one case.
func MyLogs(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := r.URL.Query().Get("all") == "1"
		caseID := r.URL.Query().Get("case_id")
		isAdmin := auth.FromContext(r.Context()).IsAdmin()

		q := db.Order("created_at desc").Limit(200)
		switch {
		case all && isAdmin:
		case caseID != "" && isAdmin:
			q = q.Where("case_id = ?", caseID)
		default:
			q = q.Where("user_id = ?", auth.Subject(r.Context()))
		}
		var logs []models.AuditLog
		_ = q.Find(&logs).Error
		respondJSON(w, logs)
	}
}

// ListAllCases is the admin inventory view, including retired cases.
func ListAllCases(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cs []models.Case
		_ = db.Order("created_at desc").Limit(500).Find(&cs).Error
		respondJSON(w, cs)
	}
}
