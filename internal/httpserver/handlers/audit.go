package handlers

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"rentvault/internal/models"
)

// audit records a mutating action. Best effort: an audit write failure never
// fails the request that triggered it.
func audit(db *gorm.DB, userID, caseID, action string, meta map[string]any) {
	row := models.AuditLog{Action: action, CreatedAt: time.Now()}
	if userID != "" {
		row.UserID = &userID
	}
	if caseID != "" {
		row.CaseID = &caseID
	}
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			row.Metadata = models.JSONB(b)
		}
	}
	_ = db.Create(&row).Error
}
