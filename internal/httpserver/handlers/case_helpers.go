package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"rentvault/internal/auth"
	"rentvault/internal/models"
	"rentvault/internal/sealing"
)

// overrideHeader is how a client signals the user acknowledged the
// edit-after-seal warning. It permits writes without clearing the seal.
const overrideHeader = "X-Edit-Override"

func editOverride(r *http.Request) bool {
	return r.Header.Get(overrideHeader) == "acknowledged"
}

// ownedCase loads the case from the {id} URL param and checks that the
// caller owns it (administrators see everything). A foreign case reads as
// not-found so ids do not leak.
func ownedCase(db *gorm.DB, r *http.Request) (*models.Case, int, error) {
	id := chi.URLParam(r, "id")
	var c models.Case
	if err := db.First(&c, "id = ?", id).Error; err != nil {
		return nil, http.StatusNotFound, err
	}
	claims := auth.FromContext(r.Context())
	if c.UserID != claims.Subject && !claims.IsAdmin() {
		return nil, http.StatusNotFound, gorm.ErrRecordNotFound
	}
	return &c, 0, nil
}

// phaseState derives the sealing state for one phase of the case.
func phaseState(c *models.Case, p sealing.Phase) sealing.State {
	switch p {
	case sealing.PhaseHandover:
		return sealing.FromTimestamp(c.HandoverCompletedAt)
	default:
		return sealing.FromTimestamp(c.CheckinCompletedAt)
	}
}

// assetPhase maps an asset kind to the phase whose seal governs it.
// Issue media and related documents are never sealed.
func assetPhase(kind string) (sealing.Phase, bool) {
	switch kind {
	case models.AssetCheckinPhoto, models.AssetContractPDF:
		return sealing.PhaseCheckin, true
	case models.AssetHandoverPhoto, models.AssetDepositProof:
		return sealing.PhaseHandover, true
	case models.AssetMeterPhoto, models.AssetWalkthroughVideo:
		return sealing.PhaseCheckin, true
	}
	return "", false
}

// countRoomPhotos counts photos attached to rooms for the phase's
// completeness predicate.
func countRoomPhotos(db *gorm.DB, caseID string, p sealing.Phase) int64 {
	kind := models.AssetCheckinPhoto
	if p == sealing.PhaseHandover {
		kind = models.AssetHandoverPhoto
	}
	var n int64
	_ = db.Model(&models.Asset{}).
		Where("case_id = ? AND kind = ? AND room_id IS NOT NULL", caseID, kind).
		Count(&n).Error
	return n
}
