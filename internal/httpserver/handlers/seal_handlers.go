package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rentvault/internal/auth"
	"rentvault/internal/entitlement"
	"rentvault/internal/models"
	"rentvault/internal/sealing"
)

func phaseColumn(p sealing.Phase) string {
	if p == sealing.PhaseHandover {
		return "handover_completed_at"
	}
	return "checkin_completed_at"
}

// LockPhase seals a phase. The timestamp is stamped from the server clock and
// the write is guarded so the first one wins: a repeated lock (double-click,
// retried request) returns the existing timestamp unchanged.
func LockPhase(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phase, err := sealing.ParsePhase(chi.URLParam(r, "phase"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}

		claims := auth.FromContext(r.Context())
		if phase == sealing.PhaseHandover {
			grant := entitlement.Resolve(db, c, claims.IsAdmin())
			if !grant.Allows(entitlement.FeatureHandoverAccess) {
				respondLocked(w, "handover requires the deposit or bundle pack", "/v1/cases/"+c.ID+"/checkout")
				return
			}
		}

		state := phaseState(c, phase)
		ev := sealing.Evidence{
			RoomPhotos:   int(countRoomPhotos(db, c.ID, phase)),
			KeysReturned: c.KeysReturnedAt != nil,
		}
		next, changed, err := sealing.Lock(phase, state, ev, time.Now())
		if err != nil {
			respondStatus(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
			return
		}
		sealedAt, _ := next.At()
		if changed {
			col := phaseColumn(phase)
			// guard against a concurrent lock racing us between read and write
			res := db.Model(&models.Case{}).
				Where("id = ? AND "+col+" IS NULL", c.ID).
				Update(col, sealedAt)
			if res.Error != nil {
				http.Error(w, res.Error.Error(), http.StatusInternalServerError)
				return
			}
			if res.RowsAffected == 0 {
				// lost the race; report the timestamp that actually landed
				var fresh models.Case
				if err := db.First(&fresh, "id = ?", c.ID).Error; err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				if at, ok := phaseState(&fresh, phase).At(); ok {
					sealedAt = at
				}
			} else {
				audit(db, claims.Subject, c.ID, "phase.lock", map[string]any{"phase": string(phase)})
			}
		}
		respondJSON(w, map[string]any{
			"phase":     string(phase),
			"sealed":    true,
			"sealed_at": sealedAt,
		})
	}
}

// ConfirmKeysReturned stamps the keys-returned confirmation needed before the
// handover phase can seal. Idempotent like the seal itself.
func ConfirmKeysReturned(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		if c.KeysReturnedAt == nil {
			now := time.Now().UTC()
			res := db.Model(&models.Case{}).
				Where("id = ? AND keys_returned_at IS NULL", c.ID).
				Update("keys_returned_at", now)
			if res.Error != nil {
				http.Error(w, res.Error.Error(), http.StatusInternalServerError)
				return
			}
			c.KeysReturnedAt = &now
			audit(db, auth.Subject(r.Context()), c.ID, "keys.returned", nil)
		}
		respondJSON(w, map[string]any{"keys_returned_at": c.KeysReturnedAt})
	}
}

// ResetSeal is the explicit administrative reset, the only flow that ever
// clears a completion timestamp.
func ResetSeal(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phase, err := sealing.ParsePhase(chi.URLParam(r, "phase"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id := chi.URLParam(r, "id")
		var c models.Case
		if err := db.First(&c, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := db.Model(&c).Update(phaseColumn(phase), gorm.Expr("NULL")).Error; err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		audit(db, auth.Subject(r.Context()), c.ID, "phase.reset", map[string]any{"phase": string(phase)})
		respondJSON(w, map[string]any{"phase": string(phase), "sealed": false})
	}
}
