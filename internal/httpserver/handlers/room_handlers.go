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
	"rentvault/internal/sealing"
	"rentvault/internal/storage"
)

type createRoomReq struct {
	Name string `json:"name" validate:"required,max=60"`
}

func CreateRoom(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		if err := sealing.CanMutate(phaseState(c, sealing.PhaseCheckin), editOverride(r)); err != nil {
			respondLocked(w, "check-in is sealed", "acknowledge the edit override to add rooms")
			return
		}
		var req createRoomReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var count int64
		_ = db.Model(&models.Room{}).Where("case_id = ?", c.ID).Count(&count).Error
		room := models.Room{CaseID: c.ID, Name: req.Name, Position: int(count), CreatedAt: time.Now()}
		if err := db.Create(&room).Error; err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		respondStatus(w, http.StatusCreated, room)
	}
}

func ListRooms(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var rooms []models.Room
		_ = db.Where("case_id = ?", c.ID).Order("position asc").Find(&rooms).Error
		respondJSON(w, rooms)
	}
}

// DeleteRoom removes a room and its attached evidence. Permitted only while
// the phases its photos belong to are unsealed, or under an acknowledged
// edit override. Stored objects are removed after the rows so a storage
// hiccup cannot leave dangling metadata.
func DeleteRoom(db *gorm.DB, store storage.ObjectStore, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		var room models.Room
		if err := db.First(&room, "id = ?", roomID).Error; err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var c models.Case
		if err := db.First(&c, "id = ?", room.CaseID).Error; err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		claims := auth.FromContext(r.Context())
		if c.UserID != claims.Subject && !claims.IsAdmin() {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		var assets []models.Asset
		_ = db.Where("room_id = ?", room.ID).Find(&assets).Error
		override := editOverride(r)
		for _, a := range assets {
			if phase, governed := assetPhase(a.Kind); governed {
				if err := sealing.CanMutate(phaseState(&c, phase), override); err != nil {
					respondLocked(w, "room has sealed evidence", "acknowledge the edit override to delete")
					return
				}
			}
		}

		if err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&models.Asset{}, "room_id = ?", room.ID).Error; err != nil {
				return err
			}
			return tx.Delete(&models.Room{}, "id = ?", room.ID).Error
		}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for _, a := range assets {
			if err := store.Remove(r.Context(), a.StorageKey); err != nil {
				lg.Warnw("orphaned object after room delete", "key", a.StorageKey, "error", err)
			}
		}
		audit(db, claims.Subject, c.ID, "room.delete", map[string]any{"room": room.Name, "assets": len(assets)})
		respondJSON(w, map[string]any{"deleted": true})
	}
}
