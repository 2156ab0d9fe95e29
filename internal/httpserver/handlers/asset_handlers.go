package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rentvault/internal/auth"
	"rentvault/internal/entitlement"
	"rentvault/internal/models"
	"rentvault/internal/sealing"
	"rentvault/internal/storage"
)

const defaultFreeQuota = 3

func freeQuota() int {
	if s := os.Getenv("FREE_UPLOAD_QUOTA"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			return n
		}
	}
	return defaultFreeQuota
}

func validKind(kind string) bool {
	switch kind {
	case models.AssetCheckinPhoto, models.AssetHandoverPhoto, models.AssetMeterPhoto,
		models.AssetDepositProof, models.AssetContractPDF, models.AssetWalkthroughVideo,
		models.AssetIssuePhoto, models.AssetIssueVideo, models.AssetRelatedDocument:
		return true
	}
	return false
}

func countPhotos(db *gorm.DB, caseID string) int64 {
	kinds := make([]string, 0, len(models.PhotoKinds))
	for k := range models.PhotoKinds {
		kinds = append(kinds, k)
	}
	var n int64
	_ = db.Model(&models.Asset{}).Where("case_id = ? AND kind IN ?", caseID, kinds).Count(&n).Error
	return n
}

func storageKey(caseID, kind, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	return fmt.Sprintf("cases/%s/%s/%s-%s", caseID, kind, uuid.NewString(), base)
}

type uploadReq struct {
	Filename    string  `json:"filename" validate:"required,max=200"`
	ContentType string  `json:"content_type" validate:"required,max=100"`
	Kind        string  `json:"kind" validate:"required"`
	RoomID      *string `json:"room_id,omitempty"`
	IssueID     *string `json:"issue_id,omitempty"`
}

// checkUpload runs the shared admission checks for one intended file:
// kind validity, seal state, and the free-tier photo quota.
func checkUpload(db *gorm.DB, c *models.Case, req uploadReq, grant entitlement.Grant, override bool, photosSoFar int64) (int, error) {
	if !validKind(req.Kind) {
		return http.StatusBadRequest, fmt.Errorf("unknown asset kind %q", req.Kind)
	}
	if models.IssueKinds[req.Kind] && req.IssueID == nil {
		return http.StatusBadRequest, fmt.Errorf("%s requires issue_id", req.Kind)
	}
	if phase, governed := assetPhase(req.Kind); governed {
		if err := sealing.CanMutate(phaseState(c, phase), override); err != nil {
			return http.StatusLocked, err
		}
	}
	if models.PhotoKinds[req.Kind] && !grant.Allows(entitlement.FeatureUnlimitedUploads) {
		if photosSoFar >= int64(freeQuota()) {
			return http.StatusUnprocessableEntity, fmt.Errorf("free upload quota exhausted")
		}
	}
	return 0, nil
}

// RequestUpload issues a short-lived presigned PUT credential. No metadata
// row exists until the client registers the finished upload, so a failed
// transfer leaves nothing behind.
func RequestUpload(db *gorm.DB, store storage.ObjectStore, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var req uploadReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		claims := auth.FromContext(r.Context())
		grant := entitlement.Resolve(db, c, claims.IsAdmin())
		if status, err := checkUpload(db, c, req, grant, editOverride(r), countPhotos(db, c.ID)); err != nil {
			switch status {
			case http.StatusLocked:
				respondLocked(w, "phase is sealed", "acknowledge the edit override to upload")
			case http.StatusUnprocessableEntity:
				respondQuota(w, freeQuota())
			default:
				http.Error(w, err.Error(), status)
			}
			return
		}
		key := storageKey(c.ID, req.Kind, req.Filename)
		url, err := store.PresignPut(r.Context(), key, req.ContentType)
		if err != nil {
			lg.Errorw("presign put failed", "case", c.ID, "error", err)
			http.Error(w, "could not issue upload credential", http.StatusBadGateway)
			return
		}
		respondJSON(w, map[string]any{
			"storage_key": key,
			"upload_url":  url,
			"expires_in":  int(storage.PutExpiry.Seconds()),
		})
	}
}

// RequestUploadBatch admits files one by one and stops at the first quota
// hit: earlier files keep their credentials, later files in the same batch
// are not issued any.
func RequestUploadBatch(db *gorm.DB, store storage.ObjectStore, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var req struct {
			Files []uploadReq `json:"files" validate:"required,min=1,max=50,dive"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		claims := auth.FromContext(r.Context())
		grant := entitlement.Resolve(db, c, claims.IsAdmin())
		override := editOverride(r)
		photos := countPhotos(db, c.ID)

		type grantedFile struct {
			Filename   string `json:"filename"`
			StorageKey string `json:"storage_key"`
			UploadURL  string `json:"upload_url"`
		}
		granted := make([]grantedFile, 0, len(req.Files))
		var stopReason string
		for _, f := range req.Files {
			if status, err := checkUpload(db, c, f, grant, override, photos); err != nil {
				if status == http.StatusUnprocessableEntity {
					stopReason = "quota_exceeded"
					break
				}
				if status == http.StatusLocked {
					respondLocked(w, "phase is sealed", "acknowledge the edit override to upload")
					return
				}
				http.Error(w, err.Error(), status)
				return
			}
			key := storageKey(c.ID, f.Kind, f.Filename)
			url, err := store.PresignPut(r.Context(), key, f.ContentType)
			if err != nil {
				lg.Errorw("presign put failed", "case", c.ID, "error", err)
				http.Error(w, "could not issue upload credential", http.StatusBadGateway)
				return
			}
			granted = append(granted, grantedFile{Filename: f.Filename, StorageKey: key, UploadURL: url})
			if models.PhotoKinds[f.Kind] {
				photos++
			}
		}
		respondJSON(w, map[string]any{
			"granted":     granted,
			"stopped":     stopReason != "",
			"stop_reason": stopReason,
			"expires_in":  int(storage.PutExpiry.Seconds()),
		})
	}
}

type registerAssetReq struct {
	Kind            string   `json:"kind" validate:"required"`
	StorageKey      string   `json:"storage_key" validate:"required,max=300"`
	ContentType     string   `json:"content_type" validate:"required,max=100"`
	RoomID          *string  `json:"room_id,omitempty"`
	IssueID         *string  `json:"issue_id,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	ContentHash     *string  `json:"content_hash,omitempty"`
}

// RegisterAsset links an uploaded object to its case/room/issue. Single-slot
// kinds replace: the previous asset row is removed in the same transaction
// and its object deleted afterwards, so no orphan survives either way.
func RegisterAsset(db *gorm.DB, store storage.ObjectStore, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var req registerAssetReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !validKind(req.Kind) {
			http.Error(w, fmt.Sprintf("unknown asset kind %q", req.Kind), http.StatusBadRequest)
			return
		}
		if !strings.HasPrefix(req.StorageKey, "cases/"+c.ID+"/") {
			http.Error(w, "storage_key does not belong to this case", http.StatusBadRequest)
			return
		}
		if phase, governed := assetPhase(req.Kind); governed {
			if err := sealing.CanMutate(phaseState(c, phase), editOverride(r)); err != nil {
				respondLocked(w, "phase is sealed", "acknowledge the edit override to register")
				return
			}
		}
		if req.RoomID != nil {
			var room models.Room
			if err := db.First(&room, "id = ? AND case_id = ?", *req.RoomID, c.ID).Error; err != nil {
				http.Error(w, "room not found", http.StatusBadRequest)
				return
			}
		}
		if req.IssueID != nil {
			var issue models.Issue
			if err := db.First(&issue, "id = ? AND case_id = ?", *req.IssueID, c.ID).Error; err != nil {
				http.Error(w, "issue not found", http.StatusBadRequest)
				return
			}
		}

		var replaced []models.Asset
		asset := models.Asset{
			CaseID:          c.ID,
			RoomID:          req.RoomID,
			IssueID:         req.IssueID,
			Kind:            req.Kind,
			StorageKey:      req.StorageKey,
			ContentType:     req.ContentType,
			DurationSeconds: req.DurationSeconds,
			ContentHash:     req.ContentHash,
			CreatedAt:       time.Now(),
		}
		if err := db.Transaction(func(tx *gorm.DB) error {
			if models.SingleSlotKinds[req.Kind] {
				q := tx.Where("case_id = ? AND kind = ?", c.ID, req.Kind)
				if req.Kind == models.AssetMeterPhoto && req.RoomID != nil {
					q = q.Where("room_id = ?", *req.RoomID)
				}
				if err := q.Find(&replaced).Error; err != nil {
					return err
				}
				if len(replaced) > 0 {
					if err := tx.Delete(&models.Asset{}, "id IN ?", assetIDs(replaced)).Error; err != nil {
						return err
					}
				}
			}
			return tx.Create(&asset).Error
		}); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, old := range replaced {
			if err := store.Remove(r.Context(), old.StorageKey); err != nil {
				lg.Warnw("orphaned object after slot replace", "key", old.StorageKey, "error", err)
			}
		}
		audit(db, auth.Subject(r.Context()), c.ID, "asset.register", map[string]any{"kind": req.Kind, "replaced": len(replaced)})
		respondStatus(w, http.StatusCreated, asset)
	}
}

func assetIDs(assets []models.Asset) []string {
	ids := make([]string, len(assets))
	for i, a := range assets {
		ids[i] = a.ID
	}
	return ids
}

// ListAssets returns asset rows with presigned read URLs resolved in one
// batch, filterable by kind and room.
func ListAssets(db *gorm.DB, store storage.ObjectStore, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		q := db.Where("case_id = ?", c.ID)
		if kind := r.URL.Query().Get("kind"); kind != "" {
			q = q.Where("kind = ?", kind)
		}
		if roomID := r.URL.Query().Get("room_id"); roomID != "" {
			q = q.Where("room_id = ?", roomID)
		}
		var assets []models.Asset
		if err := q.Order("created_at asc").Find(&assets).Error; err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		keys := make([]string, len(assets))
		for i, a := range assets {
			keys[i] = a.StorageKey
		}
		urls, err := store.PresignGetBatch(r.Context(), keys)
		if err != nil {
			lg.Warnw("batch presign failed", "case", c.ID, "error", err)
			urls = map[string]string{}
		}
		type assetWithURL struct {
			models.Asset
			URL string `json:"url,omitempty"`
		}
		out := make([]assetWithURL, len(assets))
		for i, a := range assets {
			out[i] = assetWithURL{Asset: a, URL: urls[a.StorageKey]}
		}
		respondJSON(w, out)
	}
}

// AssetURL resolves one presigned read URL, optionally with a forced
// download disposition.
func AssetURL(db *gorm.DB, store storage.ObjectStore, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		asset, _, status, err := ownedAsset(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var url string
		if r.URL.Query().Get("download") == "1" {
			name := r.URL.Query().Get("filename")
			if name == "" {
				name = path.Base(asset.StorageKey)
			}
			url, err = store.PresignDownload(r.Context(), asset.StorageKey, name)
		} else {
			url, err = store.PresignGet(r.Context(), asset.StorageKey)
		}
		if err != nil {
			lg.Errorw("presign get failed", "asset", asset.ID, "error", err)
			http.Error(w, "could not issue read credential", http.StatusBadGateway)
			return
		}
		respondJSON(w, map[string]any{
			"url":        url,
			"expires_in": int(storage.GetExpiry.Seconds()),
		})
	}
}

// DeleteAsset removes evidence. Issue media is always deletable; everything
// else only while its phase is unsealed or under an acknowledged override.
// The row goes first, the object second: a storage failure can orphan bytes
// but never metadata.
func DeleteAsset(db *gorm.DB, store storage.ObjectStore, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		asset, c, status, err := ownedAsset(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		if phase, governed := assetPhase(asset.Kind); governed {
			if err := sealing.CanMutate(phaseState(c, phase), editOverride(r)); err != nil {
				respondLocked(w, "phase is sealed", "acknowledge the edit override to delete")
				return
			}
		}
		if err := db.Delete(&models.Asset{}, "id = ?", asset.ID).Error; err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := store.Remove(r.Context(), asset.StorageKey); err != nil {
			lg.Warnw("orphaned object after asset delete", "key", asset.StorageKey, "error", err)
		}
		audit(db, auth.Subject(r.Context()), c.ID, "asset.delete", map[string]any{"kind": asset.Kind})
		respondJSON(w, map[string]any{"deleted": true})
	}
}

// ownedAsset loads an asset by {assetID} and its case, enforcing ownership.
func ownedAsset(db *gorm.DB, r *http.Request) (*models.Asset, *models.Case, int, error) {
	id := chi.URLParam(r, "assetID")
	var asset models.Asset
	if err := db.First(&asset, "id = ?", id).Error; err != nil {
		return nil, nil, http.StatusNotFound, err
	}
	var c models.Case
	if err := db.First(&c, "id = ?", asset.CaseID).Error; err != nil {
		return nil, nil, http.StatusNotFound, err
	}
	claims := auth.FromContext(r.Context())
	if c.UserID != claims.Subject && !claims.IsAdmin() {
		return nil, nil, http.StatusNotFound, gorm.ErrRecordNotFound
	}
	return &asset, &c, 0, nil
}
