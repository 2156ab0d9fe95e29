package handlers

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rentvault/internal/models"
)

func assetRouter(db *gorm.DB, store *fakeStore, userID string) chi.Router {
	lg := testLogger()
	r := chi.NewRouter()
	r.Use(asUser(userID, false))
	r.Post("/v1/cases/{id}/uploads", RequestUpload(db, store, lg))
	r.Post("/v1/cases/{id}/uploads/batch", RequestUploadBatch(db, store, lg))
	r.Post("/v1/cases/{id}/assets", RegisterAsset(db, store, lg))
	r.Get("/v1/cases/{id}/assets", ListAssets(db, store, lg))
	r.Get("/v1/assets/{assetID}/url", AssetURL(db, store, lg))
	r.Delete("/v1/assets/{assetID}", DeleteAsset(db, store, lg))
	return r
}

func TestRequestUploadIssuesCredential(t *testing.T) {
	db := testDB(t)
	c, room := seedCase(t, db, "tenant-1")
	store := &fakeStore{}
	r := assetRouter(db, store, "tenant-1")

	body := jsonBody(t, map[string]any{
		"filename": "kitchen.jpg", "content_type": "image/jpeg",
		"kind": models.AssetCheckinPhoto, "room_id": room.ID,
	})
	w := doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/uploads", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		StorageKey string `json:"storage_key"`
		UploadURL  string `json:"upload_url"`
		ExpiresIn  int    `json:"expires_in"`
	}
	decodeJSON(t, w, &resp)
	assert.Contains(t, resp.StorageKey, "cases/"+c.ID+"/")
	assert.NotEmpty(t, resp.UploadURL)
	assert.Equal(t, 900, resp.ExpiresIn)

	// no metadata row exists until the client registers
	var n int64
	_ = db.Model(&models.Asset{}).Where("case_id = ?", c.ID).Count(&n).Error
	assert.Zero(t, n)
}

func TestUploadQuotaForUnpaidCase(t *testing.T) {
	db := testDB(t)
	c, room := seedCase(t, db, "tenant-1")
	for i := 0; i < 3; i++ {
		seedRoomPhoto(t, db, c, room, models.AssetCheckinPhoto)
	}
	r := assetRouter(db, &fakeStore{}, "tenant-1")

	body := jsonBody(t, map[string]any{
		"filename": "fourth.jpg", "content_type": "image/jpeg",
		"kind": models.AssetCheckinPhoto, "room_id": room.ID,
	})
	w := doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/uploads", body, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// a completed purchase lifts the limit
	now := time.Now()
	require.NoError(t, db.Create(&models.Purchase{
		CaseID: c.ID, Pack: "checkin", StripeSessionID: "cs_quota_1", CompletedAt: &now,
	}).Error)
	body = jsonBody(t, map[string]any{
		"filename": "fourth.jpg", "content_type": "image/jpeg",
		"kind": models.AssetCheckinPhoto, "room_id": room.ID,
	})
	w = doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/uploads", body, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestBatchUploadStopsAtQuotaBoundary(t *testing.T) {
	db := testDB(t)
	c, room := seedCase(t, db, "tenant-1")
	seedRoomPhoto(t, db, c, room, models.AssetCheckinPhoto)
	r := assetRouter(db, &fakeStore{}, "tenant-1")

	files := make([]map[string]any, 5)
	for i := range files {
		files[i] = map[string]any{
			"filename":     fmt.Sprintf("photo-%d.jpg", i),
			"content_type": "image/jpeg",
			"kind":         models.AssetCheckinPhoto,
			"room_id":      room.ID,
		}
	}
	w := doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/uploads/batch", jsonBody(t, map[string]any{"files": files}), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Granted    []struct{ Filename string } `json:"granted"`
		Stopped    bool                        `json:"stopped"`
		StopReason string                      `json:"stop_reason"`
	}
	decodeJSON(t, w, &resp)
	// one photo already uploaded, quota 3: exactly two more credentials
	require.Len(t, resp.Granted, 2)
	assert.Equal(t, "photo-0.jpg", resp.Granted[0].Filename)
	assert.Equal(t, "photo-1.jpg", resp.Granted[1].Filename)
	assert.True(t, resp.Stopped)
	assert.Equal(t, "quota_exceeded", resp.StopReason)
}

func TestRegisterThenListRoundTrip(t *testing.T) {
	db := testDB(t)
	c, room := seedCase(t, db, "tenant-1")
	store := &fakeStore{}
	r := assetRouter(db, store, "tenant-1")

	key := "cases/" + c.ID + "/checkin_photo/abc-kitchen.jpg"
	body := jsonBody(t, map[string]any{
		"kind": models.AssetCheckinPhoto, "storage_key": key,
		"content_type": "image/jpeg", "room_id": room.ID,
	})
	w := doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/assets", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doRequest(r, http.MethodGet, "/v1/cases/"+c.ID+"/assets?room_id="+room.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []struct {
		Kind       string `json:"kind"`
		StorageKey string `json:"storage_key"`
		URL        string `json:"url"`
	}
	decodeJSON(t, w, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, key, listed[0].StorageKey)
	assert.Equal(t, "https://store.test/get/"+key, listed[0].URL)
}

func TestRegisterRejectsForeignStorageKey(t *testing.T) {
	db := testDB(t)
	c, _ := seedCase(t, db, "tenant-1")
	r := assetRouter(db, &fakeStore{}, "tenant-1")

	body := jsonBody(t, map[string]any{
		"kind": models.AssetRelatedDocument, "storage_key": "cases/other-case/doc/x.pdf",
		"content_type": "application/pdf",
	})
	w := doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/assets", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSingleSlotReplaceRemovesPrevious(t *testing.T) {
	db := testDB(t)
	c, _ := seedCase(t, db, "tenant-1")
	store := &fakeStore{}
	r := assetRouter(db, store, "tenant-1")

	oldKey := "cases/" + c.ID + "/contract_pdf/old.pdf"
	body := jsonBody(t, map[string]any{
		"kind": models.AssetContractPDF, "storage_key": oldKey, "content_type": "application/pdf",
	})
	w := doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/assets", body, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	newKey := "cases/" + c.ID + "/contract_pdf/new.pdf"
	body = jsonBody(t, map[string]any{
		"kind": models.AssetContractPDF, "storage_key": newKey, "content_type": "application/pdf",
	})
	w = doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/assets", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rows []models.Asset
	require.NoError(t, db.Where("case_id = ? AND kind = ?", c.ID, models.AssetContractPDF).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, newKey, rows[0].StorageKey)
	assert.Contains(t, store.removed, oldKey)
}

func TestSealedPhaseBlocksMutationsUntilOverride(t *testing.T) {
	db := testDB(t)
	c, room := seedCase(t, db, "tenant-1")
	photo := seedRoomPhoto(t, db, c, room, models.AssetCheckinPhoto)
	now := time.Now()
	require.NoError(t, db.Model(&models.Case{}).Where("id = ?", c.ID).Update("checkin_completed_at", now).Error)

	store := &fakeStore{}
	r := assetRouter(db, store, "tenant-1")

	// delete without override: locked
	w := doRequest(r, http.MethodDelete, "/v1/assets/"+photo.ID, nil, nil)
	assert.Equal(t, http.StatusLocked, w.Code)

	// upload credential request is gated the same way
	body := jsonBody(t, map[string]any{
		"filename": "late.jpg", "content_type": "image/jpeg",
		"kind": models.AssetCheckinPhoto, "room_id": room.ID,
	})
	w = doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/uploads", body, nil)
	assert.Equal(t, http.StatusLocked, w.Code)

	// acknowledged override permits the write; the seal stays in place
	hdr := http.Header{}
	hdr.Set(overrideHeader, "acknowledged")
	w = doRequest(r, http.MethodDelete, "/v1/assets/"+photo.ID, nil, hdr)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, store.removed, photo.StorageKey)

	var fresh models.Case
	require.NoError(t, db.First(&fresh, "id = ?", c.ID).Error)
	assert.NotNil(t, fresh.CheckinCompletedAt)
}

func TestIssueMediaAlwaysDeletable(t *testing.T) {
	db := testDB(t)
	c, _ := seedCase(t, db, "tenant-1")
	issue := models.Issue{CaseID: c.ID, Title: "Mold in bathroom", HappenedAt: time.Now()}
	require.NoError(t, db.Create(&issue).Error)
	media := models.Asset{
		CaseID: c.ID, IssueID: &issue.ID, Kind: models.AssetIssuePhoto,
		StorageKey: "cases/" + c.ID + "/issue_photo/mold.jpg", ContentType: "image/jpeg",
	}
	require.NoError(t, db.Create(&media).Error)

	// both phases sealed
	now := time.Now()
	require.NoError(t, db.Model(&models.Case{}).Where("id = ?", c.ID).
		Updates(map[string]any{"checkin_completed_at": now, "handover_completed_at": now}).Error)

	store := &fakeStore{}
	r := assetRouter(db, store, "tenant-1")
	w := doRequest(r, http.MethodDelete, "/v1/assets/"+media.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, store.removed, media.StorageKey)
}

func TestAssetURLDownloadDisposition(t *testing.T) {
	db := testDB(t)
	c, room := seedCase(t, db, "tenant-1")
	photo := seedRoomPhoto(t, db, c, room, models.AssetCheckinPhoto)
	r := assetRouter(db, &fakeStore{}, "tenant-1")

	w := doRequest(r, http.MethodGet, "/v1/assets/"+photo.ID+"/url?download=1&filename=kitchen.jpg", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		URL       string `json:"url"`
		ExpiresIn int    `json:"expires_in"`
	}
	decodeJSON(t, w, &resp)
	assert.Contains(t, resp.URL, "dl=kitchen.jpg")
	assert.Equal(t, 3600, resp.ExpiresIn)
}
