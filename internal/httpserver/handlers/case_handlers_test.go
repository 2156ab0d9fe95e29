package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rentvault/internal/models"
)

func caseRouter(db *gorm.DB, userID string, admin bool) chi.Router {
	lg := testLogger()
	r := chi.NewRouter()
	r.Use(asUser(userID, admin))
	r.Post("/v1/cases", CreateCase(db, lg))
	r.Get("/v1/cases", ListCases(db, lg))
	r.Get("/v1/cases/{id}", GetCase(db, lg))
	r.Patch("/v1/cases/{id}", UpdateCase(db, lg))
	r.Delete("/v1/cases/{id}", DeleteCase(db, lg))
	return r
}

func TestCreateAndListCases(t *testing.T) {
	db := testDB(t)
	r := caseRouter(db, "tenant-1", false)

	w := doRequest(r, http.MethodPost, "/v1/cases",
		jsonBody(t, map[string]any{"label": "  Hauptstrasse 12  "}), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.Case
	decodeJSON(t, w, &created)
	assert.Equal(t, "Hauptstrasse 12", created.Label)
	assert.Equal(t, "tenant-1", created.UserID)

	w = doRequest(r, http.MethodGet, "/v1/cases", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []models.Case
	decodeJSON(t, w, &listed)
	require.Len(t, listed, 1)

	// another tenant sees an empty list
	other := caseRouter(db, "tenant-2", false)
	w = doRequest(other, http.MethodGet, "/v1/cases", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var othersCases []models.Case
	decodeJSON(t, w, &othersCases)
	assert.Empty(t, othersCases)
}

func TestCreateCaseRequiresLabel(t *testing.T) {
	db := testDB(t)
	r := caseRouter(db, "tenant-1", false)

	w := doRequest(r, http.MethodPost, "/v1/cases", jsonBody(t, map[string]any{"label": "   "}), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetCaseIncludesSealStateAndGrant(t *testing.T) {
	db := testDB(t)
	c, _ := seedCase(t, db, "tenant-1")
	now := time.Now()
	require.NoError(t, db.Model(&models.Case{}).Where("id = ?", c.ID).Update("checkin_completed_at", now).Error)
	r := caseRouter(db, "tenant-1", false)

	w := doRequest(r, http.MethodGet, "/v1/cases/"+c.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		CheckinSealed  bool `json:"checkin_sealed"`
		HandoverSealed bool `json:"handover_sealed"`
		Entitlements   struct {
			Packs []string `json:"packs"`
		} `json:"entitlements"`
	}
	decodeJSON(t, w, &resp)
	assert.True(t, resp.CheckinSealed)
	assert.False(t, resp.HandoverSealed)
	assert.Empty(t, resp.Entitlements.Packs)
}

func TestUpdateCasePatchesFields(t *testing.T) {
	db := testDB(t)
	c, _ := seedCase(t, db, "tenant-1")
	r := caseRouter(db, "tenant-1", false)

	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	w := doRequest(r, http.MethodPatch, "/v1/cases/"+c.ID,
		jsonBody(t, map[string]any{"label": "Nebenstrasse 3", "lease_start": start}), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var fresh models.Case
	require.NoError(t, db.First(&fresh, "id = ?", c.ID).Error)
	assert.Equal(t, "Nebenstrasse 3", fresh.Label)
	require.NotNil(t, fresh.LeaseStart)
	assert.True(t, fresh.LeaseStart.Equal(start))
}

func TestDeleteCaseStampsRetention(t *testing.T) {
	db := testDB(t)
	c, _ := seedCase(t, db, "tenant-1")
	r := caseRouter(db, "tenant-1", false)

	w := doRequest(r, http.MethodDelete, "/v1/cases/"+c.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// retired, not gone: the row and its evidence stay readable
	var fresh models.Case
	require.NoError(t, db.First(&fresh, "id = ?", c.ID).Error)
	require.NotNil(t, fresh.RetentionUntil)
	assert.True(t, fresh.RetentionUntil.After(time.Now().Add(300*24*time.Hour)))
}

func TestGetForeignCaseNotFound(t *testing.T) {
	db := testDB(t)
	c, _ := seedCase(t, db, "tenant-1")
	r := caseRouter(db, "tenant-2", false)

	w := doRequest(r, http.MethodGet, "/v1/cases/"+c.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
