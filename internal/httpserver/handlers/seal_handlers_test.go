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

func sealRouter(db *gorm.DB, userID string, admin bool) chi.Router {
	lg := testLogger()
	r := chi.NewRouter()
	r.Use(asUser(userID, admin))
	r.Post("/v1/cases/{id}/lock/{phase}", LockPhase(db, lg))
	r.Post("/v1/cases/{id}/keys-returned", ConfirmKeysReturned(db, lg))
	r.Post("/v1/admin/cases/{id}/reset-seal/{phase}", ResetSeal(db, lg))
	return r
}

func TestLockCheckinWithoutPhotosFails(t *testing.T) {
	db := testDB(t)
	c, _ := seedCase(t, db, "tenant-1")
	r := sealRouter(db, "tenant-1", false)

	w := doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/lock/checkin", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var fresh models.Case
	require.NoError(t, db.First(&fresh, "id = ?", c.ID).Error)
	assert.Nil(t, fresh.CheckinCompletedAt)
}

func TestLockCheckinStampsTimestamp(t *testing.T) {
	db := testDB(t)
	c, room := seedCase(t, db, "tenant-1")
	seedRoomPhoto(t, db, c, room, models.AssetCheckinPhoto)
	r := sealRouter(db, "tenant-1", false)

	w := doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/lock/checkin", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var fresh models.Case
	require.NoError(t, db.First(&fresh, "id = ?", c.ID).Error)
	assert.NotNil(t, fresh.CheckinCompletedAt)
}

func TestLockTwiceKeepsFirstTimestamp(t *testing.T) {
	db := testDB(t)
	c, room := seedCase(t, db, "tenant-1")
	seedRoomPhoto(t, db, c, room, models.AssetCheckinPhoto)
	r := sealRouter(db, "tenant-1", false)

	w := doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/lock/checkin", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var first models.Case
	require.NoError(t, db.First(&first, "id = ?", c.ID).Error)
	require.NotNil(t, first.CheckinCompletedAt)

	// simulated double-click: second lock succeeds without moving the stamp
	w = doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/lock/checkin", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var second models.Case
	require.NoError(t, db.First(&second, "id = ?", c.ID).Error)
	require.NotNil(t, second.CheckinCompletedAt)
	assert.True(t, first.CheckinCompletedAt.Equal(*second.CheckinCompletedAt))
}

func TestLockHandoverNeedsKeysAndEntitlement(t *testing.T) {
	db := testDB(t)
	c, room := seedCase(t, db, "tenant-1")
	seedRoomPhoto(t, db, c, room, models.AssetHandoverPhoto)
	r := sealRouter(db, "tenant-1", false)

	// no deposit/bundle pack: locked out of the handover workflow entirely
	w := doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/lock/handover", nil, nil)
	assert.Equal(t, http.StatusLocked, w.Code)

	now := time.Now()
	require.NoError(t, db.Create(&models.Purchase{
		CaseID: c.ID, Pack: "deposit", StripeSessionID: "cs_seal_1", CompletedAt: &now,
	}).Error)

	// entitled but keys not confirmed
	w = doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/lock/handover", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/keys-returned", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/lock/handover", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var fresh models.Case
	require.NoError(t, db.First(&fresh, "id = ?", c.ID).Error)
	assert.NotNil(t, fresh.HandoverCompletedAt)
}

func TestKeysReturnedIdempotent(t *testing.T) {
	db := testDB(t)
	c, _ := seedCase(t, db, "tenant-1")
	r := sealRouter(db, "tenant-1", false)

	w := doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/keys-returned", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var first models.Case
	require.NoError(t, db.First(&first, "id = ?", c.ID).Error)
	require.NotNil(t, first.KeysReturnedAt)

	w = doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/keys-returned", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var second models.Case
	require.NoError(t, db.First(&second, "id = ?", c.ID).Error)
	assert.True(t, first.KeysReturnedAt.Equal(*second.KeysReturnedAt))
}

func TestAdminResetClearsSeal(t *testing.T) {
	db := testDB(t)
	c, room := seedCase(t, db, "tenant-1")
	seedRoomPhoto(t, db, c, room, models.AssetCheckinPhoto)

	tenant := sealRouter(db, "tenant-1", false)
	w := doRequest(tenant, http.MethodPost, "/v1/cases/"+c.ID+"/lock/checkin", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	admin := sealRouter(db, "admin-1", true)
	w = doRequest(admin, http.MethodPost, "/v1/admin/cases/"+c.ID+"/reset-seal/checkin", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var fresh models.Case
	require.NoError(t, db.First(&fresh, "id = ?", c.ID).Error)
	assert.Nil(t, fresh.CheckinCompletedAt)
}

func TestForeignCaseReadsAsNotFound(t *testing.T) {
	db := testDB(t)
	c, _ := seedCase(t, db, "tenant-1")
	r := sealRouter(db, "tenant-2", false)

	w := doRequest(r, http.MethodPost, "/v1/cases/"+c.ID+"/lock/checkin", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
