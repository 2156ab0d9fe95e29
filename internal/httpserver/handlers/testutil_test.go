package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"rentvault/internal/auth"
	"rentvault/internal/entitlement"
	"rentvault/internal/models"
	"rentvault/internal/services/payments"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Role{}, &models.User{}, &models.Session{}, &models.AuditLog{},
		&models.Case{}, &models.Room{}, &models.Asset{}, &models.Issue{},
		&models.Deadline{}, &models.Purchase{},
	))
	return db
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// fakeStore is an in-memory ObjectStore that records removals.
type fakeStore struct {
	removed []string
	failPut bool
}

func (f *fakeStore) PresignPut(_ context.Context, key, _ string) (string, error) {
	if f.failPut {
		return "", fmt.Errorf("store unavailable")
	}
	return "https://store.test/put/" + key, nil
}

func (f *fakeStore) PresignGet(_ context.Context, key string) (string, error) {
	return "https://store.test/get/" + key, nil
}

func (f *fakeStore) PresignDownload(_ context.Context, key, filename string) (string, error) {
	return "https://store.test/get/" + key + "?dl=" + filename, nil
}

func (f *fakeStore) PresignGetBatch(_ context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = "https://store.test/get/" + k
	}
	return out, nil
}

func (f *fakeStore) Remove(_ context.Context, key string) error {
	f.removed = append(f.removed, key)
	return nil
}

// fakePayments confirms every known session as paid.
type fakePayments struct {
	sessions map[string]*payments.Confirmation
}

func (f *fakePayments) CreateCheckout(_ context.Context, caseID string, pack entitlement.Pack, amountCents int64, currency string) (*payments.Session, error) {
	id := "cs_test_" + uuid.NewString()
	if f.sessions == nil {
		f.sessions = map[string]*payments.Confirmation{}
	}
	f.sessions[id] = &payments.Confirmation{
		SessionID: id, CaseID: caseID, Pack: pack, AmountCents: amountCents, Currency: currency,
	}
	return &payments.Session{ID: id, RedirectURL: "https://pay.test/" + id}, nil
}

func (f *fakePayments) ConfirmCheckout(_ context.Context, sessionID string) (*payments.Confirmation, error) {
	conf, ok := f.sessions[sessionID]
	if !ok {
		return nil, payments.ErrNotPaid
	}
	return conf, nil
}

// asUser injects auth claims the way the JWT middleware would.
func asUser(userID string, admin bool) func(http.Handler) http.Handler {
	roles := []string{auth.RoleTenant}
	if admin {
		roles = []string{auth.RoleAdministrator}
	}
	claims := auth.Claims{Subject: userID, JWTID: "test", Roles: roles}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func doRequest(router chi.Router, method, target string, body *bytes.Reader, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

// seedCase creates a tenant-owned case with one room.
func seedCase(t *testing.T, db *gorm.DB, userID string) (*models.Case, *models.Room) {
	t.Helper()
	c := models.Case{UserID: userID, Label: "Hauptstrasse 12"}
	require.NoError(t, db.Create(&c).Error)
	room := models.Room{CaseID: c.ID, Name: "Kitchen"}
	require.NoError(t, db.Create(&room).Error)
	return &c, &room
}

func seedRoomPhoto(t *testing.T, db *gorm.DB, c *models.Case, room *models.Room, kind string) *models.Asset {
	t.Helper()
	a := models.Asset{
		CaseID:      c.ID,
		RoomID:      &room.ID,
		Kind:        kind,
		StorageKey:  fmt.Sprintf("cases/%s/%s/%s.jpg", c.ID, kind, uuid.NewString()),
		ContentType: "image/jpeg",
	}
	require.NoError(t, db.Create(&a).Error)
	return &a
}
