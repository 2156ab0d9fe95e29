package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rentvault/internal/auth"
	"rentvault/internal/entitlement"
	"rentvault/internal/models"
	"rentvault/internal/services/payments"
)

// Pack prices in cents. Checkout always re-prices server-side; the client
// never sends an amount.
var packPrices = map[entitlement.Pack]int64{
	entitlement.PackCheckin: 990,
	entitlement.PackDeposit: 1990,
	entitlement.PackBundle:  2490,
}

const packCurrency = "eur"

type checkoutReq struct {
	Pack string `json:"pack" validate:"required"`
}

func CreateCheckout(db *gorm.DB, provider payments.Provider, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var req checkoutReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		pack, err := entitlement.ParsePack(req.Pack)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sess, err := provider.CreateCheckout(r.Context(), c.ID, pack, packPrices[pack], packCurrency)
		if err != nil {
			lg.Errorw("checkout creation failed", "case", c.ID, "pack", pack, "error", err)
			http.Error(w, "payment provider unavailable", http.StatusBadGateway)
			return
		}
		audit(db, auth.Subject(r.Context()), c.ID, "checkout.create", map[string]any{"pack": string(pack)})
		respondJSON(w, map[string]any{"session_id": sess.ID, "redirect_url": sess.RedirectURL})
	}
}

// recordPurchase upserts the purchase row for a confirmed checkout. Safe to
// call from both the redirect callback and the webhook; the session id is
// unique so the second writer finds the first one's row.
func recordPurchase(db *gorm.DB, conf *payments.Confirmation) (*models.Purchase, error) {
	var p models.Purchase
	err := db.Where("stripe_session_id = ?", conf.SessionID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := time.Now()
		p = models.Purchase{
			CaseID:          conf.CaseID,
			Pack:            string(conf.Pack),
			StripeSessionID: conf.SessionID,
			AmountCents:     conf.AmountCents,
			Currency:        conf.Currency,
			CompletedAt:     &now,
			CreatedAt:       now,
		}
		if err := db.Create(&p).Error; err != nil {
			return nil, err
		}
		// keep the legacy fallback column in sync for degraded-mode reads
		_ = db.Model(&models.Case{}).Where("id = ?", conf.CaseID).Update("purchase_type", string(conf.Pack)).Error
		return &p, nil
	}
	if err != nil {
		return nil, err
	}
	if p.CompletedAt == nil {
		now := time.Now()
		p.CompletedAt = &now
		if err := db.Save(&p).Error; err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// PurchaseCallback is the post-payment redirect target. The success flag in
// the URL is advisory only: the session is re-confirmed with the processor
// before any entitlement is recorded, and the fresh grant is returned so the
// client re-queries instead of assuming.
func PurchaseCallback(db *gorm.DB, provider payments.Provider, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			http.Error(w, "session_id required", http.StatusBadRequest)
			return
		}
		conf, err := provider.ConfirmCheckout(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, payments.ErrNotPaid) {
				respondStatus(w, http.StatusConflict, map[string]any{"error": "payment not completed"})
				return
			}
			lg.Errorw("checkout confirmation failed", "session", sessionID, "error", err)
			http.Error(w, "payment provider unavailable", http.StatusBadGateway)
			return
		}
		var c models.Case
		if err := db.First(&c, "id = ?", conf.CaseID).Error; err != nil {
			http.Error(w, "case not found", http.StatusNotFound)
			return
		}
		claims := auth.FromContext(r.Context())
		if c.UserID != claims.Subject && !claims.IsAdmin() {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if _, err := recordPurchase(db, conf); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		audit(db, claims.Subject, c.ID, "purchase.complete", map[string]any{"pack": string(conf.Pack)})
		grant := entitlement.Resolve(db, &c, claims.IsAdmin())
		respondJSON(w, map[string]any{"pack": string(conf.Pack), "entitlements": grant})
	}
}

// StripeWebhook covers the path where the tenant never comes back from the
// redirect: checkout.session.completed lands the purchase row anyway.
func StripeWebhook(db *gorm.DB, provider *payments.StripeProvider, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}
		event, err := provider.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			lg.Warnw("webhook signature rejected", "error", err)
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}
		if event.Type != stripe.EventTypeCheckoutSessionCompleted {
			w.WriteHeader(http.StatusOK)
			return
		}
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			lg.Errorw("could not parse checkout session from webhook", "error", err)
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		pack, err := entitlement.ParsePack(sess.Metadata["pack"])
		if err != nil {
			lg.Warnw("webhook session without pack metadata", "session", sess.ID)
			w.WriteHeader(http.StatusOK)
			return
		}
		conf := &payments.Confirmation{
			SessionID:   sess.ID,
			CaseID:      sess.Metadata["case_id"],
			Pack:        pack,
			AmountCents: sess.AmountTotal,
			Currency:    string(sess.Currency),
		}
		if _, err := recordPurchase(db, conf); err != nil {
			lg.Errorw("webhook purchase record failed", "session", sess.ID, "error", err)
			http.Error(w, "record error", http.StatusInternalServerError)
			return
		}
		audit(db, "", conf.CaseID, "purchase.webhook", map[string]any{"pack": string(pack)})
		w.WriteHeader(http.StatusOK)
	}
}

// GetEntitlements exposes the resolved grant for a case.
func GetEntitlements(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		grant := entitlement.Resolve(db, c, auth.FromContext(r.Context()).IsAdmin())
		respondJSON(w, grant)
	}
}

// ListPurchases returns the raw purchase rows for a case.
func ListPurchases(db *gorm.DB, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, status, err := ownedCase(db, r)
		if err != nil {
			http.Error(w, "not found", status)
			return
		}
		var rows []models.Purchase
		_ = db.Where("case_id = ?", c.ID).Order("created_at desc").Find(&rows).Error
		respondJSON(w, rows)
	}
}
