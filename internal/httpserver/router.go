package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rentvault/internal/auth"
	"rentvault/internal/httpserver/handlers"
	"rentvault/internal/services/contractai"
	"rentvault/internal/services/payments"
	"rentvault/internal/storage"
)

// Deps carries the external collaborators the handlers orchestrate.
type Deps struct {
	DB       *gorm.DB
	Store    storage.ObjectStore
	Payments payments.Provider
	Stripe   *payments.StripeProvider
	AI       contractai.Analyzer
	Log      *zap.SugaredLogger
}

func NewRouter(d Deps) http.Handler {
	db, lg := d.DB, d.Log
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Logger)

	r.Post("/v1/auth/register", handlers.Register(db, lg))
	r.Post("/v1/auth/login", handlers.Login(db, lg))
	if d.Stripe != nil {
		r.Post("/v1/stripe/webhook", handlers.StripeWebhook(db, d.Stripe, lg))
	}

	r.Group(func(protected chi.Router) {
		protected.Use(auth.JWTAuth(db))
		protected.Get("/v1/me", handlers.Me(db, lg))
		protected.Post("/v1/auth/logout", handlers.Logout(db))
		protected.Post("/v1/auth/password", handlers.ChangePassword(db, lg))

		protected.Post("/v1/cases", handlers.CreateCase(db, lg))
		protected.Get("/v1/cases", handlers.ListCases(db, lg))
		protected.Get("/v1/cases/{id}", handlers.GetCase(db, lg))
		protected.Patch("/v1/cases/{id}", handlers.UpdateCase(db, lg))
		protected.Delete("/v1/cases/{id}", handlers.DeleteCase(db, lg))

		protected.Post("/v1/cases/{id}/rooms", handlers.CreateRoom(db, lg))
		protected.Get("/v1/cases/{id}/rooms", handlers.ListRooms(db, lg))
		protected.Delete("/v1/rooms/{roomID}", handlers.DeleteRoom(db, d.Store, lg))

		protected.Post("/v1/cases/{id}/uploads", handlers.RequestUpload(db, d.Store, lg))
		protected.Post("/v1/cases/{id}/uploads/batch", handlers.RequestUploadBatch(db, d.Store, lg))
		protected.Post("/v1/cases/{id}/assets", handlers.RegisterAsset(db, d.Store, lg))
		protected.Get("/v1/cases/{id}/assets", handlers.ListAssets(db, d.Store, lg))
		protected.Get("/v1/assets/{assetID}/url", handlers.AssetURL(db, d.Store, lg))
		protected.Delete("/v1/assets/{assetID}", handlers.DeleteAsset(db, d.Store, lg))

		protected.Post("/v1/cases/{id}/lock/{phase}", handlers.LockPhase(db, lg))
		protected.Post("/v1/cases/{id}/keys-returned", handlers.ConfirmKeysReturned(db, lg))

		protected.Post("/v1/cases/{id}/issues", handlers.CreateIssue(db, lg))
		protected.Get("/v1/cases/{id}/issues", handlers.ListIssues(db, lg))
		protected.Patch("/v1/issues/{issueID}", handlers.UpdateIssue(db, lg))
		protected.Delete("/v1/issues/{issueID}", handlers.DeleteIssue(db, d.Store, lg))

		protected.Post("/v1/cases/{id}/deadlines", handlers.CreateDeadline(db, lg))
		protected.Get("/v1/cases/{id}/deadlines", handlers.ListDeadlines(db, lg))
		protected.Delete("/v1/deadlines/{deadlineID}", handlers.DeleteDeadline(db, lg))

		protected.Post("/v1/cases/{id}/checkout", handlers.CreateCheckout(db, d.Payments, lg))
		protected.Get("/v1/cases/{id}/purchases/callback", handlers.PurchaseCallback(db, d.Payments, lg))
		protected.Get("/v1/cases/{id}/purchases", handlers.ListPurchases(db, lg))
		protected.Get("/v1/cases/{id}/entitlements", handlers.GetEntitlements(db, lg))

		protected.Get("/v1/cases/{id}/export/{pack}", handlers.Export(db, d.Store, lg))

		protected.Post("/v1/cases/{id}/contract/analyze", handlers.AnalyzeContract(db, d.AI, lg))
		protected.Post("/v1/cases/{id}/contract/ask", handlers.AskContract(db, d.AI, lg))
		protected.Post("/v1/cases/{id}/contract/translate", handlers.TranslateContract(db, d.AI, lg))
		protected.Post("/v1/cases/{id}/documents/classify", handlers.ClassifyDocument(db, d.AI, lg))

		protected.Get("/v1/logs", handlers.MyLogs(db, lg))

		protected.Group(func(admin chi.Router) {
			admin.Use(auth.RequireRole(auth.RoleAdministrator))
			admin.Get("/v1/admin/users", handlers.ListUsers(db, lg))
			admin.Post("/v1/admin/users", handlers.CreateUser(db, lg))
			admin.Patch("/v1/admin/users/{id}", handlers.UpdateUser(db, lg))
			admin.Delete("/v1/admin/users/{id}", handlers.DeleteUser(db, lg))
			admin.Get("/v1/admin/cases", handlers.ListAllCases(db, lg))
			admin.Post("/v1/admin/cases/{id}/reset-seal/{phase}", handlers.ResetSeal(db, lg))
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return r
}
