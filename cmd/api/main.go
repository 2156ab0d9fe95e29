package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"rentvault/internal/auth"
	"rentvault/internal/httpserver"
	"rentvault/internal/logger"
	"rentvault/internal/models"
	"rentvault/internal/services/contractai"
	"rentvault/internal/services/payments"
	"rentvault/internal/storage"
)

func main() {
	_ = godotenv.Load()
	lg := logger.New()
	defer lg.Sync()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		lg.Fatalw("DATABASE_URL is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		lg.Fatalw("db connect failed", "error", err)
	}
	if err := db.AutoMigrate(
		&models.Role{}, &models.User{}, &models.Session{}, &models.AuditLog{},
		&models.Case{}, &models.Room{}, &models.Asset{}, &models.Issue{},
		&models.Deadline{}, &models.Purchase{},
	); err != nil {
		lg.Fatalw("automigrate failed", "error", err)
	}
	seedRolesAndAdmin(db, lg)

	store, err := storage.NewMinioStore(storage.ConfigFromEnv())
	if err != nil {
		lg.Fatalw("object store init failed", "error", err)
	}
	if err := store.EnsureBucket(context.Background()); err != nil {
		lg.Fatalw("object store bucket check failed", "error", err)
	}

	stripeProvider := payments.NewStripeProvider()
	analyzer := contractai.NewOpenAIAnalyzer(os.Getenv("OPENAI_API_KEY"))

	router := httpserver.NewRouter(httpserver.Deps{
		DB:       db,
		Store:    store,
		Payments: stripeProvider,
		Stripe:   stripeProvider,
		AI:       analyzer,
		Log:      lg,
	})

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}
	lg.Infow("listening", "port", port)
	if err := http.ListenAndServe(":"+port, router); err != nil {
		log.Fatal(err)
	}
}

func seedRolesAndAdmin(db *gorm.DB, lg *zap.SugaredLogger) {
	for _, name := range []string{auth.RoleAdministrator, auth.RoleTenant} {
		var count int64
		db.Model(&models.Role{}).Where("name = ?", name).Count(&count)
		if count == 0 {
			_ = db.Create(&models.Role{Name: name}).Error
		}
	}

	email := strings.ToLower(os.Getenv("ADMIN_EMAIL"))
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		return
	}
	var count int64
	db.Model(&models.User{}).Where("LOWER(email) = ?", email).Count(&count)
	if count > 0 {
		return
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		lg.Warnw("admin seed skipped", "error", err)
		return
	}
	u := models.User{Email: email, PasswordHash: hash, IsActive: true, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := db.Create(&u).Error; err != nil {
		lg.Warnw("admin seed failed", "error", err)
		return
	}
	var adminRole models.Role
	if err := db.First(&adminRole, "name = ?", auth.RoleAdministrator).Error; err == nil {
		_ = db.Model(&u).Association("Roles").Append(&adminRole)
	}
	lg.Infow("seeded administrator", "email", email)
}
