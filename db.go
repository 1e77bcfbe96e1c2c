package main

import (
	"log"
	"os"
	"strings"

	"recorte/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var db *gorm.DB

func initDB() {
	var err error
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN is not set. This project requires a Postgres DSN in DB_DSN.")
	}
	db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect postgres database:", err)
	}
	// Control schema migrations with env DB_AUTO_MIGRATE (default true). Any permission errors will be logged and ignored.
	shouldMigrate := true
	if v := os.Getenv("DB_AUTO_MIGRATE"); v != "" {
		lv := strings.ToLower(v)
		if lv == "false" || lv == "0" || lv == "no" {
			shouldMigrate = false
		}
	}
	// Ensure the roles master table exists first and seed it so users FK can be applied safely.
	if shouldMigrate {
		if err := db.AutoMigrate(&models.Role{}); err != nil {
			log.Printf("migration warning (roles): %v", err)
		}
	}
	seedRoles()

	// Now migrate the rest (users will get FK to roles)
	if shouldMigrate {
		// Migrate models individually so a failure on one doesn't block others
		if err := db.AutoMigrate(&models.User{}); err != nil {
			log.Printf("migration warning (users): %v", err)
		}
		if err := db.AutoMigrate(&models.Invoice{}); err != nil {
			log.Printf("migration warning (invoices): %v", err)
		}
		if err := db.AutoMigrate(&models.CropPreset{}); err != nil {
			log.Printf("migration warning (crop_presets): %v", err)
		}
		if err := db.AutoMigrate(&models.Extraction{}); err != nil {
			log.Printf("migration warning (extractions): %v", err)
		}
		if err := db.AutoMigrate(&models.RefreshToken{}); err != nil {
			log.Printf("migration warning (refresh_tokens): %v", err)
		}
	}
	seedDB()
}

func seedRoles() {
	roles := []models.Role{{Name: "administrator", Description: "full access"}, {Name: "user", Description: "regular user"}}
	for _, r := range roles {
		var cnt int64
		db.Model(&models.Role{}).Where("name = ?", r.Name).Count(&cnt)
		if cnt == 0 {
			db.Create(&r)
		}
	}
}

func seedDB() {
	seedRoles()

	// Check if admin user exists
	var count int64
	db.Model(&models.User{}).Where("username = ?", "admin").Count(&count)
	if count == 0 {
		var role models.Role
		if err := db.Where("name = ?", "administrator").First(&role).Error; err != nil {
			log.Printf("failed to find administrator role: %v", err)
		}
		rid := role.ID
		admin := models.User{
			Username: "admin",
			RoleID:   &rid,
		}
		hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
		admin.HashedPassword = hashedPassword
		db.Create(&admin)
		log.Println("Seeded admin user: username=admin, password=admin123")
	}

	seedPresets()
	ensureUploadBase()
}

// seedPresets inserts the built-in distributor crop presets: the known table
// positions on the first page of each distributor's invoice at 200 DPI,
// meant as starting points for fine-tuning.
func seedPresets() {
	presets := []models.CropPreset{
		{Distributor: "CEMIG", PageIndex: 0, X1: 100, Y1: 400, X2: 500, Y2: 800, DPI: 200, Builtin: true},
		{Distributor: "ENEL", PageIndex: 0, X1: 80, Y1: 350, X2: 520, Y2: 750, DPI: 200, Builtin: true},
		{Distributor: "COPEL", PageIndex: 0, X1: 90, Y1: 380, X2: 510, Y2: 780, DPI: 200, Builtin: true},
	}
	for _, p := range presets {
		var cnt int64
		db.Model(&models.CropPreset{}).Where("distributor = ? AND page_index = ?", p.Distributor, p.PageIndex).Count(&cnt)
		if cnt == 0 {
			if err := db.Create(&p).Error; err != nil {
				log.Printf("failed to seed preset %s: %v", p.Distributor, err)
			}
		}
	}
}

// ensureUploadBase creates the base uploads directory.
func ensureUploadBase() {
	base := uploadBaseDir()
	if err := os.MkdirAll(base, 0755); err != nil {
		log.Printf("failed to create upload base dir %s: %v", base, err)
	}
}

// uploadBaseDir returns the base directory for local uploads (configurable via UPLOAD_BASE env)
func uploadBaseDir() string {
	if v := os.Getenv("UPLOAD_BASE"); v != "" {
		return v
	}
	return "uploads"
}
