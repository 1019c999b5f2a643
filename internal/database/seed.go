package database

import (
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// SeedUsers inserts a demo account per role plus a storefront and a
// delivery partner, so a fresh database is immediately usable.
func SeedUsers(db *sqlx.DB) error {
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM users"); err != nil {
		return err
	}
	if count > 0 {
		log.Info("✓ Users already seeded, skipping...")
		return nil
	}

	log.Info("🌱 Seeding demo users...")

	users := []struct {
		email, name, role, password string
	}{
		{"client@swiftdash.dev", "Demo Client", "client", "client123"},
		{"store@swiftdash.dev", "Corner Kitchen", "store", "store123"},
		{"partner@swiftdash.dev", "Riley Partner", "partner", "partner123"},
		{"admin@swiftdash.dev", "Admin", "admin", "admin123"},
	}

	ids := map[string]string{}
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		id := uuid.New().String()
		ids[u.role] = id
		_, err = db.Exec(`
			INSERT INTO users (id, email, password, name, role)
			VALUES ($1, $2, $3, $4, $5)`,
			id, u.email, string(hash), u.name, u.role)
		if err != nil {
			return err
		}
	}

	_, err := db.Exec(`
		INSERT INTO stores (id, owner_id, name, address, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), ids["store"], "Corner Kitchen",
		"180 Park Ave, San Jose", 37.3351, -121.8894)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT INTO partners (id, user_id, name, phone, vehicle_type)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), ids["partner"], "Riley Partner", "+1-408-555-0188", "bike")
	if err != nil {
		return err
	}

	log.Info("✅ Demo users, store and partner seeded")
	return nil
}
