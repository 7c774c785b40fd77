// seed-admin creates or resets the marketplace admin account.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//     ADMIN_EMAIL=admin@local ADMIN_PASSWORD=secret go run ./cmd/seed-admin
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
	"bitbucket.org/mmdatafocus/datamart_backend/models"
)

const (
	defaultAdminEmail    = "admin@datamart.local"
	defaultAdminPassword = "D@taMartAdmin"
)

func main() {
	email := strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))
	if email == "" {
		email = defaultAdminEmail
	}
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = defaultAdminPassword
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	user, err := models.SeedAdmin(context.Background(), email, password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed admin: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("admin ready: %s (user_id=%s)\n", user.Email, user.UserId)
}
