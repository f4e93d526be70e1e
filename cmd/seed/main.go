// Command seed loads demo users, listings, and provider balances into the
// database and prints bearer tokens for each account. Registration and
// subscription purchase live outside this service, so local development
// starts from seeded state.
//
// Usage:
//
//	DATABASE_URL=... JWT_SECRET=... go run ./cmd/seed
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/mensahlabs/rentlink/internal/catalog"
	"github.com/mensahlabs/rentlink/internal/identity"
	"github.com/mensahlabs/rentlink/internal/payout"
)

type seedUser struct {
	name string
	role identity.Role
	tier identity.Tier
}

func main() {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()
	users := identity.NewPostgresUserStore(db)
	listings := catalog.NewPostgresStore(db)
	payouts := payout.NewLedger(payout.NewPostgresStore(db), time.Minute)
	issuer := identity.NewTokenIssuer(secret, 30*24*time.Hour)

	expires := time.Now().AddDate(0, 1, 0)
	seeds := []seedUser{
		{"Ama Tenant (free)", identity.RoleTenant, identity.TierFree},
		{"Kofi Tenant (basic)", identity.RoleTenant, identity.TierBasic},
		{"Esi Tenant (relax)", identity.RoleTenant, identity.TierRelax},
		{"Kwame Mensah", identity.RoleProvider, identity.TierFree},
		{"Adjoa Landlord", identity.RoleLandlord, identity.TierFree},
		{"Platform Admin", identity.RoleAdmin, identity.TierSuperuser},
	}

	fmt.Println("Seeded accounts:")
	seeded := make(map[string]string) // name -> id
	for _, su := range seeds {
		id := uuid.NewString()
		user := &identity.User{
			ID:                    id,
			Name:                  su.name,
			Role:                  su.role,
			Tier:                  su.tier,
			SubscriptionExpiresAt: &expires,
		}
		if err := users.Insert(ctx, user); err != nil {
			log.Fatalf("Failed to insert user %s: %v", su.name, err)
		}
		token, err := issuer.Issue(id)
		if err != nil {
			log.Fatalf("Failed to issue token for %s: %v", su.name, err)
		}
		seeded[su.name] = id
		fmt.Printf("  %-22s %-9s %-9s %s\n", su.name, su.role, su.tier, id)
		fmt.Printf("    token: %s\n", token)
	}

	landlordID := seeded["Adjoa Landlord"]
	demoListings := []*catalog.Listing{
		{Title: "2BR apartment, East Legon", Area: "East Legon", Rent: 1200_00, ContactName: "Adjoa Asante", ContactPhone: "0244111222"},
		{Title: "Single room self-contain, Osu", Area: "Osu", Rent: 450_00, ContactName: "Adjoa Asante", ContactPhone: "0244111222"},
		{Title: "3BR house, Tema Community 25", Area: "Tema", Rent: 2500_00, ContactName: "Adjoa Asante", ContactPhone: "0244111222"},
	}
	fmt.Println("Seeded listings:")
	for _, l := range demoListings {
		l.ID = "lst_" + uuid.NewString()[:8]
		l.LandlordID = landlordID
		l.CreatedAt = time.Now()
		if err := listings.Create(ctx, l); err != nil {
			log.Fatalf("Failed to insert listing %q: %v", l.Title, err)
		}
		fmt.Printf("  %-10s %-32s GHS %s\n", l.ID, l.Title, l.Rent)
	}

	providerID := seeded["Kwame Mensah"]
	if err := payouts.Credit(ctx, providerID, payout.Amount(1540_00), "seed-earnings"); err != nil {
		log.Fatalf("Failed to credit provider balance: %v", err)
	}
	fmt.Printf("Credited provider %s with GHS 1540.00\n", providerID)
}
