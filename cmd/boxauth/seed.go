package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alecgard/boxauth/internal/config"
	"github.com/alecgard/boxauth/internal/gym"
	"github.com/alecgard/boxauth/internal/user"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a platform admin and a demo gym",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

const (
	seedAdminEmail    = "admin@boxauth.local"
	seedAdminPassword = "changeme-admin"
	seedOwnerEmail    = "owner@boxauth.local"
	seedOwnerPassword = "changeme-owner"
	seedGymName       = "Demo Box"
)

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	users := user.NewStore(pool)
	gyms := gym.NewStore(pool)

	// Check if seed has already run.
	if _, err := users.GetByEmail(ctx, seedAdminEmail); err == nil {
		slog.Info("seed data already exists, skipping")
		return nil
	} else if !errors.Is(err, user.ErrNotFound) {
		return fmt.Errorf("checking existing admin: %w", err)
	}

	admin, err := users.Create(ctx, user.CreateUserInput{
		Email:     seedAdminEmail,
		Password:  seedAdminPassword,
		FirstName: "Platform",
		LastName:  "Admin",
		Role:      user.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("creating admin: %w", err)
	}
	slog.Info("created platform admin", "id", admin.ID, "email", admin.Email)

	owner, err := users.Create(ctx, user.CreateUserInput{
		Email:     seedOwnerEmail,
		Password:  seedOwnerPassword,
		FirstName: "Demo",
		LastName:  "Owner",
	})
	if err != nil {
		return fmt.Errorf("creating demo owner: %w", err)
	}

	code, err := gym.GenerateEnrollmentCode()
	if err != nil {
		return err
	}
	g, err := gyms.Create(ctx, gym.CreateGymInput{
		Name:           seedGymName,
		EnrollmentCode: code,
		AutoSubscribe:  true,
	})
	if err != nil {
		return fmt.Errorf("creating demo gym: %w", err)
	}
	if _, err := gyms.SetStatus(ctx, g.ID, gym.StatusActive); err != nil {
		return fmt.Errorf("activating demo gym: %w", err)
	}
	if _, err := gyms.CreateMembership(ctx, owner.ID, g.ID, gym.MembershipActive, gym.RoleOwner); err != nil {
		return fmt.Errorf("creating owner membership: %w", err)
	}
	slog.Info("created demo gym", "id", g.ID, "name", g.Name)

	fmt.Printf("\n=== Demo Data Seeded ===\n")
	fmt.Printf("Admin:   %s / %s\n", seedAdminEmail, seedAdminPassword)
	fmt.Printf("Owner:   %s / %s\n", seedOwnerEmail, seedOwnerPassword)
	fmt.Printf("Gym:     %s (%s)\n", g.Name, g.ID)
	fmt.Printf("Enrollment code: %s\n", code)
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl -X POST http://localhost:8080/api/v1/auth/login -d '{\"email\":\"%s\",\"password\":\"%s\"}'\n", seedOwnerEmail, seedOwnerPassword)

	return nil
}
