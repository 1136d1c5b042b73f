package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/xtrntr/backoffice/internal/apperr"
	"github.com/xtrntr/backoffice/internal/auth"
	"github.com/xtrntr/backoffice/internal/config"
	"github.com/xtrntr/backoffice/internal/db"
	"github.com/xtrntr/backoffice/internal/logger"
	"go.uber.org/zap"
)

// Creates a staff superuser, running migrations first
func main() {
	email := flag.String("email", "", "superuser email (required)")
	password := flag.String("password", "", "superuser password (required)")
	firstName := flag.String("first", "", "first name")
	lastName := flag.String("last", "", "last name")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()
	database, err := db.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(ctx)

	if err := database.Migrate(ctx); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}

	authService := auth.NewAuthService(database,
		auth.BcryptHasher{Cost: cfg.Auth.BcryptCost},
		auth.DefaultPasswordPolicy(cfg.Auth.MinPasswordLength),
		log)

	user, token, err := authService.CreateSuperuser(ctx, auth.RegisterInput{
		Email:     *email,
		Password:  *password,
		FirstName: *firstName,
		LastName:  *lastName,
	})
	var ae *apperr.Error
	if errors.As(err, &ae) {
		for _, msg := range ae.Messages {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("failed to create superuser", zap.Error(err))
	}

	fmt.Printf("Superuser %s created (id %d, account %s)\n", user.Email, user.ID, user.AccountID)
	fmt.Printf("Token: %s\n", token)
}
