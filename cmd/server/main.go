package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	accounts "github.com/stetsolutions/go-accounts"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString("server: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	// .env is optional, the environment wins either way
	_ = godotenv.Load()

	cfg, err := accounts.LoadConfig()
	if err != nil {
		return err
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DatabaseURL)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := accounts.CreateSchema(ctx, db); err != nil {
		return err
	}

	repo := accounts.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		return err
	}

	sessions := accounts.NewSessionManager(repo, cfg.SessionKey, time.Duration(cfg.SessionTTLHours)*time.Hour)
	tokens := accounts.NewVerificationService(repo)

	gate, err := accounts.NewGate(cfg.PolicyFile)
	if err != nil {
		return err
	}

	var mailer accounts.Mailer
	if cfg.MailHost != "" {
		mailer, err = accounts.NewSMTPMailer(cfg.MailHost, cfg.MailPort, cfg.MailUsername, cfg.MailPassword)
		if err != nil {
			return err
		}
	} else {
		mailer = accounts.LogMailer{}
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: accounts.ErrorHandler,
	})

	controller := accounts.NewHTTPController(repo, sessions, tokens, mailer, cfg)
	controller.RegisterRoutes(app, gate)

	sweeper := accounts.NewSweeper(tokens)
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	errs := make(chan error, 1)
	go func() {
		errs <- app.Listen(cfg.HTTPAddr)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return app.ShutdownWithTimeout(10 * time.Second)
	}
}
