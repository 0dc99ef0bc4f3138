package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/binarkredit/kredit-api/internal/config"
	"github.com/binarkredit/kredit-api/internal/logging"
	"github.com/binarkredit/kredit-api/internal/media"
	miniorepo "github.com/binarkredit/kredit-api/internal/repository/minio"
	"github.com/binarkredit/kredit-api/internal/repository/postgres"
	"github.com/binarkredit/kredit-api/internal/service"
	transporthttp "github.com/binarkredit/kredit-api/internal/transport/http"
	"github.com/binarkredit/kredit-api/internal/transport/mail"
	"github.com/binarkredit/kredit-api/internal/util"
)

func main() {
	cfg := config.Load()

	if cfg.LogstashTCPAddr != "" {
		writer, err := logging.NewLogstashWriter(cfg.LogstashTCPAddr)
		if err != nil {
			log.Printf("logstash disabled: %v", err)
		} else {
			defer writer.Close()
			log.SetOutput(io.MultiWriter(os.Stderr, writer))
		}
	}

	db, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer db.Close()

	minioClient, err := miniorepo.NewClient(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOUseSSL)
	if err != nil {
		log.Fatalf("connect minio: %v", err)
	}
	storage := miniorepo.NewStorage(minioClient, cfg.MinIOPublicURL)

	userRepo := postgres.NewUserRepo(db)
	roleRepo := postgres.NewRoleRepo(db)
	sessionRepo := postgres.NewSessionRepo(db)
	resetRepo := postgres.NewPasswordResetRepo(db)
	branchRepo := postgres.NewBranchRepo(db)
	plafondRepo := postgres.NewPlafondRepo(db)

	mailer := mail.NewPasswordResetMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom, cfg.FrontendBaseURL)
	processor := media.NewFFMPEGProcessor(cfg.FFmpegPath, cfg.AvatarMaxDimension)
	jwtManager := util.NewJWTManager(cfg.JWTSecret, cfg.SessionTTL)

	authService := service.NewAuthService(userRepo, roleRepo, sessionRepo, resetRepo, storage, mailer, processor, jwtManager, service.AuthServiceConfig{
		GoogleAudience: cfg.GoogleAudience,
		AvatarBucket:   cfg.MinIOBucketAvatar,
		AvatarMaxBytes: cfg.AvatarMaxBytes,
		AvatarMaxDim:   cfg.AvatarMaxDimension,
		ResetTTL:       cfg.PasswordResetTTL,
	})
	branchService := service.NewBranchService(branchRepo)
	plafondService := service.NewPlafondService(plafondRepo)
	sweeper := service.NewResetSweeper(resetRepo, cfg.PasswordResetSweepInterval, cfg.PasswordResetRetention)

	e := transporthttp.NewRouter(cfg.AllowOrigins)
	transporthttp.RegisterAuth(e, authService)
	transporthttp.RegisterUsers(e, authService)
	transporthttp.RegisterBranches(e, authService, branchService)
	transporthttp.RegisterPlafonds(e, authService, plafondService)
	transporthttp.RegisterSwagger(e)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweeper.Run(ctx)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
