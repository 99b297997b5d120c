package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/identity/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/identity/backend/internal/config"
	"github.com/MarcoPoloResearchLab/identity/backend/internal/credentials"
	"github.com/MarcoPoloResearchLab/identity/backend/internal/database"
	"github.com/MarcoPoloResearchLab/identity/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/identity/backend/internal/providers"
	"github.com/MarcoPoloResearchLab/identity/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	tokenIssuer   = "identity-auth"
	tokenAudience = "identity-api"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "identity-api",
		Short: "Identity and credential service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Access token signing secret (overrides env)")
	cmd.PersistentFlags().Int("salt-rounds", defaults.GetInt("auth.local.salt_rounds"), "bcrypt cost for local passwords")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.local.salt_rounds", "salt-rounds")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("identity")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func buildRegistry(appConfig config.AppConfig, logger *zap.Logger) (*providers.Registry, error) {
	entries := make([]providers.Entry, 0, len(appConfig.Providers))
	for _, providerConfig := range appConfig.Providers {
		capability, err := providers.NewOAuth2Provider(providers.OAuth2Config{
			ClientID:           providerConfig.ClientID,
			ClientSecret:       providerConfig.ClientSecret,
			AuthURL:            providerConfig.AuthURL,
			TokenURL:           providerConfig.TokenURL,
			UserInfoURL:        providerConfig.UserInfoURL,
			RedirectURL:        providerConfig.RedirectURL,
			SubjectClaim:       providerConfig.SubjectClaim,
			EmailClaim:         providerConfig.EmailClaim,
			EmailVerifiedClaim: providerConfig.EmailVerifiedClaim,
			FirstNameClaim:     providerConfig.FirstNameClaim,
			LastNameClaim:      providerConfig.LastNameClaim,
			HTTPClient:         &http.Client{Timeout: 10 * time.Second},
			Logger:             logger.With(zap.String("provider", providerConfig.Type)),
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, providers.Entry{
			Type:       providerConfig.Type,
			Scope:      providerConfig.Scope,
			Capability: capability,
		})
	}
	return providers.NewRegistry(entries...)
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := credentials.NewStore(credentials.StoreConfig{
		Database:   db,
		IDProvider: credentials.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	hasher, err := credentials.NewHasher(appConfig.Local.SaltRounds)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(appConfig, logger)
	if err != nil {
		return err
	}

	validator := auth.NewValidator()
	orchestrator, err := auth.NewOrchestrator(auth.OrchestratorConfig{
		Registry:         registry,
		Store:            store,
		Hasher:           hasher,
		Validator:        validator,
		RegisterRedirect: appConfig.Local.RegisterRedirect,
		LoginRedirect:    appConfig.Local.LoginRedirect,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Orchestrator: orchestrator,
		Registry:     registry,
		Validator:    validator,
		TokenManager: tokenManager,
		Users:        store,
		Sessions: server.NewSessionManager(server.SessionConfig{
			CookieName: appConfig.SessionCookieName,
			Lifetime:   appConfig.SessionLifetime,
			Secure:     appConfig.SessionSecure,
		}),
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.Strings("providers", registry.Types()),
		)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
