package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/darkauth/darkauth/internal/config"
	"github.com/darkauth/darkauth/internal/httpapi"
	"github.com/darkauth/darkauth/internal/jwks"
	"github.com/darkauth/darkauth/internal/kek"
	authmw "github.com/darkauth/darkauth/internal/middleware"
	"github.com/darkauth/darkauth/internal/opaqueauth"
	"github.com/darkauth/darkauth/internal/pake"
	"github.com/darkauth/darkauth/internal/ratelimit"
	"github.com/darkauth/darkauth/internal/session"
	"github.com/darkauth/darkauth/internal/storage"
	"github.com/darkauth/darkauth/internal/token"
)

// kekSalt is the fixed, deployment-wide salt scrypt mixes with
// DARKAUTH_KEK_PASSPHRASE to derive the key-encryption key. It is not a
// secret in itself — the passphrase and scrypt's cost parameters carry
// the entropy — so unlike the passphrase it is safe to compile in
// rather than source from the environment. Changing it invalidates
// every secret already wrapped under the old key, the same as rotating
// the passphrase would.
const kekSalt = "darkauth-kek-v1"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Str("service", "darkauth").Msg("DarkAuth server starting")

	if err := config.InitConfig(); err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if err := kek.Unseal(config.KekPassphrase(), []byte(kekSalt)); err != nil {
		log.Fatal().Err(err).Msg("failed to unseal key-encryption key")
	}

	ctx := context.Background()
	if err := storage.InitDB(ctx, config.PostgresURI()); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer storage.CloseDB()

	if err := storage.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	keys := jwks.NewStore(kek.Instance())
	existingEntries, err := storage.LoadJWKSEntries(ctx, storage.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load signing keys")
	}
	keys.Load(existingEntries)

	signingEntry, err := keys.EnsureSigningKey(jwks.Alg(config.JWKSAlg()))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to ensure signing key")
	}
	isNewKey := true
	for _, e := range existingEntries {
		if e.KID == signingEntry.KID {
			isNewKey = false
			break
		}
	}
	if isNewKey {
		if err := storage.PutJWKSEntry(ctx, storage.DB, signingEntry); err != nil {
			log.Fatal().Err(err).Msg("failed to persist newly generated signing key")
		}
		log.Info().Str("kid", signingEntry.KID).Str("alg", string(signingEntry.Alg)).Msg("generated new signing key")
	}

	// Ephemeral OPAQUE protocol state (pending registrations, in-flight
	// login sessions) and browser session tokens all live in the same
	// kind of short-TTL keyed store: Redis when configured, for
	// multi-instance deployments, an in-process sweep-on-interval map
	// otherwise.
	var pendingStore, loginSessionStore, userSessionBackend, adminSessionBackend, reauthBackend pake.Store
	if url := config.RedisURL(); url != "" {
		var rerr error
		if pendingStore, rerr = pake.NewRedisStore(url, "darkauth:opaque-pending:"); rerr != nil {
			log.Fatal().Err(rerr).Msg("failed to connect to redis for opaque pending store")
		}
		if loginSessionStore, rerr = pake.NewRedisStore(url, "darkauth:opaque-login:"); rerr != nil {
			log.Fatal().Err(rerr).Msg("failed to connect to redis for opaque login store")
		}
		if userSessionBackend, rerr = pake.NewRedisStore(url, "darkauth:session:user:"); rerr != nil {
			log.Fatal().Err(rerr).Msg("failed to connect to redis for user session store")
		}
		if adminSessionBackend, rerr = pake.NewRedisStore(url, "darkauth:session:admin:"); rerr != nil {
			log.Fatal().Err(rerr).Msg("failed to connect to redis for admin session store")
		}
		if reauthBackend, rerr = pake.NewRedisStore(url, "darkauth:reauth:"); rerr != nil {
			log.Fatal().Err(rerr).Msg("failed to connect to redis for reauth token store")
		}
		log.Info().Msg("using redis-backed ephemeral state")
	} else {
		pendingStore = pake.NewMemStore(time.Minute)
		loginSessionStore = pake.NewMemStore(time.Minute)
		userSessionBackend = pake.NewMemStore(5 * time.Minute)
		adminSessionBackend = pake.NewMemStore(5 * time.Minute)
		reauthBackend = pake.NewMemStore(time.Minute)
		log.Info().Msg("using in-process ephemeral state (set DARKAUTH_REDIS_URL for multi-instance deployments)")
	}

	auth := opaqueauth.NewService(pendingStore, loginSessionStore, kek.Instance())
	userSessions := session.NewStore(userSessionBackend, session.DefaultTTL)
	adminSessions := session.NewStore(adminSessionBackend, session.DefaultTTL)
	reauth := session.NewReauthToken(reauthBackend)

	loginLockout := ratelimit.NewAccountLockout(ratelimit.DefaultLockoutConfig(), "login")
	otpLockout := ratelimit.NewAccountLockout(ratelimit.LockoutConfig{
		MaxFailures:     config.OTPMaxFailures(),
		LockoutDuration: time.Duration(config.OTPLockoutMinutes()) * time.Minute,
		FailureWindow:   time.Duration(config.OTPLockoutMinutes()) * time.Minute,
	}, "otp")
	loginLimiter := ratelimit.NewLimiter(ratelimit.Config{
		MaxRequests:  config.LoginBucketSize(),
		WindowPeriod: time.Duration(config.LoginBucketWindowSeconds()) * time.Second,
	}, "login-ip")

	deps := &httpapi.Deps{
		Pool:          storage.DB,
		Keys:          keys,
		Auth:          auth,
		UserSessions:  userSessions,
		AdminSessions: adminSessions,
		Reauth:        reauth,
		TokenCfg: token.Config{
			Issuer: config.Issuer(),
		},
		LoginLockout:    loginLockout,
		OTPLockout:      otpLockout,
		LoginLimiter:    loginLimiter,
		Issuer:          config.Issuer(),
		PublicOrigin:    config.PublicOrigin(),
		MaxVerifyWindow: 7 * 24 * time.Hour,
	}

	corsOrigins := []string{config.PublicOrigin()}
	if envOrigins := os.Getenv("DARKAUTH_CORS_ALLOWED_ORIGINS"); envOrigins != "" {
		corsOrigins = strings.Split(envOrigins, ",")
		for i := range corsOrigins {
			corsOrigins[i] = strings.TrimSpace(corsOrigins[i])
		}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	log.Info().Strs("origins", corsOrigins).Msg("CORS configured")

	userSrv := &http.Server{
		Addr:         ":" + config.UserPort(),
		Handler:      newUserRouter(deps, corsHandler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	adminSrv := &http.Server{
		Addr:         ":" + config.AdminPort(),
		Handler:      newAdminRouter(deps, corsHandler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", config.UserPort()).Msg("user API listening")
		if err := userSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("user API server failed")
		}
	}()
	go func() {
		log.Info().Str("port", config.AdminPort()).Msg("admin API listening")
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("admin API server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("DarkAuth server shutting down...")

	loginLockout.Stop()
	otpLockout.Stop()
	if stoppable, ok := loginLimiter.(interface{ Stop() }); ok {
		stoppable.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := userSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("user API server forced to shutdown")
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin API server forced to shutdown")
	}

	log.Info().Msg("DarkAuth server exited gracefully")
}

// newUserRouter wires every /api/user, OAuth, and OIDC discovery route.
// Step-up (RequireMFAVerified) gating is intentionally narrow: it only
// guards finalizing an authorization grant, since that is the one place
// a session-cookie thief without the second factor could exfiltrate a
// Data Root Key to a relying party they control.
func newUserRouter(d *httpapi.Deps, corsHandler *cors.Cors) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(authmw.SecurityHeaders)
	r.Use(authmw.ContentSecurityPolicy(config.PublicOrigin()))
	r.Use(authmw.MaxBodySizeWithOverrides(authmw.DefaultMaxBodySize, nil))
	r.Use(corsHandler.Handler)

	r.Get("/.well-known/openid-configuration", d.OpenIDConfiguration)
	r.Get("/.well-known/jwks.json", d.JWKS)
	r.Get("/authorize", d.Authorize)
	r.Post("/token", d.Token)

	r.Route("/authorize", func(r chi.Router) {
		r.Use(authmw.RequireSession(d.UserSessions, session.CohortUser))
		r.Use(authmw.RequireMFAVerified)
		r.Use(authmw.CSRFProtection)
		r.Post("/finalize", d.AuthorizeFinalize)
	})

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/opaque/register/start", d.OpaqueRegisterStart)
		r.Post("/opaque/register/finish", d.OpaqueRegisterFinish)
		r.Post("/opaque/login/start", d.OpaqueLoginStart)
		r.Post("/opaque/login/finish", d.OpaqueLoginFinish)

		r.Get("/session", d.Session)
		r.Post("/password/recovery/verify/start", d.PasswordRecoveryVerifyStart)
		r.Post("/password/recovery/verify/finish", d.PasswordRecoveryVerifyFinish)

		r.Group(func(r chi.Router) {
			// logout/refresh-token run against an already-issued session
			// cookie (checked by hand rather than RequireSession, since
			// an expired/absent one is a normal no-op here), so the
			// CSRF cookie from that login is expected to be present too.
			r.Use(authmw.CSRFProtection)
			r.Post("/logout", d.Logout)
			r.Post("/refresh-token", d.RefreshToken)
		})

		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireSession(d.UserSessions, session.CohortUser))
			r.Use(authmw.CSRFProtection)

			r.Post("/password/change/verify/start", d.PasswordChangeVerifyStart)
			r.Post("/password/change/verify/finish", d.PasswordChangeVerifyFinish)
			r.Post("/password/change/start", d.PasswordChangeStart)
			r.Post("/password/change/finish", d.PasswordChangeFinish)

			r.Get("/otp/status", d.OTPStatus)
			r.Post("/otp/setup/init", d.OTPSetupInit)
			r.Post("/otp/setup/verify", d.OTPSetupVerify)
			r.Post("/otp/verify", d.OTPVerify)
			r.Post("/otp/disable", d.OTPDisable)
			r.Post("/otp/backup-codes/regenerate", d.OTPBackupCodesRegenerate)

			r.Get("/crypto/wrapped-drk", d.GetWrappedDRK)
			r.Put("/crypto/wrapped-drk", d.PutWrappedDRK)
			r.Put("/crypto/enc-pub", d.PutEncPub)
			r.Get("/crypto/wrapped-enc-priv", d.GetWrappedEncPriv)
			r.Put("/crypto/wrapped-enc-priv", d.PutWrappedEncPriv)

			r.Get("/apps", d.Apps)
			r.Get("/scope-descriptions", d.ScopeDescriptions)
		})
	})

	return r
}

// newAdminRouter wires /api/admin. Every route requires an admin-cohort
// session; secret-rotating and account-unlocking routes additionally
// require step-up verification.
func newAdminRouter(d *httpapi.Deps, corsHandler *cors.Cors) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(authmw.SecurityHeaders)
	r.Use(authmw.ContentSecurityPolicy(config.PublicOrigin()))
	r.Use(authmw.MaxBodySizeWithOverrides(authmw.DefaultMaxBodySize, nil))
	r.Use(corsHandler.Handler)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(authmw.RequireSession(d.AdminSessions, session.CohortAdmin))
		r.Use(authmw.CSRFProtection)

		r.Get("/clients", d.AdminListClients)
		r.Post("/clients", d.AdminCreateClient)
		r.Get("/clients/{clientId}", d.AdminGetClient)
		r.Put("/clients/{clientId}", d.AdminUpdateClient)
		r.Delete("/clients/{clientId}", d.AdminDeregisterClient)
		r.Get("/users", d.AdminListUsers)

		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireMFAVerified)
			r.Post("/clients/{clientId}/rotate-secret", d.AdminRotateClientSecret)
			r.Post("/jwks/rotate", d.AdminRotateJWKS)
			r.Post("/users/{sub}/otp/unlock", d.AdminUnlockOTP)
		})
	})

	return r
}
