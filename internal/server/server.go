package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dukerupert/campuskubo/internal/auth"
	"github.com/dukerupert/campuskubo/internal/backup"
	"github.com/dukerupert/campuskubo/internal/email"
	"github.com/dukerupert/campuskubo/internal/handler"
	"github.com/dukerupert/campuskubo/internal/middleware"
	"github.com/dukerupert/campuskubo/internal/model"
	"github.com/dukerupert/campuskubo/internal/session"
	"github.com/dukerupert/campuskubo/internal/settings"
	"github.com/dukerupert/campuskubo/internal/store"
	ws "github.com/dukerupert/campuskubo/internal/websocket"
)

const (
	defaultLoginAttempts  = 5
	defaultLockoutMinutes = 15
	defaultMinPassword    = 8
)

type Server struct {
	db             *sql.DB
	hub            *ws.Hub
	authH          *handler.AuthHandler
	adminH         *handler.AdminHandler
	settingsH      *handler.SettingsHandler
	authSvc        *auth.Service
	settingsSvc    *settings.Service
	userStore      *store.UserStore
	resetStore     *store.PasswordResetStore
	backupManager  *backup.Manager
	rateLimiter    *middleware.RateLimiter
	proxies        *middleware.TrustedProxies
	sessions       session.Provider
	sessionTimeout time.Duration
	wsOrigins      []string
	logger         *slog.Logger
}

type Config struct {
	Sessions       session.Provider
	SessionTimeout time.Duration
	EmailClient    *email.Client
	Backup         backup.Config
	WSOrigins      []string
	TrustedProxies []string
}

// New wires stores, services and handlers. The settings document is created
// with defaults on first start.
func New(db *sql.DB, cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = session.DefaultTimeout
	}

	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	userStore := store.NewUserStore(db)
	resetStore := store.NewPasswordResetStore(db)
	activityStore := store.NewActivityStore(db)

	settingsSvc := settings.NewService(store.NewSettingsStore(db), logger.With("component", "settings"))
	if err := settingsSvc.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize settings: %w", err)
	}
	current, err := settingsSvc.Settings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	resetTTL := time.Duration(current.Int("security", "password_reset_ttl_hours")) * time.Hour

	authSvc, err := auth.NewService(userStore, resetStore, activityStore, logger.With("component", "auth"),
		auth.WithMailer(cfg.EmailClient),
		auth.WithResetTTL(resetTTL),
		auth.WithMinPasswordLength(func() int {
			return int(securityInt(settingsSvc, logger, "password_min_length", defaultMinPassword))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create auth service: %w", err)
	}

	hub := ws.NewHub(logger.With("component", "websocket"))
	settingsSvc.Subscribe(hub.SettingsChanged)

	backupMgr := backup.NewManager(cfg.Backup, settingsSvc, logger.With("component", "backup"))

	return &Server{
		db:             db,
		hub:            hub,
		authH:          handler.NewAuthHandler(authSvc, logger.With("component", "auth_handler")),
		adminH:         handler.NewAdminHandler(authSvc, activityStore, logger.With("component", "admin")),
		settingsH:      handler.NewSettingsHandler(settingsSvc, backupMgr, activityStore, logger.With("component", "settings_handler")),
		authSvc:        authSvc,
		settingsSvc:    settingsSvc,
		userStore:      userStore,
		resetStore:     resetStore,
		backupManager:  backupMgr,
		rateLimiter:    middleware.NewRateLimiter(),
		proxies:        proxies,
		sessions:       cfg.Sessions,
		sessionTimeout: cfg.SessionTimeout,
		wsOrigins:      cfg.WSOrigins,
		logger:         logger,
	}, nil
}

func (s *Server) AuthService() *auth.Service {
	return s.authSvc
}

func (s *Server) SettingsService() *settings.Service {
	return s.settingsSvc
}

func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

// Cleanup drops expired reset tokens and stale rate limit windows.
func (s *Server) Cleanup() {
	if n, err := s.resetStore.DeleteExpired(); err != nil {
		s.logger.Error("cleanup expired reset tokens", "error", err)
	} else if n > 0 {
		s.logger.Info("cleaned up expired reset tokens", "count", n)
	}
	s.rateLimiter.Cleanup()
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	loginLimit := middleware.RateLimitFunc(s.rateLimiter, s.proxies.ByIP, s.loginPolicy)
	forgotLimit := middleware.RateLimit(s.rateLimiter, s.proxies.ByIP, 5, 15*time.Minute)
	loadAuth := middleware.LoadAuth(s.userStore)
	requireAuth := middleware.RequireAuth(s.userStore)
	admin := func(h http.HandlerFunc) http.Handler {
		return requireAuth(middleware.RequireRole(model.RoleAdmin)(h))
	}

	// Account routes
	mux.Handle("POST /api/register", loadAuth(http.HandlerFunc(s.authH.Register)))
	mux.Handle("POST /api/login", loginLimit(http.HandlerFunc(s.authH.Login)))
	mux.HandleFunc("POST /api/logout", s.authH.Logout)
	mux.Handle("GET /api/session", loadAuth(http.HandlerFunc(s.authH.Session)))
	mux.Handle("POST /api/password/forgot", forgotLimit(http.HandlerFunc(s.authH.ForgotPassword)))
	mux.HandleFunc("POST /api/password/reset", s.authH.ResetPassword)
	mux.Handle("POST /api/password/change", requireAuth(http.HandlerFunc(s.authH.ChangePassword)))

	// Admin settings
	mux.Handle("GET /api/admin/settings", admin(s.settingsH.Get))
	mux.Handle("PATCH /api/admin/settings", admin(s.settingsH.UpdateMany))
	mux.Handle("PUT /api/admin/settings/{category}/{key}", admin(s.settingsH.Update))
	mux.Handle("POST /api/admin/settings/reset", admin(s.settingsH.Reset))
	mux.Handle("GET /api/admin/settings/export", admin(s.settingsH.Export))
	mux.Handle("POST /api/admin/settings/import", admin(s.settingsH.Import))
	mux.Handle("GET /api/admin/settings/history", admin(s.settingsH.History))
	mux.Handle("GET /api/admin/settings/backups", admin(s.settingsH.Backups))
	mux.Handle("POST /api/admin/settings/backup", admin(s.settingsH.Backup))
	mux.Handle("POST /api/admin/settings/restore", admin(s.settingsH.Restore))

	// Admin users
	mux.Handle("POST /api/admin/users/{id}/deactivate", admin(s.adminH.DeactivateUser))
	mux.Handle("POST /api/admin/users/{id}/activate", admin(s.adminH.ActivateUser))
	mux.Handle("GET /api/admin/activity", admin(s.adminH.Activity))

	mux.Handle("GET /ws", admin(ws.HandleWebSocket(s.hub, s.wsOrigins, s.logger.With("component", "websocket"))))

	var h http.Handler = middleware.Sessions(s.sessions, s.sessionTimeout, s.logger.With("component", "session"))(mux)
	h = middleware.RequestLogger(s.logger.With("component", "http"), s.proxies)(h)
	return otelhttp.NewHandler(h, "campuskubo")
}

// loginPolicy reads the login attempt limit and lockout window from the
// security settings, so admin changes apply without a restart.
func (s *Server) loginPolicy() (int, time.Duration) {
	attempts := securityInt(s.settingsSvc, s.logger, "max_login_attempts", defaultLoginAttempts)
	lockout := securityInt(s.settingsSvc, s.logger, "lockout_minutes", defaultLockoutMinutes)
	return int(attempts), time.Duration(lockout) * time.Minute
}

// securityInt returns a positive security setting, or def.
func securityInt(svc *settings.Service, logger *slog.Logger, key string, def int64) int64 {
	v, err := svc.Get("security", key, def)
	if err != nil {
		logger.Error("read security setting", "key", key, "error", err)
		return def
	}
	if n, ok := v.(int64); ok && n > 0 {
		return n
	}
	return def
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("health check", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}` + "\n"))
		return
	}
	w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// SessionOptions selects and configures the session backend.
type SessionOptions struct {
	Backend       string // "cookie" or "redis"
	Secret        []byte
	Timeout       time.Duration
	Secure        bool
	RedisAddr     string
	RedisPassword string
}

// NewSessionProvider returns the configured provider and a func releasing
// its resources.
func NewSessionProvider(ctx context.Context, opts SessionOptions) (session.Provider, func() error, error) {
	switch opts.Backend {
	case "", "cookie":
		hashKey, blockKey := session.CookieKeys(opts.Secret)
		p := session.NewCookieProvider(hashKey, blockKey, session.CookieOptions{Secure: opts.Secure})
		return p, func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		return session.NewRedisProvider(client, opts.Timeout, opts.Secure), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", opts.Backend)
	}
}
