package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/practice-lms/practice/internal/handler"
	appI18n "github.com/practice-lms/practice/internal/i18n"
	"github.com/practice-lms/practice/internal/model"
	"github.com/practice-lms/practice/internal/store"
	"github.com/practice-lms/practice/internal/texrender"
)

const defaultCompileTimeout = 30 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "practice",
		Short: "School practice server with a LaTeX question bank",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd(), ensureAdminCmd(), fixMCQCmd(), renderAssetsCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `practice --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP practice server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "practice.db", "SQLite database path")
	f.String("media-root", "media", "Directory for rendered question assets")
	f.String("texcache", "texcache", "Directory for the snippet render cache")
	f.String("tectonic", "", "Path to the tectonic binary (default: ./bin/tectonic, then PATH)")
	f.String("pdftocairo", "", "Path to pdftocairo (default: PATH)")
	f.String("pdftoppm", "", "Path to pdftoppm (default: PATH)")
	f.String("fallback-font", "", "TTF font for the non-LaTeX PDF fallback (empty disables it)")
	f.Int("sample-size", 10, "Default number of questions per practice sample")
	f.Duration("compile-timeout", defaultCompileTimeout, "TeX compile timeout")
	f.StringP("lang", "l", "en", "UI language (en, ru)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Bool("allow-register", true, "Allow student self-registration")
	f.String("admin-password", "", "Initial admin password (or set PRACTICE_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("PRACTICE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("practice")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/practice")
	v.AddConfigPath("/etc/practice")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func newRenderer(v *viper.Viper) *texrender.Renderer {
	return texrender.New(
		v.GetString("tectonic"),
		v.GetString("pdftocairo"),
		v.GetString("pdftoppm"),
		v.GetDuration("compile-timeout"),
	)
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(db, "admin", v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	cfg := model.ServerConfig{
		MediaRoot:      v.GetString("media-root"),
		TexCacheDir:    v.GetString("texcache"),
		FallbackFont:   v.GetString("fallback-font"),
		DefaultSample:  v.GetInt("sample-size"),
		SecureCookies:  v.GetBool("secure-cookies"),
		Lang:           lang,
		AllowRegister:  v.GetBool("allow-register"),
		CompileTimeout: v.GetDuration("compile-timeout"),
	}

	h, err := handler.New(db, newRenderer(v), cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	// Expired sessions pile up in SQLite otherwise.
	go func() {
		for {
			if err := db.CleanupExpiredSessions(); err != nil {
				slog.Warn("session cleanup failed", "error", err)
			}
			time.Sleep(time.Hour)
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"media_root", cfg.MediaRoot,
		"texcache", cfg.TexCacheDir,
		"lang", lang,
		"sample_size", cfg.DefaultSample,
		"allow_register", cfg.AllowRegister,
	)
	return http.ListenAndServe(addr, r)
}

func seedAdmin(db *store.Store, username, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or PRACTICE_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     username,
		FirstName:    "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", username)
	return nil
}
