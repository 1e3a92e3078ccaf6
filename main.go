package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kanatamon/covid19-home-isolation/api"
	"github.com/kanatamon/covid19-home-isolation/internal/forms"
	"github.com/kanatamon/covid19-home-isolation/internal/platform/auth"
	"github.com/kanatamon/covid19-home-isolation/internal/platform/config"
	"github.com/kanatamon/covid19-home-isolation/internal/platform/db"
	"github.com/kanatamon/covid19-home-isolation/internal/platform/logger"
	"github.com/kanatamon/covid19-home-isolation/internal/webhooks"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		cfg        *config.Config
	)

	root := &cobra.Command{
		Use:           "hi",
		Short:         "Home isolation treatment tracking and LINE notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
		// 設定が読めなければどのコマンドも動かさない
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			logger.Init(c.Mode, c.Log.Level)
			log.Info().Str("mode", c.Mode).Str("version", c.Version).Msg("config loaded")
			cfg = c
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "config file path")

	getConfig := func() *config.Config { return cfg }
	root.AddCommand(
		newServeCommand(getConfig),
		newMigrateCommand(getConfig),
		newTriggerCommand(getConfig),
		newAdminCommand(getConfig),
	)
	return root
}

// ===== serve =====

func newServeCommand(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg())
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := db.MigrateUp(a.db); err != nil {
		return err
	}
	if err := bootstrapAdmin(ctx, a.auth, cfg.Auth.BootstrapAdmin); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(logger.Middleware(log.Logger), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == config.ModeDev {
		// CORS（開発中のみ必要）
		origins := cfg.Server.CORSOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		r.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", webhooks.SignatureHeader},
			ExposeHeaders:    []string{"Content-Length", "Location"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
		api.RegisterRoutes(r)
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	// /api/v1
	secret := []byte(cfg.Auth.JWTSecret)
	v1 := r.Group("/api/v1")
	authed := v1.Group("", auth.RequireAuth(secret))
	user := authed.Group("", auth.RequireRole(auth.RoleUser))
	admin := authed.Group("", auth.RequireRole(auth.RoleAdmin))

	auth.RegisterRoutes(v1, v1.Group("/admin", auth.RequireAuth(secret), auth.RequireRole(auth.RoleAdmin)), a.auth)
	forms.RegisterRoutes(user, authed, admin, a.forms)
	webhooks.RegisterRoutes(v1, webhooks.Config{
		Secret:        cfg.Webhook.Secret,
		ChannelSecret: cfg.Line.ChannelSecret,
		JWTSecret:     secret,
	}, a.runner, a.notify, log.Logger)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "route not found"}})
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cert, key, ok := tlsFiles(cfg); ok {
			log.Info().Str("addr", srv.Addr).Msg("listening (TLS)")
			err = srv.ListenAndServeTLS(cert, key)
		} else {
			log.Info().Str("addr", srv.Addr).Msg("listening")
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ===== migrate =====

func newMigrateCommand(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	// withDB: 接続してから fn を実行し、最後に現在のバージョンを出す
	withDB := func(fn func(conn *sql.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			conn, err := db.Connect(cfg().DB)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := fn(conn); err != nil {
				return err
			}
			v, dirty, err := db.MigrationVersion(conn)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  withDB(db.MigrateUp),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back one migration",
			Args:  cobra.NoArgs,
			RunE:  withDB(db.MigrateDown),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current migration version",
			Args:  cobra.NoArgs,
			RunE:  withDB(func(*sql.DB) error { return nil }),
		},
	)
	return cmd
}

// ===== trigger =====

func newTriggerCommand(cfg func() *config.Config) *cobra.Command {
	var (
		force      bool
		notifyType string
	)
	cmd := &cobra.Command{
		Use:   "trigger <job>",
		Short: "Run one notification or maintenance job in-process",
		Long: "Runs a job without going through the webhook endpoint.\nJobs: " +
			strings.Join(webhooks.NewDefaultRunner(nil, nil).Jobs(), ", "),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := newApp(ctx, cfg())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.runner.Run(ctx, args[0], webhooks.Options{Force: force, NotifyType: notifyType})
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "bypass the once-per-day dispatch guard")
	cmd.Flags().StringVar(&notifyType, "notify-type", "", "END_TREATMENT or PREPARE_TO_END_TREATMENT (end-of-treatment only)")
	return cmd
}

// ===== admin =====

// bootstrapAdmin: 設定に初期管理者があれば、無いときだけ作る
func bootstrapAdmin(ctx context.Context, svc *auth.Service, b config.BootstrapAdmin) error {
	if b.ID == "" {
		return nil
	}
	created, err := svc.EnsureAdmin(ctx, b.ID, b.Password)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		log.Info().Str("id", b.ID).Msg("bootstrap admin created")
	}
	return nil
}

func newAdminCommand(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin accounts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <id>",
		Short: "Create an admin account (password is read from stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			c := cfg()
			conn, err := db.Connect(c.DB)
			if err != nil {
				return err
			}
			defer conn.Close()

			svc := auth.NewService(auth.NewStore(conn), nil, []byte(c.Auth.JWTSecret), c.Auth.TokenTTL)
			return createAdmin(ctx, svc, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	})
	return cmd
}

// createAdmin: stdin の1行目をパスワードとして admin を登録する
func createAdmin(ctx context.Context, svc *auth.Service, id string, in io.Reader, out io.Writer) error {
	password, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read password: %w", err)
	}
	password = strings.TrimRight(password, "\r\n")
	if len(password) < auth.MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters", auth.MinPasswordLen)
	}
	if err := svc.Register(ctx, id, password); err != nil {
		if errors.Is(err, auth.ErrAlreadyExists) {
			return fmt.Errorf("admin %q already exists", id)
		}
		return err
	}
	fmt.Fprintf(out, "admin %q created\n", id)
	return nil
}
