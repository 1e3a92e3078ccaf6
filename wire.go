package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kanatamon/covid19-home-isolation/internal/contacts"
	"github.com/kanatamon/covid19-home-isolation/internal/forms"
	"github.com/kanatamon/covid19-home-isolation/internal/line"
	"github.com/kanatamon/covid19-home-isolation/internal/notify"
	"github.com/kanatamon/covid19-home-isolation/internal/platform/auth"
	"github.com/kanatamon/covid19-home-isolation/internal/platform/cache"
	"github.com/kanatamon/covid19-home-isolation/internal/platform/config"
	"github.com/kanatamon/covid19-home-isolation/internal/platform/db"
	"github.com/kanatamon/covid19-home-isolation/internal/platform/metrics"
	"github.com/kanatamon/covid19-home-isolation/internal/treatment"
	"github.com/kanatamon/covid19-home-isolation/internal/webhooks"
)

// app: serve / trigger で共通の依存関係
type app struct {
	cfg     *config.Config
	db      *sql.DB
	redis   *redis.Client
	metrics *metrics.Metrics
	line    *line.Client

	auth   *auth.Service
	forms  *forms.Service
	notify *notify.Service
	runner *webhooks.Runner
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		return nil, err
	}
	log.Info().Str("dbname", cfg.DB.DBName).Msg("connected to DB")

	a := &app{cfg: cfg, db: conn}

	// ===== platform =====
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(reg)

	var guard notify.Guard = notify.NopGuard{}
	if cfg.Redis.Enabled {
		rc, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = rc
		guard = notify.NewRedisGuard(rc)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("dispatch guard backed by redis")
	} else {
		log.Warn().Msg("redis disabled: notification jobs are not deduplicated per day")
	}

	lc, err := line.NewClient(cfg.Line)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.line = lc

	// ===== treatment core =====
	policy := cfg.TreatmentPolicy()
	cal := treatment.NewCalendar(treatment.RealClock(), loc)
	calc := treatment.NewCalculator(cal, policy)
	period := treatment.NewActivePeriod(cal, policy, log.Logger)
	messages := notify.NewMessages(calc, a.line.LiffURL)

	// ===== services =====
	a.auth = auth.NewService(auth.NewStore(conn), a.line, []byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	a.forms = forms.NewService(forms.Deps{
		DB:         conn,
		Calculator: calc,
		Period:     period,
		Messenger:  a.line,
		Messages:   messages,
		Metrics:    a.metrics,
		Log:        log.Logger,
	})
	a.notify = notify.NewService(notify.Deps{
		Selector:    contacts.NewSelector(contacts.NewMySQLStore(conn), period),
		Messages:    messages,
		Messenger:   a.line,
		Dispatcher:  notify.NewDispatcher(cfg.Notify.Workers, log.Logger, a.metrics),
		Guard:       guard,
		Calendar:    cal,
		Metrics:     a.metrics,
		Log:         log.Logger,
		SendTimeout: cfg.Notify.SendTimeout,
	})
	a.runner = webhooks.NewDefaultRunner(a.notify, a.forms)

	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close DB")
		}
	}
}

// tlsFiles: config/tls/<mode>/<file>。証明書未設定なら平文で起動する。
func tlsFiles(cfg *config.Config) (string, string, bool) {
	c := cfg.Server.Certificate
	if c.Cert == "" || c.Key == "" {
		return "", "", false
	}
	return fmt.Sprintf("config/tls/%s/%s", cfg.Mode, c.Cert), fmt.Sprintf("config/tls/%s/%s", cfg.Mode, c.Key), true
}
