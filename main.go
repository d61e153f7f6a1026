package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"tagwatch/internal/auth"
	notifapp "tagwatch/internal/notifications/application"
	notifhttp "tagwatch/internal/notifications/interfaces/http"
	"tagwatch/internal/notifications/notify"
	"tagwatch/internal/observability/metrics"
	subapp "tagwatch/internal/subscriptions/application"
	subscriptions "tagwatch/internal/subscriptions/domain"
	subfile "tagwatch/internal/subscriptions/infrastructure/file"
	subrepo "tagwatch/internal/subscriptions/infrastructure/postgres"
	subhttp "tagwatch/internal/subscriptions/interfaces/http"
	tagapp "tagwatch/internal/tags/application"
	taghttp "tagwatch/internal/tags/interfaces/http"
	tagingest "tagwatch/internal/tags/interfaces/ingest"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	notifCfg, err := notifapp.LoadConfig()
	if err != nil {
		logger.Fatalf("notification config error: %v", err)
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
	}
	metrics.Init(db, logger)

	cache := tagapp.NewCache(
		tagapp.WithHistoryCapacity(notifCfg.HistoryCapacity),
		tagapp.WithLogger(logger),
	)

	registryOpts := []subapp.RegistryOption{
		subapp.WithLogger(logger),
		subapp.WithAutosaveInterval(notifCfg.AutosaveInterval),
	}
	if db != nil {
		store, err := subrepo.NewStore(db)
		if err != nil {
			logger.Fatalf("subscription store error: %v", err)
		}
		if err := store.EnsureSchema(context.Background()); err != nil {
			logger.Fatalf("subscription schema error: %v", err)
		}
		registryOpts = append(registryOpts, subapp.WithStore(store))
	}
	if notifCfg.SnapshotPath != "" {
		snapshot, err := subfile.NewSnapshot(notifCfg.SnapshotPath)
		if err != nil {
			logger.Fatalf("subscription snapshot error: %v", err)
		}
		registryOpts = append(registryOpts, subapp.WithBackup(snapshot))
	}
	registry, err := subapp.NewRegistry(registryGraph{cache: cache}, registryOpts...)
	if err != nil {
		logger.Fatalf("registry error: %v", err)
	}
	if err := registry.ReloadConfig(context.Background()); err != nil {
		logger.Printf("registry initial load: %v", err)
	}
	registry.StartAutosave()
	defer registry.StopAutosave()

	renderer, err := notify.NewTemplate(notifCfg.SubjectTemplate, notifCfg.BodyTemplate)
	if err != nil {
		logger.Fatalf("notification template error: %v", err)
	}
	var mailer notify.Mailer
	var texter notify.Texter
	if notifCfg.WebhookURL != "" {
		channel, err := notify.NewWebhookChannel(notifCfg.WebhookURL)
		if err != nil {
			logger.Fatalf("notification webhook error: %v", err)
		}
		mailer, texter = channel, channel
	} else {
		channel := notify.NewLogChannel(logger)
		mailer, texter = channel, channel
	}

	notifLog := notifapp.NewLog(notifCfg.LogCapacity)
	broker := notifhttp.NewSSEBroker()
	notifier, err := notifapp.NewNotifier(registry, renderer, mailer,
		notifapp.WithTexter(texter),
		notifapp.WithSink(notifLog),
		notifapp.WithSink(broker),
		notifapp.WithNotifierLogger(logger),
	)
	if err != nil {
		logger.Fatalf("notifier error: %v", err)
	}

	reminder, err := notifapp.NewReminder(notifier, registry, cache, notifCfg.ReminderInterval,
		notifapp.WithReminderTick(notifCfg.ReminderTick),
		notifapp.WithReminderLogger(logger),
	)
	if err != nil {
		logger.Fatalf("reminder error: %v", err)
	}
	reminder.Start()
	defer reminder.Stop()

	ingestHandler, err := tagingest.NewHandler(cache, notifier, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	tagHandler, err := taghttp.NewHandler(cache)
	if err != nil {
		logger.Fatalf("tags handler error: %v", err)
	}
	subHandler, err := subhttp.NewHandler(registry)
	if err != nil {
		logger.Fatalf("subscriptions handler error: %v", err)
	}
	registryExport, err := subhttp.NewRegistryExportHandler(registry)
	if err != nil {
		logger.Fatalf("registry export error: %v", err)
	}
	historyHandler := notifhttp.NewHistoryHandler(notifLog)
	historyExport := notifhttp.NewExportHandler(notifLog)

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewFeedAuth([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/ingest/updates", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/tags", tagHandler)
	mux.Handle("/api/v1/tags/", tagHandler)
	mux.Handle("/api/v1/subscribers", subHandler)
	mux.Handle("/api/v1/subscribers/", subHandler)
	mux.Handle("/api/v1/subscriptions", subHandler)
	mux.Handle("/api/v1/subscriptions/reload", subHandler)
	mux.Handle("/api/v1/subscriptions/export.xlsx", registryExport)
	mux.Handle("/api/v1/notifications", historyHandler)
	mux.Handle("/api/v1/notifications/stream", notifhttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/notifications/export.pdf", historyExport)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{"status": "ok"}
		if round := reminder.LastReminderRound(); !round.IsZero() {
			payload["last_reminder_round"] = round.Format(time.RFC3339)
		}
		if modified := registry.LastModified(); !modified.IsZero() {
			payload["registry_modified_at"] = modified.Format(time.RFC3339)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	JWTSecret         string
	IngestSecret      string
	IngestSkewSeconds int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:      getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds: getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// ---- Adapters ----

// registryGraph adapts the tag cache to the registry's graph seam. Existence
// checks go through Get so a cache configured for auto-creation materializes
// a placeholder for a subscription that arrives before the first update.
type registryGraph struct {
	cache *tagapp.Cache
}

func (g registryGraph) Has(tagID int64) bool {
	_, err := g.cache.Get(tagID)
	return err == nil
}

func (g registryGraph) Subscribe(tagID int64, sub *subscriptions.Subscription) error {
	return g.cache.Subscribe(tagID, sub)
}

func (g registryGraph) Unsubscribe(tagID int64, sub *subscriptions.Subscription) error {
	return g.cache.Unsubscribe(tagID, sub)
}
