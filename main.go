package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cosafe/internal/auth"
	monitoringapp "cosafe/internal/monitoring/application"
	monitoring "cosafe/internal/monitoring/domain"
	monitoringbadger "cosafe/internal/monitoring/infrastructure/badger"
	monitoringhttp "cosafe/internal/monitoring/interfaces/http"
	monitoringmqtt "cosafe/internal/monitoring/interfaces/mqtt"
	"cosafe/internal/monitoring/notify"
	"cosafe/internal/monitoring/simulation"
	"cosafe/internal/observability/metrics"
	offlineapp "cosafe/internal/offline/application"
	offlinebadger "cosafe/internal/offline/infrastructure/badger"
	"cosafe/internal/offline/infrastructure/upstream"
	offlinehttp "cosafe/internal/offline/interfaces/http"
	"cosafe/internal/remote"
	remotememory "cosafe/internal/remote/memory"
	remotepostgres "cosafe/internal/remote/postgres"
	sessionsapp "cosafe/internal/sessions/application"
	sessionshttp "cosafe/internal/sessions/interfaces/http"
	syncqueueapp "cosafe/internal/syncqueue/application"
	syncqueue "cosafe/internal/syncqueue/domain"
	syncqueuebadger "cosafe/internal/syncqueue/infrastructure/badger"
	syncqueuehttp "cosafe/internal/syncqueue/interfaces/http"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	cfg, err := loadConfig()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kvOpts := badger.DefaultOptions(cfg.DataDir).WithLogger(nil)
	if cfg.DataDir == "" {
		kvOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	kv, err := badger.Open(kvOpts)
	if err != nil {
		logger.Fatalf("badger open error: dir=%s err=%v", cfg.DataDir, err)
	}
	defer kv.Close()

	var (
		db        *sql.DB
		authority remote.Authority
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
		pgAuthority, err := remotepostgres.NewAuthority(db)
		if err != nil {
			logger.Fatalf("remote authority error: %v", err)
		}
		if err := pgAuthority.EnsureSchema(ctx); err != nil {
			logger.Fatalf("remote schema error: %v", err)
		}
		authority = pgAuthority
	} else {
		logger.Printf("remote authority: DATABASE_URL not set, using in-memory backend")
		authority = remotememory.NewAuthority()
	}
	metrics.Init(db, logger)

	// Alert fan-out. The webhook notifier reads the ledger through alertLookup,
	// which is bound once the controller exists.
	sseBroker := monitoringhttp.NewSSEBroker()
	alerts := &alertLookup{}
	notifiers := []monitoringapp.AlertNotifier{sseBroker}
	if cfg.AlertWebhookURL != "" {
		channel, err := notify.NewWebhookChannel(cfg.AlertWebhookURL)
		if err != nil {
			logger.Fatalf("alert webhook error: %v", err)
		}
		template, err := notify.NewTemplate(cfg.AlertNotifyTemplate)
		if err != nil {
			logger.Fatalf("alert template error: %v", err)
		}
		webhook, err := notify.NewNotifier(alerts, channel, template,
			notify.WithEscalation(cfg.AlertEscalationAfter),
			notify.WithCooldown(cfg.AlertNotifyCooldown),
			notify.WithRequestTimeout(cfg.AlertNotifyTimeout),
			notify.WithLogger(logger),
		)
		if err != nil {
			logger.Fatalf("alert notifier error: %v", err)
		}
		defer webhook.Close()
		notifiers = append(notifiers, webhook)
	}

	snapshots, err := monitoringbadger.NewSnapshotStore(kv)
	if err != nil {
		logger.Fatalf("snapshot store error: %v", err)
	}
	gateway, err := monitoringapp.NewGateway(snapshots, logger)
	if err != nil {
		logger.Fatalf("persistence gateway error: %v", err)
	}
	controller, err := monitoringapp.NewController(
		monitoringapp.WithGateway(gateway),
		monitoringapp.WithNotifier(notify.NewMultiNotifier(notifiers...)),
		monitoringapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("monitoring controller error: %v", err)
	}
	alerts.controller = controller
	if !controller.Restore(ctx) {
		logger.Printf("monitoring restore: starting from defaults")
	}

	simulator, err := simulation.NewSimulator(controller, logger, simulation.WithInterval(cfg.SimulationInterval))
	if err != nil {
		logger.Fatalf("simulator error: %v", err)
	}
	if cfg.Simulate {
		simulator.Start(ctx)
	}
	defer simulator.Stop(context.Background())

	queueStore, err := syncqueuebadger.NewStore(kv)
	if err != nil {
		logger.Fatalf("sync queue store error: %v", err)
	}
	defer queueStore.Close()
	queue, err := syncqueueapp.NewController(queueStore,
		syncqueueapp.WithLogger(logger),
		syncqueueapp.WithMaxAttempts(cfg.SyncMaxAttempts),
		syncqueueapp.WithInterval(cfg.SyncInterval),
		syncqueueapp.WithFailureReporter(syncFailureAlerts{controller: controller}),
	)
	if err != nil {
		logger.Fatalf("sync queue error: %v", err)
	}

	uploader, err := sessionsapp.NewUploader(queue, sessionsapp.WithUploaderLogger(logger))
	if err != nil {
		logger.Fatalf("reading uploader error: %v", err)
	}
	manager, err := sessionsapp.NewManager(authority,
		sessionsapp.WithQueue(queue),
		sessionsapp.WithListener(uploader),
		sessionsapp.WithLogger(logger),
		sessionsapp.WithHeartbeatInterval(cfg.HeartbeatInterval),
	)
	if err != nil {
		logger.Fatalf("session manager error: %v", err)
	}
	defer manager.Close()
	manager.RegisterDeliveries(queue)
	if _, err := manager.ResumeSession(ctx, cfg.DeviceID); err != nil {
		logger.Printf("session resume error: device=%s err=%v", cfg.DeviceID, err)
	}

	controller.AddReadingListener(uploader)
	go uploader.Run(ctx)
	go queue.Run(ctx)

	if cfg.MQTTBrokerURL != "" {
		opts := []monitoringmqtt.Option{
			monitoringmqtt.WithLogger(logger),
			monitoringmqtt.WithLinkHook(func(connected bool) {
				if connected {
					queue.NotifyOnline()
				}
			}),
		}
		if cfg.MQTTTopic != "" {
			opts = append(opts, monitoringmqtt.WithTopic(cfg.MQTTTopic))
		}
		source, err := monitoringmqtt.NewSource(cfg.MQTTBrokerURL, cfg.DeviceID, controller, opts...)
		if err != nil {
			logger.Fatalf("mqtt source error: %v", err)
		}
		if err := source.Start(ctx); err != nil {
			logger.Printf("mqtt start error: broker=%s err=%v", cfg.MQTTBrokerURL, err)
		}
		defer source.Stop(context.Background())
	}

	monitoringHandler, err := monitoringhttp.NewHandler(controller, simulator)
	if err != nil {
		logger.Fatalf("monitoring handler error: %v", err)
	}
	exportHandler, err := monitoringhttp.NewExportHandler(controller)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}
	sessionHandler, err := sessionshttp.NewHandler(manager, controller)
	if err != nil {
		logger.Fatalf("session handler error: %v", err)
	}
	syncHandler, err := syncqueuehttp.NewHandler(queue)
	if err != nil {
		logger.Fatalf("sync handler error: %v", err)
	}

	mux := http.NewServeMux()
	for _, path := range []string{
		"/api/v1/state", "/api/v1/history", "/api/v1/readings", "/api/v1/alerts", "/api/v1/alerts/",
		"/api/v1/settings", "/api/v1/settings/mute", "/api/v1/device", "/api/v1/simulation",
		"/api/v1/emergency-banner", "/api/v1/me", "/api/v1/logout",
	} {
		mux.Handle(path, monitoringHandler)
	}
	mux.Handle("/api/v1/alerts/stream", monitoringhttp.NewStreamHandler(sseBroker))
	mux.Handle("/api/v1/stream", monitoringhttp.NewWebSocketHandler(controller, logger))
	mux.Handle("/api/v1/export.json", exportHandler)
	mux.Handle("/api/v1/export.xlsx", exportHandler)
	mux.Handle("/api/v1/export.pdf", exportHandler)
	mux.Handle("/api/v1/sessions", sessionHandler)
	mux.Handle("/api/v1/sessions/", sessionHandler)
	mux.Handle("/api/v1/history/hydrate", sessionHandler)
	mux.Handle("/api/v1/sync/", syncHandler)

	if cfg.UpstreamOrigin != "" {
		cache, err := offlinebadger.NewCacheStorage(kv)
		if err != nil {
			logger.Fatalf("offline cache error: %v", err)
		}
		client, err := upstream.NewClient(cfg.UpstreamOrigin)
		if err != nil {
			logger.Fatalf("upstream client error: %v", err)
		}
		worker, err := offlineapp.NewWorker(cache, client,
			offlineapp.WithOrigin(cfg.PublicOrigin),
			offlineapp.WithVersion(cfg.CacheVersion),
			offlineapp.WithLogger(logger),
			offlineapp.WithSync(func(ctx context.Context) error {
				_, err := queue.Drain(ctx)
				return err
			}),
			offlineapp.WithEmergencyContact(func() string {
				return controller.Settings().EmergencyContact
			}),
		)
		if err != nil {
			logger.Fatalf("offline worker error: %v", err)
		}
		if _, err := worker.Handle(ctx, offlineapp.InstallEvent{}); err != nil {
			logger.Printf("offline install error: %v", err)
		} else if _, err := worker.Handle(ctx, offlineapp.ActivateEvent{}); err != nil {
			logger.Printf("offline activate error: %v", err)
		}
		offlineGateway, err := offlinehttp.NewGateway(worker, logger)
		if err != nil {
			logger.Fatalf("offline gateway error: %v", err)
		}
		eventsHandler, err := offlinehttp.NewEventsHandler(worker)
		if err != nil {
			logger.Fatalf("offline events handler error: %v", err)
		}
		mux.Handle("/api/v1/offline", eventsHandler)
		mux.Handle("/api/v1/offline/", eventsHandler)
		mux.Handle("/", offlineGateway)
	}

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	authMiddleware.Logger = logger
	deviceAuth := auth.NewDeviceSignatureMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)
	protected := authMiddleware.Wrap(mux)
	signedReadings := deviceAuth.Wrap(mux, protected)
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/readings" {
			signedReadings.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(root, logger)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("http server error: %v", err)
	}
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

// Flush keeps the SSE stream working through the logging wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack hands the connection to the websocket upgrader.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http: response does not support hijacking")
	}
	return hijacker.Hijack()
}

// ---- Adapters ----

type alertLookup struct {
	controller *monitoringapp.Controller
}

func (a *alertLookup) Alert(id string) (monitoring.Alert, bool) {
	if a == nil || a.controller == nil {
		return monitoring.Alert{}, false
	}
	return a.controller.Alert(id)
}

type syncFailureAlerts struct {
	controller *monitoringapp.Controller
}

func (s syncFailureAlerts) ReportFailure(ctx context.Context, task syncqueue.Task, err error) {
	s.controller.RaiseAlert(ctx, monitoring.AlertWarning, "Sync failed",
		fmt.Sprintf("%s could not be delivered after %d attempts: %v", task.Kind, task.Attempts, err), task.ID)
}
