// Orchestrator wires the Tokenization Service, Session Manager, Input
// Packager, Input Queue, Medical Dispatcher, Triage Engine, Async Task
// Runner, Decision Engine Facade, and Audit Log into one process exposing
// one HTTP listener: the inbound webhook transport and the Tokenization
// and audit query APIs.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gin-gonic/gin"

	"github.com/AutonomosCdM/vigia-sub003/internal/config"
	"github.com/AutonomosCdM/vigia-sub003/internal/cryptkeyring"
	"github.com/AutonomosCdM/vigia-sub003/internal/hospitalstore"
	"github.com/AutonomosCdM/vigia-sub003/internal/inputqueue"
	"github.com/AutonomosCdM/vigia-sub003/internal/processingstore"
	"github.com/AutonomosCdM/vigia-sub003/internal/storeconn"
	"github.com/AutonomosCdM/vigia-sub003/internal/taskrunner"
	"github.com/AutonomosCdM/vigia-sub003/pkg/adapters"
	"github.com/AutonomosCdM/vigia-sub003/pkg/api"
	"github.com/AutonomosCdM/vigia-sub003/pkg/audit"
	"github.com/AutonomosCdM/vigia-sub003/pkg/chain"
	"github.com/AutonomosCdM/vigia-sub003/pkg/decision"
	"github.com/AutonomosCdM/vigia-sub003/pkg/dispatcher"
	"github.com/AutonomosCdM/vigia-sub003/pkg/notification"
	"github.com/AutonomosCdM/vigia-sub003/pkg/packager"
	"github.com/AutonomosCdM/vigia-sub003/pkg/session"
	"github.com/AutonomosCdM/vigia-sub003/pkg/tokenization"
	"github.com/AutonomosCdM/vigia-sub003/pkg/transport"
	"github.com/AutonomosCdM/vigia-sub003/pkg/triage"
	"github.com/AutonomosCdM/vigia-sub003/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	cfg, err := config.Load(filepath.Join(*configDir, "config.yaml"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ginMode := getEnv("GIN_MODE", "release")
	gin.SetMode(ginMode)
	log.Printf("starting %s", version.Full())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hosp, err := hospitalstore.Open(cfg.HospitalStore)
	if err != nil {
		log.Fatalf("Failed to open hospital store: %v", err)
	}
	defer hosp.Close()
	slog.Info("connected to hospital store")

	proc, err := processingstore.Open(cfg.ProcessingStore)
	if err != nil {
		log.Fatalf("Failed to open processing store: %v", err)
	}
	defer proc.Close()
	slog.Info("connected to processing store")

	keyring, err := cryptkeyring.New()
	if err != nil {
		log.Fatalf("Failed to initialize crypt keyring: %v", err)
	}

	auditLog := audit.New(proc)
	retention := audit.NewRetention(audit.RetentionConfig{
		RetentionDays: cfg.Audit.RetentionDays,
		SweepInterval: cfg.Audit.SweepInterval,
	}, auditLog)
	retention.Start(ctx)
	defer retention.Stop()

	sessionMgr := session.NewManager(session.Config{
		TTL:           cfg.Session.TTL,
		SweepInterval: cfg.Session.SweepInterval,
		ShardCount:    cfg.Session.ShardCount,
	}, proc, auditLog)
	sessionMgr.Start(ctx)
	defer sessionMgr.Stop()

	inQueue := inputqueue.New(inputqueue.Config{
		Deadline:      cfg.InputQueue.Deadline,
		SweepInterval: cfg.InputQueue.SweepInterval,
	}, proc, keyring, auditLog, sessionTokenResolver{sessionMgr})
	inQueue.Start(ctx)
	defer inQueue.Stop()

	pkgr := packager.New(packager.Config{
		SourceSalt:    os.Getenv(cfg.Transport.SourceSaltEnv),
		MaxMediaBytes: cfg.Transport.MaxMediaBytes,
	})

	triageEngine := triage.NewEngine(triage.DefaultConfig())

	tokenSvc := tokenization.New(tokenization.Config{
		AliasVocabularySalt: cfg.Tokenization.AliasVocabularySalt,
		DefaultTTL:          cfg.Tokenization.DefaultTTL,
	}, hosp, proc, auditLog)

	if n, err := tokenSvc.Reconcile(ctx, cfg.Tokenization.ReconciliationGrace); err != nil {
		log.Fatalf("Failed to run tokenization reconciliation sweep: %v", err)
	} else if n > 0 {
		slog.Info("reconciled orphaned tokenization requests", "count", n)
	}

	detector := adapters.NewDetectorClient(adapters.Config{
		BaseURL:     getEnv("DETECTOR_BASE_URL", "http://detector.internal"),
		BearerToken: os.Getenv("DETECTOR_TOKEN"),
		Timeout:     10 * time.Second,
		BreakerName: "detector",
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
	})
	clinicalAI := adapters.NewClinicalAIClient(adapters.Config{
		BaseURL:     getEnv("CLINICALAI_BASE_URL", "http://clinical-ai.internal"),
		BearerToken: os.Getenv("CLINICALAI_TOKEN"),
		Timeout:     15 * time.Second,
		BreakerName: "clinical_ai",
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
	})

	facade := decision.New(decision.Config{ConfidenceThreshold: cfg.Medical.ConfidenceEscalationThreshold})
	facade.RegisterModule(chain.NewClinicalAIModule(clinicalAI, decision.EvidenceB))

	slackToken := os.Getenv(cfg.Notification.SlackTokenEnv)
	sender := notification.NewSlackSender(slackToken, map[string]string{
		"routine":   cfg.Notification.RoutineChannel,
		"urgent":    cfg.Notification.UrgentChannel,
		"emergency": cfg.Notification.EmergencyChannel,
	}, cfg.Notification.RoutineChannel)
	notifier := notification.New(sender, auditLog)
	notifier.RegisterTemplate("routine_case", "Case {{token_id}}: routine follow-up recommended. Escalation required: {{escalation_required}}.")
	notifier.RegisterTemplate("urgent_case", "Case {{token_id}}: urgent review requested. Escalation required: {{escalation_required}}.")
	notifier.RegisterTemplate("emergency_case", "Case {{token_id}}: EMERGENCY — immediate clinical review required.")

	runner := taskrunner.New(taskrunner.Config{
		PoolSize:            cfg.Worker.PoolSize,
		PriorityOrder:       cfg.Queues.PriorityOrder,
		MinConcurrencyShare: cfg.Queues.MinConcurrencyShare,
		MaxAttempts:         cfg.Task.MaxAttempts,
		RetryDelayBase:      cfg.Task.RetryDelayBase,
		RetryJitterFraction: cfg.Task.RetryJitterFraction,
		DeadlineByStage:     cfg.Task.DeadlineByStage,
		DefaultDeadline:     cfg.Task.DefaultDeadline,
		VisibilityTimeout:   cfg.Task.VisibilityTimeout,
		HeartbeatInterval:   cfg.Task.HeartbeatInterval,
		PollInterval:        cfg.Worker.PollEvery,
	}, proc, auditLog, sessionMgr)

	disp := dispatcher.New(dispatcher.Config{
		ReviewQueue:    "medical_priority",
		AnalysisQueue:  "image_processing",
		DedupRetention: time.Hour,
	}, tokenSvc, sessionMgr, pkgr, inQueue, triageEngine, runner, auditLog)

	analysisChain := chain.New(chain.Config{
		ImageProcessingQueue: "image_processing",
		MedicalPriorityQueue: "medical_priority",
		NotificationsQueue:   "notifications",
		AuditLoggingQueue:    "audit_logging",
	}, proc, tokenSvc, detector, facade, notifier, disp, auditLog)
	analysisChain.Register(runner)

	runner.Start(ctx)
	defer runner.Stop()

	webhookHandler := transport.New(transport.Config{
		SigningSecret: os.Getenv(cfg.Transport.SignatureSecretEnv),
	}, disp, auditLog)

	auth := api.NewStaticAuthenticator(loadStaticTokens())

	checks := []api.HealthCheck{
		{Name: "hospital_store", Check: func(ctx context.Context) (*storeconn.HealthStatus, error) {
			return storeconn.Health(ctx, hosp.DB())
		}},
		{Name: "processing_store", Check: func(ctx context.Context) (*storeconn.HealthStatus, error) {
			return storeconn.Health(ctx, proc.DB())
		}},
	}

	server := api.New(api.Config{RequestTimeout: 10 * time.Second}, auth, tokenSvc, auditLog, checks,
		func(r gin.IRouter) { webhookHandler.Register(r, "/webhooks/inbound") })

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Handler(),
	}

	go func() {
		slog.Info("http server listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
	disp.Stop()
}

// sessionTokenResolver adapts pkg/session.Manager.Snapshot to
// internal/inputqueue.SessionResolver, which needs only the token_id a
// session_id belongs to.
type sessionTokenResolver struct {
	mgr *session.Manager
}

func (r sessionTokenResolver) TokenIDForSession(_ context.Context, sessionID string) (string, error) {
	snap, err := r.mgr.Snapshot(sessionID)
	if err != nil {
		return "", err
	}
	return snap.TokenID, nil
}

// loadStaticTokens builds the bearer-token → Caller map from environment
// variables, a stand-in for a real identity provider (see DESIGN.md).
func loadStaticTokens() map[string]api.Caller {
	tokens := map[string]api.Caller{}
	if t := os.Getenv("API_TOKEN_REQUESTER"); t != "" {
		tokens[t] = api.Caller{ActorID: "requester-system", Roles: []string{"requester"}}
	}
	if t := os.Getenv("API_TOKEN_ADMIN"); t != "" {
		tokens[t] = api.Caller{ActorID: "admin", Roles: []string{"admin", "token_reader"}}
	}
	if t := os.Getenv("API_TOKEN_PHI_BRIDGE"); t != "" {
		tokens[t] = api.Caller{ActorID: "phi-bridge", Roles: []string{"phi_bridge"}}
	}
	return tokens
}
