// Perimeter API Server
// Device-bound request authentication with behavioral bot classification.
package main

import (
	"crypto/ecdsa"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobeyondidentity/perimeter/internal/api"
	"github.com/gobeyondidentity/perimeter/internal/clientid"
	"github.com/gobeyondidentity/perimeter/internal/config"
	"github.com/gobeyondidentity/perimeter/internal/version"
	"github.com/gobeyondidentity/perimeter/pkg/audit"
	"github.com/gobeyondidentity/perimeter/pkg/auth"
	"github.com/gobeyondidentity/perimeter/pkg/behavior"
	"github.com/gobeyondidentity/perimeter/pkg/dpop"
	"github.com/gobeyondidentity/perimeter/pkg/store"
	"github.com/gobeyondidentity/perimeter/pkg/token"
	"golang.org/x/time/rate"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file")
	listenAddr = flag.String("listen", "", "HTTP listen address (overrides config)")
	dbPath     = flag.String("db", "", "Database path (overrides config)")
	debugMode  = flag.Bool("debug", false, "Expose precise rejection reasons to clients")
)

func main() {
	flag.CommandLine.SetOutput(os.Stdout)
	flag.Parse()

	log.Printf("Perimeter API %s starting...", version.String())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	if *dbPath != "" {
		cfg.Database = *dbPath
	}
	if *debugMode {
		cfg.Debug = true
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	db, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	signingKey, err := loadSigningKey(cfg.SigningKey)
	if err != nil {
		log.Fatalf("Failed to load signing key: %v", err)
	}

	issuer := token.NewIssuer(signingKey, cfg.Issuer, cfg.Audience, cfg.TokenTTL.Std())
	tokenVerifier := token.NewVerifier(&signingKey.PublicKey, cfg.Issuer, cfg.Audience)

	replayCache := dpop.NewMemoryReplayCache(
		dpop.WithTTL(10*time.Minute),
		dpop.WithMaxEntries(100000),
	)
	defer replayCache.Close()

	proofVerifier := dpop.NewVerifier(dpop.DefaultVerifierConfig())

	classifier := behavior.New(classifierConfig(cfg), behavior.WithLogger(logger))
	defer classifier.Close()

	authenticator := auth.NewAuthenticator(
		tokenVerifier,
		api.NewKeyStore(db),
		proofVerifier,
		replayCache,
		classifier,
		clientid.New(),
		auth.WithPolicy(auth.Policy{
			FingerprintThreshold: cfg.Policy.FingerprintThreshold,
			EnforceFingerprint:   cfg.Policy.EnforceFingerprint,
			BlockBots:            cfg.Policy.BlockBots,
		}),
		auth.WithLogger(logger),
	)

	emitter := audit.NewAuthEventEmitter(logger, audit.NewLogEmitter(logger))

	middleware := auth.NewMiddleware(authenticator,
		auth.WithMiddlewareLogger(logger),
		auth.WithDebugMode(cfg.Debug),
		auth.WithAuditEmitter(emitter),
	)

	server := api.NewServer(db, issuer, logger, audit.NewLogEmitter(logger))
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: loggingMiddleware(middleware.Wrap(mux)),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Shutting down...")
		httpServer.Close()
	}()

	log.Printf("HTTP server listening on %s", cfg.Listen)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}

	log.Println("API server stopped")
}

// loadSigningKey reads the token signing key from disk, or generates an
// ephemeral one when no path is configured. Ephemeral keys invalidate all
// outstanding tokens on restart.
func loadSigningKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		log.Println("No signing key configured, generating ephemeral key (tokens will not survive restart)")
		return dpop.GenerateKeyPair()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return dpop.LoadPrivateKeyPEM(data)
}

func classifierConfig(cfg *config.Config) behavior.Config {
	bc := behavior.DefaultConfig()
	if cfg.Classifier.FlagThreshold > 0 {
		bc.FlagThreshold = cfg.Classifier.FlagThreshold
	}
	if cfg.Classifier.RetentionHorizon > 0 {
		bc.RetentionHorizon = cfg.Classifier.RetentionHorizon.Std()
	}
	if cfg.Classifier.RequestsPerSecond > 0 {
		bc.RequestsPerSecond = rate.Limit(cfg.Classifier.RequestsPerSecond)
	}
	if cfg.Classifier.Burst > 0 {
		bc.Burst = cfg.Classifier.Burst
	}
	return bc
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusResponseWriter{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(sw, r)
		log.Printf("%s %s %d %dms", r.Method, r.URL.Path, sw.statusCode, time.Since(start).Milliseconds())
	})
}
