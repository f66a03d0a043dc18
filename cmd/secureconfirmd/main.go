// Package main runs a thin HTTP harness around the secureconfirm
// orchestrator: a single POST endpoint that decodes a request envelope,
// drives the confirmation flow, and returns the decision envelope as JSON.
// The actual WebAuthn ceremonies and confirmation UI are client-side
// concerns; this harness exists to exercise the server-side state machine
// and to give a host something concrete to point its NEAR RPC, WebAuthn
// bridge, and UI renderer implementations at.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tatchi-labs/secureconfirm/internal/config"
	"github.com/tatchi-labs/secureconfirm/internal/logging"
	"github.com/tatchi-labs/secureconfirm/internal/metrics"
	"github.com/tatchi-labs/secureconfirm/internal/secrets"
	"github.com/tatchi-labs/secureconfirm/secureconfirm"
	"github.com/tatchi-labs/secureconfirm/storage"
	"github.com/tatchi-labs/secureconfirm/vrfsession"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.NewFromEnv("secureconfirmd")
	metricsCollector := metrics.New()

	store := newStore(logger)

	near, err := newNearRPCProvider()
	if err != nil {
		log.Fatalf("near rpc: %v", err)
	}

	vrf := vrfsession.NewManager(vrfsession.Deps{
		Config:  cfg,
		Logger:  logging.New("vrfsession", cfg.LogLevel, cfg.LogFormat),
		Metrics: metricsCollector,
		Secrets: secrets.EnvProvider{},
		Store:   store,
		Signer:  newLoggingSignerChannel(logger),
		Near:    near,
	})

	orchestrator := secureconfirm.New(secureconfirm.Deps{
		Config:  cfg,
		Logger:  logger,
		Metrics: metricsCollector,
		Near:    near,
		Web:     unimplementedWebAuthnCollector{},
		UI:      unimplementedUIRenderer{},
		VRF:     vrf,
		Store:   store,
	})

	router := mux.NewRouter()
	router.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.Handle("/v1/confirm", confirmHandler{orchestrator: orchestrator, logger: logger}).Methods(http.MethodPost)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8787"
	}

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Printf("secureconfirmd starting on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func newStore(logger *logging.Logger) storage.Store {
	url := strings.TrimSpace(os.Getenv("SUPABASE_URL"))
	key := strings.TrimSpace(os.Getenv("SUPABASE_SERVICE_KEY"))
	if url == "" || key == "" {
		logger.Warn(context.Background(), "SUPABASE_URL/SUPABASE_SERVICE_KEY not set, using in-memory store", nil)
		return storage.NewMemoryStore()
	}
	store, err := storage.NewSupabaseStore(storage.SupabaseConfig{URL: url, ServiceKey: key})
	if err != nil {
		logger.Warn(context.Background(), "failed to configure Supabase store, falling back to in-memory", map[string]interface{}{"error": err.Error()})
		return storage.NewMemoryStore()
	}
	return store
}

// confirmHandler decodes a secureconfirm.RequestEnvelope, drives
// HandleRequest, and writes the resulting DecisionEnvelope back as JSON.
type confirmHandler struct {
	orchestrator *secureconfirm.Orchestrator
	logger       *logging.Logger
}

func (h confirmHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req secureconfirm.RequestEnvelope
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "malformed request body"})
		return
	}

	client := secureconfirm.ClientContext{
		IsIOSOrSafariMobile: strings.Contains(strings.ToLower(r.Header.Get("Sec-CH-UA-Platform")), "ios"),
		HasUserActivation:   r.Header.Get("X-User-Activation") == "true",
		IsWalletIframe:      r.Header.Get("X-Wallet-Iframe") == "true",
		IsCrossOrigin:       r.Header.Get("Origin") != "" && r.Header.Get("X-Embedder-Origin") != "" && r.Header.Get("Origin") != r.Header.Get("X-Embedder-Origin"),
	}

	decision := h.orchestrator.HandleRequest(r.Context(), &req, client)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(decision); err != nil {
		h.logger.Error(r.Context(), "failed to encode decision envelope", err, nil)
	}
}
