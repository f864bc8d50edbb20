package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haulmark/fieldsync/internal/logging"
	"github.com/haulmark/fieldsync/internal/models"
	"github.com/haulmark/fieldsync/internal/netmon"
	"github.com/haulmark/fieldsync/internal/session"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the capture and sync daemon",
		Long: `Starts the engine and exposes the localhost control API the client
shell uses: capture endpoints, sync controls and a WebSocket status feed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := globalCfg

	mgr := session.New(cfg)

	engineCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Init(engineCtx); err != nil {
		return fmt.Errorf("engine initialization failed: %w", err)
	}
	defer mgr.Close()

	mgr.OnPermanentFailure(func(item *models.UploadItem, cause error) {
		logging.Error("upload permanently failed, needs attention", cause,
			map[string]interface{}{
				"item_id":   string(item.ID),
				"item_type": string(item.Type),
				"job_id":    item.JobID,
			})
	})

	hub := newWSHub(mgr)
	go hub.run()

	mux := http.NewServeMux()
	registerRoutes(mux, mgr, hub)

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("control API listening",
			map[string]interface{}{"addr": cfg.Listen})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("control API failed: %w", err)
	case sig := <-sigCh:
		logging.Info("shutting down", map[string]interface{}{"signal": sig.String()})
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	hub.stop()
	return nil
}

// =====================================================
// Control API Routes
// =====================================================

func registerRoutes(mux *http.ServeMux, mgr *session.Manager, hub *wsHub) {
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"service": "fieldsyncd",
			"sync":    mgr.SyncStatus(),
		})
	})

	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		stats, err := mgr.Stats()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	mux.HandleFunc("/api/sync/now", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		result, err := mgr.SyncNow(r.Context())
		if err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("/api/network/online", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Online        bool    `json:"online"`
			BandwidthKbps float64 `json:"bandwidth_kbps"`
			RTTMillis     float64 `json:"rtt_millis"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		mgr.SetOnline(body.Online)
		if body.Online && body.BandwidthKbps > 0 {
			mgr.ReportNetworkSample(netmon.Sample{
				BandwidthKbps: body.BandwidthKbps,
				RTTMillis:     body.RTTMillis,
			})
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/api/app/foregrounded", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		mgr.AppForegrounded()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/ws", handleWebSocket(hub))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
