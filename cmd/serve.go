package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/modelmesh/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		orc, err := initOrchestrator("serve", true)
		if err != nil {
			return err
		}
		defer orc.Close()

		mux := http.NewServeMux()

		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})

		mux.HandleFunc("POST /v1/submit", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				ID               string  `json:"id"`
				Prompt           string  `json:"prompt"`
				TaskType         string  `json:"task_type"`
				QualityThreshold float64 `json:"quality_threshold"`
				CostLimit        float64 `json:"cost_limit"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}

			opts := []model.RequestOption{}
			if body.QualityThreshold > 0 {
				opts = append(opts, model.WithQualityThreshold(body.QualityThreshold))
			}
			if body.CostLimit > 0 {
				opts = append(opts, model.WithCostLimit(body.CostLimit))
			}
			if body.TaskType != "" {
				tt, ok := model.ParseTaskType(body.TaskType)
				if !ok {
					http.Error(w, `{"error":"unknown task_type"}`, http.StatusBadRequest)
					return
				}
				opts = append(opts, model.WithTaskType(tt))
			}

			req, err := model.NewRequest(body.ID, body.Prompt, opts...)
			if err != nil {
				http.Error(w, `{"error":"invalid request"}`, http.StatusBadRequest)
				return
			}

			res, err := orc.Submit(r.Context(), *req)
			if err != nil {
				zap.L().Error("submit failed",
					zap.String("request_id", req.ID),
					zap.Error(err),
				)
				http.Error(w, `{"error":"submit failed"}`, http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(res)
		})

		mux.HandleFunc("GET /v1/stats", func(w http.ResponseWriter, r *http.Request) {
			rep, err := orc.Report(r.Context(), 24*time.Hour)
			if err != nil {
				http.Error(w, `{"error":"report failed"}`, http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(rep)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
