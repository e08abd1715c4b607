package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/osha-insights/internal/report"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the report API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := newStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		eng := report.New(st)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
			MaxAge:         300,
		}))
		r.Use(rateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Route("/api", func(r chi.Router) {
			r.Get("/counts", func(w http.ResponseWriter, req *http.Request) {
				respond(w, req)(eng.RecordCounts(req.Context()))
			})
			r.Get("/trend", func(w http.ResponseWriter, req *http.Request) {
				respond(w, req)(eng.YearlyTrend(req.Context()))
			})
			r.Get("/sectors/top", func(w http.ResponseWriter, req *http.Request) {
				respond(w, req)(eng.TopSectorsByInjuries(req.Context(), intParam(req, "limit")))
			})
			r.Get("/sectors/rates", func(w http.ResponseWriter, req *http.Request) {
				respond(w, req)(eng.IncidentRatePerSector(req.Context(), intParam(req, "limit")))
			})
			r.Get("/sectors/fatality-ratio", func(w http.ResponseWriter, req *http.Request) {
				respond(w, req)(eng.FatalityRatioBySector(req.Context(), intParam(req, "limit")))
			})
			r.Get("/sectors/macro-rates", func(w http.ResponseWriter, req *http.Request) {
				respond(w, req)(eng.IncidentRateByMacroSector(req.Context()))
			})
			r.Get("/sectors/subsectors", func(w http.ResponseWriter, req *http.Request) {
				macro := req.URL.Query().Get("macro")
				if macro == "" {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "macro is required"})
					return
				}
				respond(w, req)(eng.TopSubsectorsByInjuries(req.Context(), macro, intParam(req, "limit")))
			})
			r.Get("/regions/top", func(w http.ResponseWriter, req *http.Request) {
				respond(w, req)(eng.TopRegionsByInjuries(req.Context(), intParam(req, "limit")))
			})
			r.Get("/regions/{state}", func(w http.ResponseWriter, req *http.Request) {
				respond(w, req)(eng.StateSummary(req.Context(), chi.URLParam(req, "state")))
			})
			r.Get("/kpi/yearly", func(w http.ResponseWriter, req *http.Request) {
				respond(w, req)(eng.SafetyKPIsByYear(req.Context()))
			})
			r.Get("/kpi/states", func(w http.ResponseWriter, req *http.Request) {
				year := intParam(req, "year")
				if year == 0 {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "year is required"})
					return
				}
				respond(w, req)(eng.TopStatesByTRIR(req.Context(), year, intParam(req, "limit")))
			})
			r.Get("/kpi/sectors", func(w http.ResponseWriter, req *http.Request) {
				year := intParam(req, "year")
				if year == 0 {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "year is required"})
					return
				}
				respond(w, req)(eng.TopMacroSectorsByTRIR(req.Context(), year, intParam(req, "limit")))
			})
			r.Get("/summary", func(w http.ResponseWriter, req *http.Request) {
				q := req.URL.Query()
				respond(w, req)(eng.Summary(req.Context(), report.SummaryFilter{
					Year:        intParam(req, "year"),
					StateName:   q.Get("state"),
					SectorMacro: q.Get("sector"),
				}))
			})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// rateLimiter applies one shared token bucket across all clients.
func rateLimiter(perSecond float64, burst int) func(http.Handler) http.Handler {
	if perSecond <= 0 {
		perSecond = 50
	}
	if burst <= 0 {
		burst = 100
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !limiter.Allow() {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

// respond turns a (result, error) pair into a JSON response.
func respond(w http.ResponseWriter, req *http.Request) func(v any, err error) {
	return func(v any, err error) {
		if err != nil {
			zap.L().Error("report query failed",
				zap.String("path", req.URL.Path),
				zap.Error(err),
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func intParam(req *http.Request, name string) int {
	v, _ := strconv.Atoi(req.URL.Query().Get(name))
	return v
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
