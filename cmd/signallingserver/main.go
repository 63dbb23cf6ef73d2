package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/viper"

	"github.com/SmilePineapple/mind-express-video/cmd/signallingserver/config"
	"github.com/SmilePineapple/mind-express-video/internal/metrics"
	"github.com/SmilePineapple/mind-express-video/internal/reaper"
	"github.com/SmilePineapple/mind-express-video/internal/relay"
	"github.com/SmilePineapple/mind-express-video/internal/room"
)

// healthHandler reports liveness plus the current room and client
// counts. Read-only, no side effects.
func healthHandler(registry *room.Registry, table *relay.ConnTable) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":           "ok",
			"timestamp":        time.Now().UTC().Format(time.RFC3339),
			"activeRooms":      registry.RoomCount(),
			"connectedClients": table.Count(),
		})
	}
}

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	flag.Parse()

	config.LoadConfig(*configFilePath)
	logFilePointer := config.ConfigureLogger()
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	// --------------------------------------------------------------------------------

	registry := room.NewRegistry(viper.GetInt("roomcapacity"), nil)
	table := relay.NewConnTable(viper.GetString("corsorigin"), nil)
	router := relay.NewRouter(registry, table, nil)
	metrics.RegisterState(registry.RoomCount, table.Count)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idleReaper := reaper.New(
		registry,
		viper.GetDuration("reapperiod"),
		viper.GetDuration("idlethreshold"),
		nil,
	)
	go idleReaper.Run(ctx)

	// --------------------------------------------------------------------------------

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler(registry, table))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/ws", table.ServeWS(router))

	corsOrigin := viper.GetString("corsorigin")
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{corsOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowCredentials: true,
	})

	listenAddress := viper.GetString("localaddress")
	srv := &http.Server{
		Addr:    listenAddress,
		Handler: corsMiddleware.Handler(mux),
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, closing server")
		shutdownCtx, cancelFunc := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelFunc()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during server shutdown", "err", err)
		}
	}()

	slog.Info("starting signalling server", "listenAddress", listenAddress, "corsOrigin", corsOrigin)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("error during listen and serve", "err", err)
	}
	slog.Info("server stopped")
}
