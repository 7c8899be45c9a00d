package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/zlnvch/artstudio/api/rest"
	"github.com/zlnvch/artstudio/api/ws"
	"github.com/zlnvch/artstudio/cache"
	"github.com/zlnvch/artstudio/config"
	"github.com/zlnvch/artstudio/metrics"
	"github.com/zlnvch/artstudio/mq"
	"github.com/zlnvch/artstudio/service"
	"github.com/zlnvch/artstudio/store"
	"github.com/zlnvch/artstudio/worker"
)

const drainPollInterval = 50 * time.Millisecond

type ArtStudioAPI struct {
	Service     *service.Service
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	wsUpgrader  websocket.Upgrader
	writer      *worker.SessionWriter
	stopWriter  context.CancelFunc
	shutdownCtx context.Context
}

// NewArtStudioAPI wires the collaboration service and starts its background workers.
// artCache and cleanupQueue may be nil.
func NewArtStudioAPI(
	projectStore store.ProjectStore,
	sessionStore store.SessionStore,
	artCache cache.ArtCache,
	cleanupQueue mq.MessageQueue,
	cfg config.Config,
	shutdownCtx context.Context,
) (*ArtStudioAPI, error) {
	wsHub := ws.NewHub()

	coordinator := service.NewSessionCoordinator(sessionStore)
	writer := worker.NewSessionWriter(coordinator, cleanupQueue, cfg.SessionWriteTimeout, cfg.SessionQueueSize)

	// The writer outlives shutdownCtx so that leaves from closing sockets still reach the store
	writerCtx, stopWriter := context.WithCancel(context.Background())
	go writer.Run(writerCtx)

	svc := service.NewService(projectStore, sessionStore, artCache, writer, wsHub, cfg.JWTSecret)
	if err := svc.InitSubscriptions(shutdownCtx); err != nil {
		log.WithError(err).Error("failed to start project update subscriptions")
		stopWriter()
		return &ArtStudioAPI{}, err
	}

	if cleanupQueue != nil {
		cleanupConsumer := worker.NewCleanupConsumer(cleanupQueue, coordinator, svc.Router)
		go cleanupConsumer.Run(shutdownCtx)
	}

	wsHandler := ws.NewHandler(svc, wsHub)

	return &ArtStudioAPI{
		Service:     svc,
		restHandler: rest.NewHandler(svc),
		wsHandler:   wsHandler,
		wsUpgrader:  wsHandler.NewWsUpgrader(cfg.AllowedOrigins),
		writer:      writer,
		stopWriter:  stopWriter,
		shutdownCtx: shutdownCtx,
	}, nil
}

func (artStudioAPI *ArtStudioAPI) RegisterRoutes(mux *http.ServeMux, allowedOrigins []string) {
	// Health check endpoint (no auth required)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.Handle("/metrics", metrics.Handler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	mux.Handle("/projects/{projectId}/presence", corsHandler.Handler(getOnly(artStudioAPI.restHandler.HandlePresence)))
	mux.Handle("/projects/{projectId}/session", corsHandler.Handler(getOnly(artStudioAPI.restHandler.HandleSession)))

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		artStudioAPI.wsHandler.ServeWS(artStudioAPI.wsUpgrader, w, r, artStudioAPI.shutdownCtx)
	})
}

func getOnly(handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	})
}

// Drain waits for the open connections to leave their rooms, then flushes the session
// writer. Call it after shutdownCtx is cancelled.
func (artStudioAPI *ArtStudioAPI) Drain(ctx context.Context) {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for artStudioAPI.Service.Router.ConnectionCount() > 0 {
		select {
		case <-ctx.Done():
			log.WithField("connections", artStudioAPI.Service.Router.ConnectionCount()).Warn("shutdown timed out before all connections left")
			artStudioAPI.stopWriter()
			<-artStudioAPI.writer.Done()
			return
		case <-ticker.C:
		}
	}

	artStudioAPI.stopWriter()
	<-artStudioAPI.writer.Done()
}
