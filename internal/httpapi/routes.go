package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DoyleJ11/turncast/internal/archive"
	"github.com/DoyleJ11/turncast/internal/hub"
	"github.com/DoyleJ11/turncast/internal/playback"
	"github.com/DoyleJ11/turncast/internal/ws"
)

type Deps struct {
	Hub *hub.Hub
	// Archive is optional; without it /matches and matchId sessions are unavailable.
	Archive *archive.Store
	// Playback is the template for uploaded sessions. Its Runner is ignored:
	// replays never accept actions.
	Playback playback.Options
	Speed    float64
	Autoplay bool
	// MaxBody caps an uploaded replay; zero means maxReplayBody.
	MaxBody int64
	Logger  *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	r := chi.NewRouter()

	// Public routes
	r.Post("/sessions", CreateSession(d))
	r.Get("/sessions/{code}", GetSession(d.Hub))
	r.Get("/matches", ListMatches(d.Archive))
	r.Get("/healthz", Healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", ws.Handler(d.Hub, d.Logger))
	return r
}
