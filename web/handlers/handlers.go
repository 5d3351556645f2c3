package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/Cardanoian/discussion-server/internal/export"
	"github.com/Cardanoian/discussion-server/internal/room"
	"github.com/Cardanoian/discussion-server/internal/storage"
	"github.com/Cardanoian/discussion-server/internal/ws"
)

// Handler serves the REST surface and the WebSocket upgrade.
type Handler struct {
	gateway  *Gateway
	hub      *ws.Hub
	store    storage.Storage
	registry *room.Registry
	upgrader websocket.Upgrader
}

// New creates the HTTP handler.
func New(gateway *Gateway, hub *ws.Hub, store storage.Storage, registry *room.Registry, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return &Handler{
		gateway:  gateway,
		hub:      hub,
		store:    store,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return allowed[origin]
			},
		},
	}
}

// Router builds the chi route tree.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Get("/ws", h.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/subjects", h.handleSubjects)
		r.Get("/profiles/{userID}", h.handleProfile)
		r.Get("/battles", h.handleBattles)
		r.Get("/battles/{battleID}", h.handleBattle)
		r.Get("/battles/{battleID}/export", h.handleBattleExport)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "origin", r.Header.Get("Origin"))
		return
	}
	client := h.hub.NewClient(conn)
	h.gateway.HandleConnect(client)
	slog.Debug("websocket connected", "conn_id", client.ID, "remote", r.RemoteAddr)
}

func (h *Handler) handleSubjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"subjects": h.registry.Subjects()})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	profile, err := h.store.GetProfile(userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": profile})
}

func (h *Handler) handleBattles(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	battles, err := h.store.ListBattles(limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"battles": battles})
}

func (h *Handler) handleBattle(w http.ResponseWriter, r *http.Request) {
	record, err := h.store.GetBattle(chi.URLParam(r, "battleID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"battle": record})
}

func (h *Handler) handleBattleExport(w http.ResponseWriter, r *http.Request) {
	record, err := h.store.GetBattle(chi.URLParam(r, "battleID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	format := export.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = export.FormatMarkdown
	}
	exporter, err := export.GetExporter(format)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	// Subject metadata is cosmetic here; exports survive a missing row.
	subject, _ := h.store.GetSubject(record.SubjectID)
	tr, err := export.BuildTranscript(record, subject)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", exporter.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", export.GenerateFilename(record, exporter.FileExtension())))
	if err := exporter.Export(tr, w); err != nil {
		slog.Error("export failed", "battle_id", record.ID, "format", format, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if storage.IsNotFound(err) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
