package httpapi

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/DoyleJ11/kabletop-relay/internal/lobby"
	pt "github.com/DoyleJ11/kabletop-relay/pkg/types"
)

type LobbyViewer interface {
	View(ctx context.Context) (lobby.View, error)
}

type SessionCounter interface {
	Sessions() int
}

func snapshot(ctx context.Context, lb LobbyViewer, sc SessionCounter) (pt.LobbySnapshot, error) {
	v, err := lb.View(ctx)
	if err != nil {
		return pt.LobbySnapshot{}, err
	}
	return pt.LobbySnapshot{Clients: v.Advertised, Pairings: v.Pairings, Sessions: sc.Sessions()}, nil
}

// Clients serves the lobby the same way fetch_clients does, plus counts.
func Clients(lb LobbyViewer, sc SessionCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := snapshot(r.Context(), lb, sc)
		if err != nil {
			http.Error(w, "lobby unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	}
}

func Healthz(lb LobbyViewer, sc SessionCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := snapshot(r.Context(), lb, sc)
		if err != nil {
			http.Error(w, "lobby unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Status     string `json:"status"`
			Sessions   int    `json:"sessions"`
			Advertised int    `json:"advertised"`
			Pairings   int    `json:"pairings"`
		}{"ok", snap.Sessions, len(snap.Clients), snap.Pairings})
	}
}
