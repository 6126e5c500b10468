package httpapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/turncast/internal/archive"
	"github.com/DoyleJ11/turncast/internal/engine"
	"github.com/DoyleJ11/turncast/internal/hub"
	"github.com/DoyleJ11/turncast/internal/playback"
	"github.com/DoyleJ11/turncast/internal/replay"
)

const maxReplayBody = 64 << 20

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type createResponse struct {
	Code  string `json:"code"`
	Turns int    `json:"turns"`
}

// CreateSession starts a playback session from a replay in the request body,
// or from an archived match when the body is {"matchId": "..."}.
func CreateSession(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := d.MaxBody
		if limit <= 0 {
			limit = maxReplayBody
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, err)
			} else {
				writeError(w, http.StatusBadRequest, err)
			}
			return
		}

		snaps, status, err := loadTurns(r.Context(), d.Archive, body)
		if err != nil {
			writeError(w, status, err)
			return
		}

		code, s, err := newSession(d)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		reply := make(chan error, 1)
		if !s.Send(playback.AppendTurns{Snapshots: snaps, Reply: reply}) {
			writeError(w, http.StatusInternalServerError, errors.New("session closed"))
			return
		}
		if err := <-reply; err != nil {
			d.Hub.Inbox() <- hub.RemoveSession{Code: code}
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		if d.Autoplay {
			s.Send(playback.Play{Speed: d.Speed})
		}
		d.Logger.Info("session created", zap.String("code", code), zap.Int("turns", len(snaps)))

		writeJSON(w, http.StatusCreated, createResponse{Code: code, Turns: len(snaps)})
	}
}

func loadTurns(ctx context.Context, store *archive.Store, body []byte) ([]engine.TurnSnapshot, int, error) {
	var ref struct {
		MatchID string `json:"matchId"`
	}
	if bytes.HasPrefix(bytes.TrimSpace(body), []byte("{")) {
		_ = json.Unmarshal(body, &ref)
	}
	if ref.MatchID == "" {
		snaps, err := replay.Read(bytes.NewReader(body), replay.FormatJSON)
		if err != nil {
			return nil, http.StatusBadRequest, err
		}
		return snaps, 0, nil
	}

	if store == nil {
		return nil, http.StatusNotImplemented, errors.New("archive disabled")
	}
	snaps, err := store.LoadTurns(ctx, ref.MatchID)
	switch {
	case errors.Is(err, archive.ErrNotFound):
		return nil, http.StatusNotFound, err
	case err != nil:
		return nil, http.StatusInternalServerError, err
	}
	return snaps, 0, nil
}

func newSession(d Deps) (string, *playback.Session, error) {
	for {
		code, err := GenerateCode()
		if err != nil {
			return "", nil, err
		}
		if d.Hub.Get(code) != nil {
			d.Logger.Debug("collision on code, regenerating")
			continue
		}
		opts := d.Playback
		opts.Runner = nil
		reply := make(chan *playback.Session, 1)
		d.Hub.Inbox() <- hub.EnsureSession{Code: code, Options: opts, Reply: reply}
		s := <-reply
		if s == nil {
			return "", nil, errors.New("failed to create session")
		}
		return code, s, nil
	}
}

type sessionView struct {
	Code      string  `json:"code"`
	Version   int     `json:"version"`
	Clients   int     `json:"clients"`
	Turn      int     `json:"turn"`
	DT        float64 `json:"dt"`
	LastTurn  int     `json:"lastTurn"`
	State     string  `json:"state"`
	Speed     float64 `json:"speed"`
	Following bool    `json:"following"`
	Connected bool    `json:"connected"`
	Error     string  `json:"error,omitempty"`
}

func GetSession(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		s := h.Get(code)
		if s == nil {
			writeError(w, http.StatusNotFound, errors.New("session not found"))
			return
		}

		reply := make(chan playback.View, 1)
		if !s.Send(playback.GetState{Reply: reply}) {
			writeError(w, http.StatusNotFound, errors.New("session closed"))
			return
		}
		var v playback.View
		select {
		case v = <-reply:
		case <-time.After(2 * time.Second):
			writeError(w, http.StatusGatewayTimeout, errors.New("session busy"))
			return
		}

		out := sessionView{
			Code:      code,
			Version:   v.Version,
			Clients:   v.NumClients,
			Turn:      v.Position.TurnIndex,
			DT:        v.Position.DT,
			LastTurn:  v.LastTurn,
			State:     v.State.String(),
			Speed:     v.Speed,
			Following: v.Following,
			Connected: v.Connected,
		}
		if v.Err != nil {
			out.Error = v.Err.Error()
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func ListMatches(store *archive.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, http.StatusNotImplemented, errors.New("archive disabled"))
			return
		}
		limit := 50
		if q := r.URL.Query().Get("limit"); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			limit = n
		}
		matches, err := store.ListMatches(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, matches)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}
