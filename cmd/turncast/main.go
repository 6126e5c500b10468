package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/turncast/internal/archive"
	"github.com/DoyleJ11/turncast/internal/bridge"
	"github.com/DoyleJ11/turncast/internal/config"
	"github.com/DoyleJ11/turncast/internal/httpapi"
	"github.com/DoyleJ11/turncast/internal/hub"
	"github.com/DoyleJ11/turncast/internal/live"
	"github.com/DoyleJ11/turncast/internal/logging"
	"github.com/DoyleJ11/turncast/internal/playback"
	"github.com/DoyleJ11/turncast/internal/replay"
	"github.com/DoyleJ11/turncast/pkg/types"
)

const (
	liveCode   = "LIVE"
	replayCode = "REPLAY"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("exiting", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	store, err := openArchive(cfg.Archive, log)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	h := hub.NewHub(ctx)
	popts := playback.Options{
		FrameInterval: cfg.Playback.FrameInterval(),
		Retention:     cfg.Playback.Retention,
		Follow:        cfg.Playback.Follow,
		Logger:        log,
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Replay.File != "" {
		if err := startReplay(cfg, h, popts, log); err != nil {
			return err
		}
	}

	deps := httpapi.Deps{
		Hub:      h,
		Archive:  store,
		Playback: popts,
		Speed:    cfg.Playback.Speed,
		Autoplay: cfg.Playback.Autoplay,
		Logger:   log,
	}

	if cfg.Tournament.Host != "" || cfg.Game.Server != "" {
		br := bridge.New(bridge.Options{Dialer: bridge.WebsocketDialer{}, Logger: log, Spectating: cfg.Game.Spectating})
		g.Go(func() error {
			// a lost game leaves the received turns available for playback
			lopts := popts
			lopts.Runner = br
			if err := followLive(ctx, cfg, br, h, lopts, store, log); err != nil {
				log.Error("live game ended with error", zap.Error(err))
			}
			return nil
		})
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.SetupRoutes(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Inbox() <- hub.ShutdownHub{}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openArchive(cfg config.ArchiveConfig, log *zap.Logger) (*archive.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return archive.OpenPostgres(cfg.DSN, log)
	case "sqlite":
		return archive.OpenSQLite(cfg.DSN, log)
	}
	return nil, nil
}

func startReplay(cfg config.Config, h *hub.Hub, popts playback.Options, log *zap.Logger) error {
	snaps, err := replay.Load(cfg.Replay.File)
	if err != nil {
		return fmt.Errorf("load replay: %w", err)
	}
	reply := make(chan *playback.Session, 1)
	h.Inbox() <- hub.CreateSession{Code: replayCode, Options: popts, Reply: reply}
	s := <-reply

	appended := make(chan error, 1)
	s.Send(playback.AppendTurns{Snapshots: snaps, Reply: appended})
	if err := <-appended; err != nil {
		return fmt.Errorf("replay %s: %w", cfg.Replay.File, err)
	}
	s.Send(playback.Disconnected{})
	if cfg.Playback.Autoplay {
		s.Send(playback.Play{Speed: cfg.Playback.Speed})
	}
	log.Info("replay loaded", zap.String("file", cfg.Replay.File), zap.Int("turns", len(snaps)), zap.String("code", replayCode))
	return nil
}

// followLive connects the bridge and pumps its turns into the LIVE session
// until the game ends.
func followLive(ctx context.Context, cfg config.Config, br *bridge.Bridge, h *hub.Hub, popts playback.Options, store *archive.Store, log *zap.Logger) (err error) {
	defer func() { err = multierr.Append(err, br.Close()) }()

	reply := make(chan *playback.Session, 1)
	h.Inbox() <- hub.CreateSession{Code: liveCode, Options: popts, Reply: reply}
	s := <-reply
	if cfg.Playback.Autoplay {
		s.Send(playback.Play{Speed: cfg.Playback.Speed})
	}

	var sinks []live.TurnSink
	if cfg.Replay.RecordDir != "" {
		rec, rerr := replay.NewRecorder(cfg.Replay.RecordDir, liveCode)
		if rerr != nil {
			return rerr
		}
		defer func() { err = multierr.Append(err, rec.Close()) }()
		log.Info("recording", zap.String("path", rec.Path()))
		sinks = append(sinks, rec)
	}
	if store != nil {
		m, merr := store.CreateMatch(ctx, cfg.Game.Name, cfg.Game.Session, "live")
		if merr != nil {
			return merr
		}
		sinks = append(sinks, store.Sink(m.ID))
	}

	if cfg.Game.Server != "" {
		err = br.ConnectGame(ctx, types.PlayAssignment{
			Server:     cfg.Game.Server,
			Port:       cfg.Game.Port,
			Game:       cfg.Game.Name,
			PlayerName: cfg.Game.PlayerName,
			Session:    cfg.Game.Session,
		})
	} else {
		err = br.Connect(ctx, cfg.Tournament.Host, cfg.Tournament.Port, cfg.Tournament.PlayerName, cfg.Tournament.Password)
	}
	if err != nil {
		s.Send(playback.Disconnected{Err: err})
		return err
	}

	err = live.Follow(ctx, br.Events(), s, live.Options{Sinks: sinks, Logger: log})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
