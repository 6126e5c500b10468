// Package archive keeps finished and in-progress matches in a SQL database so
// they can be replayed later.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/turncast/internal/engine"
	"github.com/DoyleJ11/turncast/pkg/types"
)

var ErrNotFound = errors.New("match not found")

type Match struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	GameName    string    `gorm:"index" json:"gameName"`
	GameSession string    `json:"gameSession"`
	Source      string    `json:"source"` // "live" or "replay"
	TurnCount   int       `json:"turnCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Turn struct {
	MatchID    string `gorm:"primaryKey;size:36"`
	TurnNumber int    `gorm:"primaryKey;autoIncrement:false"`
	Delta      []byte // JSON wire delta
	CreatedAt  time.Time
}

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func Open(dialector gorm.Dialector, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// one writer, and every ":memory:" connection would be a separate database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&Match{}, &Turn{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &Store{db: db, log: log.Named("archive")}, nil
}

func OpenPostgres(dsn string, log *zap.Logger) (*Store, error) {
	return Open(postgres.Open(dsn), log)
}

// OpenSQLite opens a file-backed (or ":memory:") archive.
func OpenSQLite(path string, log *zap.Logger) (*Store, error) {
	return Open(sqlite.Open(path), log)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateMatch(ctx context.Context, gameName, session, source string) (Match, error) {
	m := Match{ID: uuid.NewString(), GameName: gameName, GameSession: session, Source: source}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return Match{}, fmt.Errorf("create match: %w", err)
	}
	s.log.Info("match created", zap.String("match", m.ID), zap.String("game", gameName), zap.String("session", session))
	return m, nil
}

// AppendTurn stores the next turn of a match. Turns must arrive in order from 0.
func (s *Store) AppendTurn(ctx context.Context, matchID string, snap engine.TurnSnapshot) error {
	d, err := engine.EncodeDelta(snap)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m Match
		if err := tx.First(&m, "id = ?", matchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, matchID)
			}
			return err
		}
		if snap.TurnNumber != m.TurnCount {
			return fmt.Errorf("%w: got turn %d, want %d", engine.ErrOutOfOrder, snap.TurnNumber, m.TurnCount)
		}
		if err := tx.Create(&Turn{MatchID: matchID, TurnNumber: snap.TurnNumber, Delta: raw}).Error; err != nil {
			return err
		}
		return tx.Model(&Match{}).Where("id = ?", matchID).Update("turn_count", m.TurnCount+1).Error
	})
}

func (s *Store) GetMatch(ctx context.Context, matchID string) (Match, error) {
	var m Match
	err := s.db.WithContext(ctx).First(&m, "id = ?", matchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Match{}, fmt.Errorf("%w: %s", ErrNotFound, matchID)
	}
	return m, err
}

// LoadTurns returns every stored turn of a match in order.
func (s *Store) LoadTurns(ctx context.Context, matchID string) ([]engine.TurnSnapshot, error) {
	if _, err := s.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}
	var rows []Turn
	if err := s.db.WithContext(ctx).Where("match_id = ?", matchID).Order("turn_number").Find(&rows).Error; err != nil {
		return nil, err
	}

	snaps := make([]engine.TurnSnapshot, 0, len(rows))
	for _, row := range rows {
		var d types.DeltaData
		if err := json.Unmarshal(row.Delta, &d); err != nil {
			return nil, fmt.Errorf("match %s turn %d: %w", matchID, row.TurnNumber, err)
		}
		snap, err := engine.DecodeDelta(d)
		if err != nil {
			return nil, fmt.Errorf("match %s turn %d: %w", matchID, row.TurnNumber, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// ListMatches returns the newest matches first. limit <= 0 means no limit.
func (s *Store) ListMatches(ctx context.Context, limit int) ([]Match, error) {
	q := s.db.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Match
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Sink records one match's turns as they arrive.
type Sink struct {
	store   *Store
	matchID string
}

func (s *Store) Sink(matchID string) *Sink { return &Sink{store: s, matchID: matchID} }

func (k *Sink) RecordTurn(snap engine.TurnSnapshot) error {
	return k.store.AppendTurn(context.Background(), k.matchID, snap)
}
