package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/kapu/chess-arena-server/internal/domain"
)

// Repository is the durable-storage boundary. Every call is best-effort from
// the engine's point of view: failures are reported to the caller, logged
// there, and never roll back in-memory session state.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) Ping(ctx context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

// CreateGameRecord inserts the initial row for a freshly started session.
func (r *Repository) CreateGameRecord(ctx context.Context, rec *domain.GameRecord) error {
	if r == nil || r.db == nil || rec == nil {
		return nil
	}
	q := `INSERT INTO arena_games (
	    session_id, white_id, white_name, black_id, black_name,
	    mode, time_control, rated, started_at
	  ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	  ON CONFLICT (session_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, q,
		rec.SessionID,
		rec.WhiteID, rec.WhiteName,
		rec.BlackID, rec.BlackName,
		rec.Mode, rec.TimeControl, rec.Rated, rec.StartedAt,
	)
	return err
}

// EndGameRecord upserts the final state of a session, including its PGN.
func (r *Repository) EndGameRecord(ctx context.Context, rec *domain.GameRecord) error {
	if r == nil || r.db == nil || rec == nil {
		return nil
	}

	pgn := BuildPGN(rec)
	movesUCIRaw, _ := json.Marshal(rec.MovesUCI)
	movesSANRaw, _ := json.Marshal(rec.MovesSAN)
	duration := rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO arena_games (
	    session_id, white_id, white_name, black_id, black_name,
	    mode, time_control, rated,
	    result, reason, moves_uci, moves_san, pgn,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
	  ) ON CONFLICT (session_id) DO UPDATE SET
	    result=EXCLUDED.result,
	    reason=EXCLUDED.reason,
	    moves_uci=EXCLUDED.moves_uci,
	    moves_san=EXCLUDED.moves_san,
	    pgn=EXCLUDED.pgn,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		rec.SessionID,
		rec.WhiteID, rec.WhiteName,
		rec.BlackID, rec.BlackName,
		rec.Mode, rec.TimeControl, rec.Rated,
		string(rec.Result), string(rec.Reason),
		string(movesUCIRaw), string(movesSANRaw), pgn,
		rec.StartedAt, rec.EndedAt, duration,
	)
	return err
}

// FindUserByAnyIdentifier resolves a profile by user id or display name.
func (r *Repository) FindUserByAnyIdentifier(ctx context.Context, ident string) (*domain.Profile, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return nil, nil
	}
	q := `SELECT user_id, display_name, rating, games_played, wins, losses, draws
	  FROM arena_profiles WHERE user_id = $1 OR display_name = $1 LIMIT 1`
	var p domain.Profile
	err := r.db.QueryRowContext(ctx, q, ident).Scan(
		&p.UserID, &p.DisplayName, &p.Rating, &p.GamesPlayed, &p.Wins, &p.Losses, &p.Draws,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateRating stores the new rating for a user.
func (r *Repository) UpdateRating(ctx context.Context, userID string, newRating int) error {
	if r == nil || r.db == nil || strings.TrimSpace(userID) == "" {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE arena_profiles SET rating = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, newRating,
	)
	return err
}

// IncrementGameStats bumps the per-user win/loss/draw counters.
func (r *Repository) IncrementGameStats(ctx context.Context, userID string, result domain.Result, color domain.Color) error {
	if r == nil || r.db == nil || strings.TrimSpace(userID) == "" {
		return nil
	}
	var col string
	switch {
	case result == domain.ResultDraw:
		col = "draws"
	case (result == domain.ResultWhiteWins) == (color == domain.White):
		col = "wins"
	default:
		col = "losses"
	}
	q := fmt.Sprintf(
		`UPDATE arena_profiles SET games_played = games_played + 1, %s = %s + 1, updated_at = NOW() WHERE user_id = $1`,
		col, col,
	)
	_, err := r.db.ExecContext(ctx, q, userID)
	return err
}

// SetProfileControl records a timed control relationship: controller gets to
// set the controlled user's displayed identity fields until expiry.
func (r *Repository) SetProfileControl(ctx context.Context, controllerID, controlledID string, until time.Time) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `INSERT INTO profile_controls (controlled_id, controller_id, expires_at)
	  VALUES ($1,$2,$3)
	  ON CONFLICT (controlled_id) DO UPDATE SET
	    controller_id=EXCLUDED.controller_id, expires_at=EXCLUDED.expires_at`
	_, err := r.db.ExecContext(ctx, q, controlledID, controllerID, until)
	return err
}

// ClearProfileControl removes any control relationship the user is subject to.
func (r *Repository) ClearProfileControl(ctx context.Context, controlledID string) error {
	if r == nil || r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM profile_controls WHERE controlled_id = $1`, controlledID)
	return err
}

// SetProfileLock forbids the user's own profile edits until expiry.
func (r *Repository) SetProfileLock(ctx context.Context, userID string, until time.Time) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `INSERT INTO profile_locks (user_id, expires_at) VALUES ($1,$2)
	  ON CONFLICT (user_id) DO UPDATE SET expires_at=EXCLUDED.expires_at`
	_, err := r.db.ExecContext(ctx, q, userID, until)
	return err
}

func (r *Repository) ClearProfileLock(ctx context.Context, userID string) error {
	if r == nil || r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM profile_locks WHERE user_id = $1`, userID)
	return err
}
