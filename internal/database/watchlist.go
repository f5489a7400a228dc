package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrEmptyUserID is returned when a watchlist call carries no user.
var ErrEmptyUserID = errors.New("database: empty user id")

// Querier is the subset of *pgxpool.Pool the repository uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	createWatchlistSQL = `CREATE TABLE IF NOT EXISTS watchlist_symbols (
	user_id    TEXT        NOT NULL,
	symbol     TEXT        NOT NULL,
	position   INTEGER     NOT NULL DEFAULT 0,
	added_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, symbol)
)`
	selectWatchlistSQL = `SELECT symbol FROM watchlist_symbols WHERE user_id = $1 ORDER BY position, symbol`
	insertSymbolSQL    = `INSERT INTO watchlist_symbols (user_id, symbol, position)
VALUES ($1, $2, (SELECT COALESCE(MAX(position), -1) + 1 FROM watchlist_symbols WHERE user_id = $1))
ON CONFLICT (user_id, symbol) DO NOTHING`
	deleteSymbolSQL = `DELETE FROM watchlist_symbols WHERE user_id = $1 AND symbol = $2`
)

// WatchlistRepo reads and edits per-user watchlists.
type WatchlistRepo struct {
	db     Querier
	logger *slog.Logger
}

// NewWatchlistRepo creates a repository over db.
func NewWatchlistRepo(db Querier, logger *slog.Logger) *WatchlistRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &WatchlistRepo{
		db:     db,
		logger: logger.With("component", "watchlist_repo"),
	}
}

// EnsureSchema creates the watchlist table if it does not exist.
func (r *WatchlistRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createWatchlistSQL); err != nil {
		return fmt.Errorf("create watchlist table: %w", err)
	}
	return nil
}

// Watchlist returns the user's symbols in insertion order.
func (r *WatchlistRepo) Watchlist(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	rows, err := r.db.Query(ctx, selectWatchlistSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("query watchlist %s: %w", userID, err)
	}
	symbols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan watchlist %s: %w", userID, err)
	}

	r.logger.Debug("loaded watchlist", "user_id", userID, "symbols", len(symbols))
	return symbols, nil
}

// AddSymbol appends symbol to the user's watchlist. Adding a symbol that is
// already present is a no-op and reports false.
func (r *WatchlistRepo) AddSymbol(ctx context.Context, userID, symbol string) (bool, error) {
	if userID == "" {
		return false, ErrEmptyUserID
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return false, errors.New("database: empty symbol")
	}
	tag, err := r.db.Exec(ctx, insertSymbolSQL, userID, symbol)
	if err != nil {
		return false, fmt.Errorf("add %s to watchlist %s: %w", symbol, userID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveSymbol deletes symbol from the user's watchlist.
func (r *WatchlistRepo) RemoveSymbol(ctx context.Context, userID, symbol string) (bool, error) {
	if userID == "" {
		return false, ErrEmptyUserID
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	tag, err := r.db.Exec(ctx, deleteSymbolSQL, userID, symbol)
	if err != nil {
		return false, fmt.Errorf("remove %s from watchlist %s: %w", symbol, userID, err)
	}
	return tag.RowsAffected() > 0, nil
}
