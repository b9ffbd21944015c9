package history

import (
	"context"
	"fmt"
	"path/filepath"

	"parlo/pkg/logger"
	"parlo/pkg/model"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// Store archives sent messages and tutor replies in PostgreSQL. It is an
// optional component; the client runs fine without a DSN configured.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(databaseURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(databaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("History store ready")

	return &Store{pool: pool}, nil
}

func runMigrations(databaseURL string) error {
	migrationsPath, err := filepath.Abs("migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations path: %w", err)
	}
	migrationsURL := fmt.Sprintf("file://%s", filepath.ToSlash(migrationsPath))

	connConfig, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse database URL: %w", err)
	}

	db := stdlib.OpenDB(*connConfig)
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(migrationsURL, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err == migrate.ErrNoChange {
		logger.Info("No new migrations to apply")
	} else {
		logger.Info("Migrations applied", zap.String("path", migrationsURL))
	}

	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// SaveExchange records one sent message and its reply.
func (s *Store) SaveExchange(ctx context.Context, ex *model.Exchange) error {
	query := `
		INSERT INTO exchanges (
			id, conversation_id, kind, sent, reply, corrected, natural_text, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)`

	_, err := s.pool.Exec(ctx, query,
		ex.ID,
		ex.ConversationID,
		ex.Kind,
		ex.Sent,
		ex.Reply,
		ex.Corrected,
		ex.Natural,
		ex.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save exchange: %w", err)
	}

	return nil
}

// RecentExchanges returns the newest exchanges of a conversation, most
// recent first.
func (s *Store) RecentExchanges(ctx context.Context, conversationID string, limit int) ([]*model.Exchange, error) {
	query := `
		SELECT id, conversation_id, kind, sent, reply, corrected, natural_text, created_at
		FROM exchanges
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []*model.Exchange
	for rows.Next() {
		var ex model.Exchange
		err := rows.Scan(
			&ex.ID,
			&ex.ConversationID,
			&ex.Kind,
			&ex.Sent,
			&ex.Reply,
			&ex.Corrected,
			&ex.Natural,
			&ex.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		exchanges = append(exchanges, &ex)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exchanges: %w", err)
	}

	return exchanges, nil
}
