package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/shortlink-relay/internal/shortener"
)

//go:embed schema.sql
var schema string

// PostgresStore implements shortener.Repository and settings.Store on
// PostgreSQL. Writes and read-your-write lookups use the primary pool;
// token and URL lookups go to the replica pool.
type PostgresStore struct {
	primary *pgxpool.Pool
	replica *pgxpool.Pool
	now     func() time.Time
}

// NewPostgresStore uses primary for reads too when replica is nil.
func NewPostgresStore(primary, replica *pgxpool.Pool) *PostgresStore {
	if replica == nil {
		replica = primary
	}

	return &PostgresStore{primary: primary, replica: replica, now: time.Now}
}

// NewPool parses dsn and opens a pool, failing fast if the server is unreachable.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Migrate creates missing tables. Existing data is kept.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.primary.Exec(ctx, schema); err != nil {
		return shortener.NewStorageError("migrate", err)
	}

	return nil
}

func (p *PostgresStore) SaveMapping(ctx context.Context, mapping *shortener.Mapping) (shortener.Token, bool, error) {
	if err := validateMapping(mapping); err != nil {
		return "", false, err
	}

	var (
		token   shortener.Token
		created bool
	)

	err := pgx.BeginFunc(ctx, p.primary, func(tx pgx.Tx) error {
		var inserted string

		err := tx.QueryRow(ctx, `
			INSERT INTO linkstore (token, link_id, long_url, url_hash, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT DO NOTHING
			RETURNING token`,
			string(mapping.Token),
			int64(mapping.LinkID),
			mapping.LongURL,
			string(mapping.URLHash),
			mapping.CreatedAt,
		).Scan(&inserted)
		if err == nil {
			token, created = shortener.Token(inserted), true

			return nil
		}

		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		var existing string

		err = tx.QueryRow(ctx,
			`SELECT token FROM linkstore WHERE url_hash = $1`,
			string(mapping.URLHash),
		).Scan(&existing)
		if errors.Is(err, pgx.ErrNoRows) {
			return shortener.ErrTokenTaken
		}

		if err != nil {
			return err
		}

		token = shortener.Token(existing)

		return nil
	})
	if err != nil {
		return "", false, shortener.NewStorageError("save mapping", err)
	}

	return token, created, nil
}

func (p *PostgresStore) FindTokenFor(ctx context.Context, longURL string) (shortener.Token, error) {
	var token string

	err := p.replica.QueryRow(ctx,
		`SELECT token FROM linkstore WHERE url_hash = $1`,
		string(shortener.HashURL(longURL)),
	).Scan(&token)
	if err != nil {
		return "", shortener.NewStorageError("find token", notFound(err))
	}

	return shortener.Token(token), nil
}

func (p *PostgresStore) Resolve(ctx context.Context, token shortener.Token) (*shortener.Mapping, error) {
	var (
		mapping shortener.Mapping
		linkID  int64
		hash    string
		stored  string
	)

	err := p.replica.QueryRow(ctx, `
		SELECT token, link_id, long_url, url_hash, created_at
		FROM linkstore
		WHERE token = $1`,
		string(token),
	).Scan(&stored, &linkID, &mapping.LongURL, &hash, &mapping.CreatedAt)
	if err != nil {
		return nil, shortener.NewStorageError("resolve", notFound(err))
	}

	mapping.Token = shortener.Token(stored)
	mapping.LinkID = uint64(linkID)
	mapping.URLHash = shortener.URLHash(hash)

	return &mapping, nil
}

func (p *PostgresStore) DeleteMapping(ctx context.Context, token shortener.Token) error {
	if token == "" {
		return shortener.NewValidationError("token", "must not be empty")
	}

	if _, err := p.primary.Exec(ctx, `
		WITH gone AS (
			DELETE FROM linkstore WHERE token = $1 RETURNING link_id
		)`+raiseWatermark, string(token)); err != nil {
		return shortener.NewStorageError("delete mapping", err)
	}

	return nil
}

func (p *PostgresStore) PurgeExpired(ctx context.Context, ttl time.Duration) ([]shortener.Token, error) {
	if ttl <= 0 {
		return nil, nil
	}

	rows, err := p.primary.Query(ctx, `
		WITH gone AS (
			DELETE FROM linkstore WHERE created_at <= $1 RETURNING token, link_id
		), mark AS (`+raiseWatermark+`
		)
		SELECT token FROM gone`,
		p.now().Add(-ttl),
	)
	if err != nil {
		return nil, shortener.NewStorageError("purge expired", err)
	}

	tokens, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (shortener.Token, error) {
		var token string
		err := row.Scan(&token)

		return shortener.Token(token), err
	})
	if err != nil {
		return nil, shortener.NewStorageError("purge expired", err)
	}

	return tokens, nil
}

// raiseWatermark records the largest link_id of the "gone" CTE.
const raiseWatermark = `
	INSERT INTO link_id_watermark (singleton, value)
	SELECT TRUE, MAX(link_id) FROM gone HAVING MAX(link_id) IS NOT NULL
	ON CONFLICT (singleton) DO UPDATE
	SET value = GREATEST(link_id_watermark.value, EXCLUDED.value)`

// MaxLinkID returns the highest link_id ever stored, deleted rows included.
func (p *PostgresStore) MaxLinkID(ctx context.Context) (uint64, error) {
	var id int64

	err := p.primary.QueryRow(ctx, `
		SELECT GREATEST(
			COALESCE((SELECT MAX(link_id) FROM linkstore), 0),
			COALESCE((SELECT value FROM link_id_watermark), 0)
		)`).Scan(&id)
	if err != nil {
		return 0, shortener.NewStorageError("max link id", err)
	}

	return uint64(id), nil
}

func (p *PostgresStore) NextRetryID(ctx context.Context) (int64, error) {
	var id int64

	err := p.primary.QueryRow(ctx, `SELECT nextval(pg_get_serial_sequence('linkretry', 'id'))`).Scan(&id)
	if err != nil {
		return 0, shortener.NewStorageError("next retry id", err)
	}

	return id, nil
}

func (p *PostgresStore) SaveRetryRecord(ctx context.Context, record *shortener.RetryRecord) error {
	if err := validateRetryRecord(record); err != nil {
		return err
	}

	_, err := p.primary.Exec(ctx, `
		INSERT INTO linkretry (id, long_url, retry_attempt, created_at)
		VALUES ($1, $2, $3, $4)`,
		record.ID, record.LongURL, record.AttemptBudget, record.CreatedAt,
	)
	if err != nil {
		return shortener.NewStorageError("save retry record", err)
	}

	return nil
}

// LoadRetryRecord reads the primary: the record was written moments ago.
func (p *PostgresStore) LoadRetryRecord(ctx context.Context, id int64) (*shortener.RetryRecord, error) {
	record := shortener.RetryRecord{ID: id}

	err := p.primary.QueryRow(ctx,
		`SELECT long_url, retry_attempt, created_at FROM linkretry WHERE id = $1`, id,
	).Scan(&record.LongURL, &record.AttemptBudget, &record.CreatedAt)
	if err != nil {
		return nil, shortener.NewStorageError("load retry record", notFound(err))
	}

	return &record, nil
}

func (p *PostgresStore) DeleteRetryRecord(ctx context.Context, id int64) error {
	if _, err := p.primary.Exec(ctx, `DELETE FROM linkretry WHERE id = $1`, id); err != nil {
		return shortener.NewStorageError("delete retry record", err)
	}

	return nil
}

func (p *PostgresStore) PurgeRetryRecords(ctx context.Context, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, nil
	}

	tag, err := p.primary.Exec(ctx, `DELETE FROM linkretry WHERE created_at <= $1`, p.now().Add(-ttl))
	if err != nil {
		return 0, shortener.NewStorageError("purge retry records", err)
	}

	return tag.RowsAffected(), nil
}

func (p *PostgresStore) AppendRequestLog(ctx context.Context, entry *shortener.RequestLogEntry) error {
	if entry == nil {
		return shortener.NewValidationError("entry", "must not be nil")
	}

	_, err := p.primary.Exec(ctx, `
		INSERT INTO linkstorelogger
			(id, request_time, token, long_url, request_timeout, request_attempt, request_code, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID,
		entry.RequestTime,
		string(entry.Token),
		entry.LongURL,
		entry.TimeoutSeconds,
		entry.Attempt,
		entry.ResultCode,
		entry.Error,
	)
	if err != nil {
		return shortener.NewStorageError("append request log", err)
	}

	return nil
}

func (p *PostgresStore) GetSetting(ctx context.Context, name string) (string, error) {
	var value string

	err := p.primary.QueryRow(ctx, `SELECT value FROM service_settings WHERE name = $1`, name).Scan(&value)
	if err != nil {
		return "", shortener.NewStorageError("get setting", notFound(err))
	}

	return value, nil
}

func (p *PostgresStore) UpsertSetting(ctx context.Context, name, value string) error {
	return p.UpsertSettings(ctx, map[string]string{name: value})
}

func (p *PostgresStore) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := p.primary.Query(ctx, `SELECT name, value FROM service_settings`)
	if err != nil {
		return nil, shortener.NewStorageError("list settings", err)
	}
	defer rows.Close()

	values := make(map[string]string)

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, shortener.NewStorageError("list settings", err)
		}

		values[name] = value
	}

	if err := rows.Err(); err != nil {
		return nil, shortener.NewStorageError("list settings", err)
	}

	return values, nil
}

func (p *PostgresStore) UpsertSettings(ctx context.Context, values map[string]string) error {
	return p.writeSettings(ctx, "upsert settings", values, `
		INSERT INTO service_settings (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`)
}

func (p *PostgresStore) InsertMissingSettings(ctx context.Context, values map[string]string) error {
	return p.writeSettings(ctx, "insert missing settings", values, `
		INSERT INTO service_settings (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING`)
}

func (p *PostgresStore) writeSettings(ctx context.Context, op string, values map[string]string, query string) error {
	if err := validateSettings(values); err != nil {
		return err
	}

	err := pgx.BeginFunc(ctx, p.primary, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for name, value := range values {
			batch.Queue(query, name, value)
		}

		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return shortener.NewStorageError(op, err)
	}

	return nil
}

// Ping checks both pools.
func (p *PostgresStore) Ping(ctx context.Context) error {
	if err := p.primary.Ping(ctx); err != nil {
		return err
	}

	if p.replica != p.primary {
		return p.replica.Ping(ctx)
	}

	return nil
}

// Shutdown closes both pools.
func (p *PostgresStore) Shutdown() error {
	if p.replica != p.primary {
		p.replica.Close()
	}

	p.primary.Close()

	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shortener.ErrNotFound
	}

	return err
}
