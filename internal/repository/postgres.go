package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
)

// Compile-time interface assertions.
var (
	_ ConfigurationRepository  = (*PostgresConfigurationRepo)(nil)
	_ AuthenticationRepository = (*PostgresAuthenticationRepo)(nil)
)

// PostgresConfigurationRepo implements ConfigurationRepository over the
// configurations table.
type PostgresConfigurationRepo struct {
	db *pgxpool.Pool
}

func NewPostgresConfigurationRepo(pool *pgxpool.Pool) *PostgresConfigurationRepo {
	return &PostgresConfigurationRepo{db: pool}
}

const selectConfigurationSQL = `SELECT buid, setup_id, credentials, scopes, created_at, updated_at
FROM configurations`

func (r *PostgresConfigurationRepo) Get(ctx context.Context, buid, setupID string) (domain.Configuration, error) {
	row := r.db.QueryRow(ctx, selectConfigurationSQL+` WHERE buid = $1 AND setup_id = $2`, buid, setupID)
	cfg, err := scanConfiguration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Configuration{}, fmt.Errorf("%s/%s: %w", buid, setupID, domain.ErrConfigurationNotFound)
		}
		return domain.Configuration{}, fmt.Errorf("get configuration: %w", err)
	}
	return cfg, nil
}

func (r *PostgresConfigurationRepo) Latest(ctx context.Context, buid string) (domain.Configuration, error) {
	row := r.db.QueryRow(ctx, selectConfigurationSQL+` WHERE buid = $1 ORDER BY updated_at DESC, id DESC LIMIT 1`, buid)
	cfg, err := scanConfiguration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Configuration{}, fmt.Errorf("%s: %w", buid, domain.ErrConfigurationNotFound)
		}
		return domain.Configuration{}, fmt.Errorf("latest configuration: %w", err)
	}
	return cfg, nil
}

func (r *PostgresConfigurationRepo) List(ctx context.Context, buid string) ([]domain.Configuration, error) {
	rows, err := r.db.Query(ctx, selectConfigurationSQL+` WHERE buid = $1 ORDER BY updated_at DESC, id DESC`, buid)
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	defer rows.Close()

	var out []domain.Configuration
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan configuration: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

const insertConfigurationSQL = `INSERT INTO configurations (buid, setup_id, credentials, scopes)
VALUES ($1, $2, $3, $4)
RETURNING buid, setup_id, credentials, scopes, created_at, updated_at`

func (r *PostgresConfigurationRepo) Insert(ctx context.Context, cfg domain.Configuration) (domain.Configuration, error) {
	credentials, scopes, err := marshalConfiguration(cfg)
	if err != nil {
		return domain.Configuration{}, err
	}
	row := r.db.QueryRow(ctx, insertConfigurationSQL, cfg.Buid, cfg.SetupID, credentials, scopes)
	inserted, err := scanConfiguration(row)
	if err != nil {
		return domain.Configuration{}, fmt.Errorf("insert configuration: %w", err)
	}
	return inserted, nil
}

const updateConfigurationSQL = `UPDATE configurations
SET credentials = $3, scopes = $4, updated_at = now()
WHERE buid = $1 AND setup_id = $2
RETURNING buid, setup_id, credentials, scopes, created_at, updated_at`

func (r *PostgresConfigurationRepo) Update(ctx context.Context, cfg domain.Configuration) (domain.Configuration, error) {
	credentials, scopes, err := marshalConfiguration(cfg)
	if err != nil {
		return domain.Configuration{}, err
	}
	row := r.db.QueryRow(ctx, updateConfigurationSQL, cfg.Buid, cfg.SetupID, credentials, scopes)
	updated, err := scanConfiguration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Configuration{}, fmt.Errorf("%s/%s: %w", cfg.Buid, cfg.SetupID, domain.ErrConfigurationNotFound)
		}
		return domain.Configuration{}, fmt.Errorf("update configuration: %w", err)
	}
	return updated, nil
}

func (r *PostgresConfigurationRepo) Delete(ctx context.Context, buid, setupID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM configurations WHERE buid = $1 AND setup_id = $2`, buid, setupID)
	if err != nil {
		return fmt.Errorf("delete configuration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", buid, setupID, domain.ErrConfigurationNotFound)
	}
	return nil
}

func marshalConfiguration(cfg domain.Configuration) (credentials, scopes []byte, err error) {
	credentials, err = json.Marshal(cfg.Credentials)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal credentials: %w", err)
	}
	if cfg.Scopes == nil {
		cfg.Scopes = []string{}
	}
	scopes, err = json.Marshal(cfg.Scopes)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal scopes: %w", err)
	}
	return credentials, scopes, nil
}

func scanConfiguration(row pgx.Row) (domain.Configuration, error) {
	var (
		cfg         domain.Configuration
		credentials []byte
		scopes      []byte
	)
	if err := row.Scan(&cfg.Buid, &cfg.SetupID, &credentials, &scopes, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return domain.Configuration{}, err
	}
	if err := json.Unmarshal(credentials, &cfg.Credentials); err != nil {
		return domain.Configuration{}, fmt.Errorf("unmarshal credentials: %w", err)
	}
	if err := json.Unmarshal(scopes, &cfg.Scopes); err != nil {
		return domain.Configuration{}, fmt.Errorf("unmarshal scopes: %w", err)
	}
	return cfg, nil
}

// PostgresAuthenticationRepo implements AuthenticationRepository over
// the authentications table.
type PostgresAuthenticationRepo struct {
	db *pgxpool.Pool
}

func NewPostgresAuthenticationRepo(pool *pgxpool.Pool) *PostgresAuthenticationRepo {
	return &PostgresAuthenticationRepo{db: pool}
}

const selectAuthenticationSQL = `SELECT buid, auth_id, setup_id, payload, created_at, updated_at
FROM authentications WHERE buid = $1 AND auth_id = $2`

func (r *PostgresAuthenticationRepo) Get(ctx context.Context, buid, authID string) (domain.Authentication, error) {
	row := r.db.QueryRow(ctx, selectAuthenticationSQL, buid, authID)
	auth, err := scanAuthentication(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Authentication{}, fmt.Errorf("%s/%s: %w", buid, authID, domain.ErrAuthenticationNotFound)
		}
		return domain.Authentication{}, fmt.Errorf("get authentication: %w", err)
	}
	return auth, nil
}

const upsertAuthenticationSQL = `INSERT INTO authentications (buid, auth_id, setup_id, payload)
VALUES ($1, $2, $3, $4)
ON CONFLICT (buid, auth_id)
DO UPDATE SET setup_id = EXCLUDED.setup_id, payload = EXCLUDED.payload, updated_at = now()
RETURNING buid, auth_id, setup_id, payload, created_at, updated_at`

func (r *PostgresAuthenticationRepo) Upsert(ctx context.Context, auth domain.Authentication) (domain.Authentication, error) {
	payload, err := json.Marshal(auth.Payload)
	if err != nil {
		return domain.Authentication{}, fmt.Errorf("marshal payload: %w", err)
	}
	row := r.db.QueryRow(ctx, upsertAuthenticationSQL, auth.Buid, auth.AuthID, auth.SetupID, payload)
	stored, err := scanAuthentication(row)
	if err != nil {
		return domain.Authentication{}, fmt.Errorf("upsert authentication: %w", err)
	}
	return stored, nil
}

const updateAuthenticationSQL = `UPDATE authentications
SET setup_id = $3, payload = $4, updated_at = now()
WHERE buid = $1 AND auth_id = $2
RETURNING buid, auth_id, setup_id, payload, created_at, updated_at`

func (r *PostgresAuthenticationRepo) Update(ctx context.Context, auth domain.Authentication) (domain.Authentication, error) {
	payload, err := json.Marshal(auth.Payload)
	if err != nil {
		return domain.Authentication{}, fmt.Errorf("marshal payload: %w", err)
	}
	row := r.db.QueryRow(ctx, updateAuthenticationSQL, auth.Buid, auth.AuthID, auth.SetupID, payload)
	stored, err := scanAuthentication(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Authentication{}, fmt.Errorf("%s/%s: %w", auth.Buid, auth.AuthID, domain.ErrAuthenticationNotFound)
		}
		return domain.Authentication{}, fmt.Errorf("update authentication: %w", err)
	}
	return stored, nil
}

func (r *PostgresAuthenticationRepo) Delete(ctx context.Context, buid, authID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM authentications WHERE buid = $1 AND auth_id = $2`, buid, authID)
	if err != nil {
		return fmt.Errorf("delete authentication: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", buid, authID, domain.ErrAuthenticationNotFound)
	}
	return nil
}

func scanAuthentication(row pgx.Row) (domain.Authentication, error) {
	var (
		auth    domain.Authentication
		payload []byte
	)
	if err := row.Scan(&auth.Buid, &auth.AuthID, &auth.SetupID, &payload, &auth.CreatedAt, &auth.UpdatedAt); err != nil {
		return domain.Authentication{}, err
	}
	if err := json.Unmarshal(payload, &auth.Payload); err != nil {
		return domain.Authentication{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	return auth, nil
}

// Migrate creates the gateway tables when missing. The schema is two
// keyed JSON-document tables; nothing here needs cross-row
// transactions.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
CREATE TABLE IF NOT EXISTS configurations (
	id          BIGSERIAL PRIMARY KEY,
	buid        TEXT NOT NULL,
	setup_id    TEXT NOT NULL,
	credentials JSONB NOT NULL,
	scopes      JSONB NOT NULL DEFAULT '[]',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (buid, setup_id)
);
CREATE TABLE IF NOT EXISTS authentications (
	id         BIGSERIAL PRIMARY KEY,
	buid       TEXT NOT NULL,
	auth_id    TEXT NOT NULL,
	setup_id   TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (buid, auth_id)
);`
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
