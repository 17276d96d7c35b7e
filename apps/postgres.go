package apps

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresManager looks apps up in a PostgreSQL table with one row per app.
type PostgresManager struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresManager constructs a manager reading from table
func NewPostgresManager(pool *pgxpool.Pool, table string) *PostgresManager {
	if table == "" {
		table = "apps"
	}
	return &PostgresManager{pool: pool, table: pgx.Identifier{table}.Sanitize()}
}

const appColumns = `id, key, secret, enabled, enable_client_messages,
	COALESCE(max_connections, 0), COALESCE(max_backend_events_per_second, 0),
	COALESCE(max_client_events_per_second, 0), COALESCE(max_read_requests_per_second, 0),
	COALESCE(max_presence_members_per_channel, 0), COALESCE(max_presence_member_size_in_kb, 0),
	COALESCE(max_channel_name_length, 0), COALESCE(max_event_channels_at_once, 0),
	COALESCE(max_event_name_length, 0), COALESCE(max_event_payload_in_kb, 0)`

func (m *PostgresManager) FindByID(ctx context.Context, id string) (*App, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, appColumns, m.table)
	return m.findOne(ctx, query, id)
}

func (m *PostgresManager) FindByKey(ctx context.Context, key string) (*App, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE key = $1`, appColumns, m.table)
	return m.findOne(ctx, query, key)
}

func (m *PostgresManager) findOne(ctx context.Context, query, arg string) (*App, error) {
	row := m.pool.QueryRow(ctx, query, arg)
	var a App
	err := row.Scan(
		&a.ID, &a.Key, &a.Secret, &a.Enabled, &a.EnableClientMessages,
		&a.MaxConnections, &a.MaxBackendEventsPerSecond,
		&a.MaxClientEventsPerSecond, &a.MaxReadRequestsPerSecond,
		&a.MaxPresenceMembersPerChannel, &a.MaxPresenceMemberSizeInKb,
		&a.MaxChannelNameLength, &a.MaxEventChannelsAtOnce,
		&a.MaxEventNameLength, &a.MaxEventPayloadInKb,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

var _ Manager = (*PostgresManager)(nil)
