package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBSink stores events in the audit_events table
type DBSink struct {
	db *sql.DB
}

// NewDBSink creates a database sink. Call EnsureTable once at startup.
func NewDBSink(db *sql.DB) *DBSink {
	return &DBSink{db: db}
}

// EnsureTable creates the audit_events table if it doesn't exist
func (s *DBSink) EnsureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		tenant_id TEXT,
		actor_user_id TEXT,
		resource_type VARCHAR(50),
		resource_id TEXT,
		request_id VARCHAR(100),
		message TEXT,
		metadata JSONB,
		changes JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_tenant_time ON audit_events(tenant_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource_type, resource_id);
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure audit_events table: %w", err)
	}
	return nil
}

// Record implements Sink
func (s *DBSink) Record(ctx context.Context, event *Event) error {
	var metadataJSON, changesJSON []byte
	var err error

	if len(event.Metadata) > 0 {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	if event.Changes != nil {
		changesJSON, err = json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (
			timestamp, event_type, status,
			tenant_id, actor_user_id,
			resource_type, resource_id,
			request_id, message, metadata, changes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err = s.db.QueryRowContext(ctx, query,
		event.Timestamp, event.Type, event.Status,
		event.TenantID, event.ActorUserID,
		event.ResourceType, event.ResourceID,
		event.RequestID, event.Message, metadataJSON, changesJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// ListTenantEvents returns the most recent events for a tenant, newest first
func (s *DBSink) ListTenantEvents(ctx context.Context, tenantID string, since time.Time, limit int) ([]*Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, timestamp, event_type, status, tenant_id, actor_user_id,
		       resource_type, resource_id, request_id, message, metadata, changes
		FROM audit_events
		WHERE tenant_id = $1 AND timestamp >= $2
		ORDER BY timestamp DESC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e                                     Event
			tenant, actor, rtype, rid, reqID, msg sql.NullString
			metadata, changes                     []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Type, &e.Status, &tenant, &actor,
			&rtype, &rid, &reqID, &msg, &metadata, &changes); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.TenantID = tenant.String
		e.ActorUserID = actor.String
		e.ResourceType = ResourceType(rtype.String)
		e.ResourceID = rid.String
		e.RequestID = reqID.String
		e.Message = msg.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		if len(changes) > 0 {
			e.Changes = &ChangeDetails{}
			if err := json.Unmarshal(changes, e.Changes); err != nil {
				return nil, fmt.Errorf("failed to decode audit changes: %w", err)
			}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return events, nil
}

// PruneBefore deletes events older than cutoff and returns how many were removed
func (s *DBSink) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned audit events: %w", err)
	}
	return n, nil
}
