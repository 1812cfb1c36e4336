package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditStore struct {
	db DB
}

type AuditEntry struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Data       map[string]string
}

type AuditLog struct {
	ID          string    `db:"id" json:"id"`
	ActorUserID *string   `db:"actor_user_id" json:"actor_user_id"`
	Action      string    `db:"action" json:"action"`
	EntityType  string    `db:"entity_type" json:"entity_type"`
	EntityID    string    `db:"entity_id" json:"entity_id"`
	Data        string    `db:"data" json:"data"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Log(ctx context.Context, tx Execer, entry AuditEntry) error {
	data := []byte("{}")
	if len(entry.Data) > 0 {
		encoded, err := json.Marshal(entry.Data)
		if err != nil {
			return err
		}
		data = encoded
	}
	var actor *string
	if entry.ActorID != "" {
		actor = &entry.ActorID
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_user_id, action, entity_type, entity_id, data)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), actor, entry.Action, entry.EntityType, entry.EntityID, string(data))
	return err
}

func (s *AuditStore) List(ctx context.Context, limit, offset int) ([]AuditLog, error) {
	var rows []AuditLog
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, actor_user_id, action, entity_type, entity_id, data, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
