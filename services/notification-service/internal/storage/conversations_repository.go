package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agendapro/agendapro/services/notification-service/internal/conversation"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ conversation.Store = (*Repository)(nil)

// scopeFilter limits a lookup to the tenant and, when given, the instance.
// Threads without an instance match any.
const scopeFilter = `c.tenant_id = $1 AND ($2 = '' OR c.instance_id IS NULL OR c.instance_id::text = $2)`

const refColumns = `c.id::text, COALESCE(c.client_id::text, '')`

func scanRef(row pgx.Row) (conversation.Ref, bool, error) {
	var ref conversation.Ref
	if err := row.Scan(&ref.ID, &ref.ClientID); err != nil {
		ok, err := notFoundAsFalse(err)
		return conversation.Ref{}, ok, err
	}
	return ref, true, nil
}

func (r *Repository) FindByRemoteSuffix(ctx context.Context, q conversation.Query, suffix string) (conversation.Ref, bool, error) {
	return scanRef(r.db.QueryRow(ctx, `
		SELECT `+refColumns+`
		FROM conversations c
		WHERE `+scopeFilter+`
			AND c.remote_jid NOT LIKE '%@g.us'
			AND right(split_part(c.remote_jid, '@', 1), 8) = $3
		ORDER BY c.last_message_at DESC
		LIMIT 1
	`, q.TenantID, q.InstanceID, suffix))
}

func (r *Repository) FindByRemoteJID(ctx context.Context, q conversation.Query, jids []string) (conversation.Ref, bool, error) {
	return scanRef(r.db.QueryRow(ctx, `
		SELECT `+refColumns+`
		FROM conversations c
		WHERE `+scopeFilter+` AND c.remote_jid = ANY($3)
		ORDER BY c.last_message_at DESC
		LIMIT 1
	`, q.TenantID, q.InstanceID, jids))
}

func (r *Repository) FindByContactSuffix(ctx context.Context, q conversation.Query, suffix string) (conversation.Ref, bool, error) {
	return scanRef(r.db.QueryRow(ctx, `
		SELECT `+refColumns+`
		FROM conversations c
		WHERE `+scopeFilter+`
			AND c.contact_phone <> ''
			AND right(regexp_replace(c.contact_phone, '\D', '', 'g'), 8) = $3
		ORDER BY c.last_message_at DESC
		LIMIT 1
	`, q.TenantID, q.InstanceID, suffix))
}

func (r *Repository) FindByClientSuffix(ctx context.Context, q conversation.Query, suffix string) (conversation.Ref, bool, error) {
	return scanRef(r.db.QueryRow(ctx, `
		SELECT `+refColumns+`
		FROM conversations c
		JOIN clients cl ON cl.id = c.client_id
		WHERE `+scopeFilter+`
			AND right(regexp_replace(cl.phone, '\D', '', 'g'), 8) = $3
		ORDER BY c.last_message_at DESC
		LIMIT 1
	`, q.TenantID, q.InstanceID, suffix))
}

func (r *Repository) Touch(ctx context.Context, conversationID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET last_message_at = now(), archived = false
		WHERE id = $1
	`, conversationID)
	return err
}

func (r *Repository) Create(ctx context.Context, c conversation.NewConversation) (string, error) {
	origin, err := json.Marshal(c.Origin)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = r.db.Exec(ctx, `
		INSERT INTO conversations (id, tenant_id, instance_id, remote_jid, contact_name, contact_phone, client_id, origin)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, NULLIF($7, '')::uuid, $8)
	`, id, c.TenantID, c.InstanceID, c.RemoteJID, c.ContactName, c.ContactPhone, c.ClientID, origin)
	if err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}
	return id, nil
}

func (r *Repository) AppendMessage(ctx context.Context, tenantID, conversationID, content string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, tenant_id, content, direction, sender_type)
		VALUES ($1, $2, $3, $4, 'outbound', 'system')
	`, uuid.NewString(), conversationID, tenantID, content)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return r.Touch(ctx, conversationID)
}

func (r *Repository) FindClientBySuffix(ctx context.Context, tenantID, suffix string) (string, bool, error) {
	var id string
	err := r.db.QueryRow(ctx, `
		SELECT id::text
		FROM clients
		WHERE tenant_id = $1 AND right(regexp_replace(phone, '\D', '', 'g'), 8) = $2
		ORDER BY created_at
		LIMIT 1
	`, tenantID, suffix).Scan(&id)
	if err != nil {
		ok, err := notFoundAsFalse(err)
		return "", ok, err
	}
	return id, true, nil
}

func (r *Repository) CreateClient(ctx context.Context, tenantID, name, phoneNumber string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.Exec(ctx, `
		INSERT INTO clients (id, tenant_id, name, phone)
		VALUES ($1, $2, $3, $4)
	`, id, tenantID, name, phoneNumber)
	if err != nil {
		return "", fmt.Errorf("insert client: %w", err)
	}
	return id, nil
}
