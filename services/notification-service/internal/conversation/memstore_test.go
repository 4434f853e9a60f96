package conversation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/agendapro/agendapro/libs/phone"
)

type memConversation struct {
	NewConversation
	ID       string
	Archived bool
	Touched  int
}

type memClient struct {
	ID    string
	Phone string
}

type memStore struct {
	mu            sync.Mutex
	conversations []*memConversation
	clients       []memClient
	messages      map[string][]string
	seq           int
}

func newMemStore() *memStore {
	return &memStore{messages: map[string][]string{}}
}

func (m *memStore) find(q Query, match func(*memConversation) bool) (Ref, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conversations {
		if c.TenantID != q.TenantID {
			continue
		}
		if q.InstanceID != "" && c.InstanceID != "" && c.InstanceID != q.InstanceID {
			continue
		}
		if match(c) {
			return Ref{ID: c.ID, ClientID: c.ClientID}, true, nil
		}
	}
	return Ref{}, false, nil
}

func (m *memStore) FindByRemoteSuffix(_ context.Context, q Query, suffix string) (Ref, bool, error) {
	return m.find(q, func(c *memConversation) bool {
		return !strings.Contains(c.RemoteJID, "@g.us") && phone.Suffix(c.RemoteJID) == suffix
	})
}

func (m *memStore) FindByRemoteJID(_ context.Context, q Query, jids []string) (Ref, bool, error) {
	return m.find(q, func(c *memConversation) bool { return slices.Contains(jids, c.RemoteJID) })
}

func (m *memStore) FindByContactSuffix(_ context.Context, q Query, suffix string) (Ref, bool, error) {
	return m.find(q, func(c *memConversation) bool {
		return c.ContactPhone != "" && phone.Suffix(c.ContactPhone) == suffix
	})
}

func (m *memStore) FindByClientSuffix(_ context.Context, q Query, suffix string) (Ref, bool, error) {
	m.mu.Lock()
	var ids []string
	for _, cl := range m.clients {
		if phone.Suffix(cl.Phone) == suffix {
			ids = append(ids, cl.ID)
		}
	}
	m.mu.Unlock()
	return m.find(q, func(c *memConversation) bool { return slices.Contains(ids, c.ClientID) })
}

func (m *memStore) Touch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conversations {
		if c.ID == id {
			c.Touched++
			c.Archived = false
			return nil
		}
	}
	return fmt.Errorf("conversation %s not found", id)
}

func (m *memStore) Create(_ context.Context, nc NewConversation) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("conv-%d", m.seq)
	m.conversations = append(m.conversations, &memConversation{NewConversation: nc, ID: id})
	return id, nil
}

func (m *memStore) AppendMessage(_ context.Context, _, id, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[id] = append(m.messages[id], content)
	return nil
}

func (m *memStore) FindClientBySuffix(_ context.Context, _, suffix string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cl := range m.clients {
		if phone.Suffix(cl.Phone) == suffix {
			return cl.ID, true, nil
		}
	}
	return "", false, nil
}

func (m *memStore) CreateClient(_ context.Context, _, _, number string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("client-%d", m.seq)
	m.clients = append(m.clients, memClient{ID: id, Phone: number})
	return id, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
