// Package conversation finds the chat thread that belongs to a phone number,
// creating one when no plausible match exists.
package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agendapro/agendapro/libs/phone"
)

// Ref identifies a conversation and the client linked to it, if any.
type Ref struct {
	ID       string
	ClientID string
}

// Query is what matchers search on. InstanceID may be empty.
type Query struct {
	TenantID   string
	InstanceID string
	Phone      string
}

// Origin is stamped on conversations created by notifications.
type Origin struct {
	Source        string `json:"source"`
	AppointmentID string `json:"appointment_id,omitempty"`
	ServiceID     string `json:"service_id,omitempty"`
}

type NewConversation struct {
	TenantID     string
	InstanceID   string
	RemoteJID    string
	ContactName  string
	ContactPhone string
	ClientID     string
	Origin       Origin
}

// Store is the conversation persistence. Find methods return false when
// nothing matches. Mutations are limited to touch, create and append.
type Store interface {
	FindByRemoteSuffix(ctx context.Context, q Query, suffix string) (Ref, bool, error)
	FindByRemoteJID(ctx context.Context, q Query, jids []string) (Ref, bool, error)
	FindByContactSuffix(ctx context.Context, q Query, suffix string) (Ref, bool, error)
	FindByClientSuffix(ctx context.Context, q Query, suffix string) (Ref, bool, error)

	Touch(ctx context.Context, conversationID string) error
	Create(ctx context.Context, c NewConversation) (string, error)
	AppendMessage(ctx context.Context, tenantID, conversationID, content string) error

	FindClientBySuffix(ctx context.Context, tenantID, suffix string) (string, bool, error)
	CreateClient(ctx context.Context, tenantID, name, phone string) (string, error)
}

// Matcher is one lookup strategy.
type Matcher interface {
	Name() string
	Match(ctx context.Context, q Query) (Ref, bool, error)
}

type matcherFunc struct {
	name string
	fn   func(ctx context.Context, q Query) (Ref, bool, error)
}

func (m matcherFunc) Name() string { return m.name }

func (m matcherFunc) Match(ctx context.Context, q Query) (Ref, bool, error) {
	return m.fn(ctx, q)
}

// DefaultMatchers returns the lookup order: remote id suffix, exact JID
// variant, stored contact phone suffix, linked client phone suffix.
func DefaultMatchers(s Store) []Matcher {
	return []Matcher{
		matcherFunc{name: "remote_suffix", fn: func(ctx context.Context, q Query) (Ref, bool, error) {
			return s.FindByRemoteSuffix(ctx, q, phone.Suffix(q.Phone))
		}},
		matcherFunc{name: "remote_jid", fn: func(ctx context.Context, q Query) (Ref, bool, error) {
			return s.FindByRemoteJID(ctx, q, phone.JIDs(q.Phone))
		}},
		matcherFunc{name: "contact_phone", fn: func(ctx context.Context, q Query) (Ref, bool, error) {
			return s.FindByContactSuffix(ctx, q, phone.Suffix(q.Phone))
		}},
		matcherFunc{name: "client_phone", fn: func(ctx context.Context, q Query) (Ref, bool, error) {
			return s.FindByClientSuffix(ctx, q, phone.Suffix(q.Phone))
		}},
	}
}

// Contact describes who a notification is addressed to.
type Contact struct {
	TenantID   string
	InstanceID string
	Name       string
	Phone      string
	// ClientID links a known client to a new conversation. When empty and
	// LinkClient is set, a client is found or created by phone suffix.
	ClientID   string
	LinkClient bool
	Origin     Origin
}

type Resolver struct {
	store    Store
	matchers []Matcher
	logger   *slog.Logger
}

func NewResolver(store Store, logger *slog.Logger, matchers ...Matcher) *Resolver {
	if len(matchers) == 0 {
		matchers = DefaultMatchers(store)
	}
	return &Resolver{store: store, matchers: matchers, logger: logger}
}

// Resolve returns the conversation for c.Phone. The first matcher hit wins
// and the thread is touched; with no hit a new conversation is created.
func (r *Resolver) Resolve(ctx context.Context, c Contact) (Ref, bool, error) {
	number := phone.Normalize(c.Phone)
	if !phone.Valid(number) {
		return Ref{}, false, fmt.Errorf("conversation: invalid phone %q", phone.Mask(c.Phone))
	}
	q := Query{TenantID: c.TenantID, InstanceID: c.InstanceID, Phone: number}

	for _, m := range r.matchers {
		ref, ok, err := m.Match(ctx, q)
		if err != nil {
			return Ref{}, false, fmt.Errorf("conversation: %s matcher: %w", m.Name(), err)
		}
		if !ok {
			continue
		}
		if err := r.store.Touch(ctx, ref.ID); err != nil {
			return Ref{}, false, fmt.Errorf("conversation: touch: %w", err)
		}
		r.logger.DebugContext(ctx, "conversation matched", "matcher", m.Name(), "conversation_id", ref.ID)
		return ref, false, nil
	}

	clientID := c.ClientID
	if clientID == "" && c.LinkClient {
		id, found, err := r.store.FindClientBySuffix(ctx, c.TenantID, phone.Suffix(number))
		if err != nil {
			return Ref{}, false, fmt.Errorf("conversation: find client: %w", err)
		}
		if !found {
			if id, err = r.store.CreateClient(ctx, c.TenantID, c.Name, number); err != nil {
				return Ref{}, false, fmt.Errorf("conversation: create client: %w", err)
			}
		}
		clientID = id
	}

	id, err := r.store.Create(ctx, NewConversation{
		TenantID:     c.TenantID,
		InstanceID:   c.InstanceID,
		RemoteJID:    number + phone.JIDDomain,
		ContactName:  c.Name,
		ContactPhone: number,
		ClientID:     clientID,
		Origin:       c.Origin,
	})
	if err != nil {
		return Ref{}, false, fmt.Errorf("conversation: create: %w", err)
	}
	r.logger.InfoContext(ctx, "conversation created", "conversation_id", id, "phone", phone.Mask(number))
	return Ref{ID: id, ClientID: clientID}, true, nil
}

// AppendSystemMessage records an outbound, system authored message on the thread.
func (r *Resolver) AppendSystemMessage(ctx context.Context, tenantID, conversationID, content string) error {
	return r.store.AppendMessage(ctx, tenantID, conversationID, content)
}
