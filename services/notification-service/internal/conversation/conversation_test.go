package conversation

import (
	"context"
	"testing"
)

func TestNinthDigitVariantsShareConversation(t *testing.T) {
	store := newMemStore()
	r := NewResolver(store, discardLogger())
	ctx := context.Background()

	first, created, err := r.Resolve(ctx, Contact{TenantID: "t1", Name: "Maria", Phone: "5511988887777", LinkClient: true,
		Origin: Origin{Source: "agenda", AppointmentID: "appt-1", ServiceID: "svc-1"}})
	if err != nil || !created {
		t.Fatalf("first resolve: created=%v err=%v", created, err)
	}
	second, created, err := r.Resolve(ctx, Contact{TenantID: "t1", Name: "Maria", Phone: "551188887777", LinkClient: true})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected the same conversation, got %s and %s", first.ID, second.ID)
	}
	if len(store.conversations) != 1 || len(store.clients) != 1 {
		t.Fatalf("expected one conversation and one client, got %d/%d", len(store.conversations), len(store.clients))
	}
	conv := store.conversations[0]
	if conv.Origin.Source != "agenda" || conv.Origin.AppointmentID != "appt-1" || conv.RemoteJID != "5511988887777@s.whatsapp.net" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	if conv.Touched != 1 {
		t.Fatalf("reused conversation must be touched once, got %d", conv.Touched)
	}
}

func TestMatcherOrder(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	// A group thread whose remote id shares nothing with the number but
	// carries the contact phone.
	byContact, _ := store.Create(ctx, NewConversation{TenantID: "t1", RemoteJID: "1203630@g.us", ContactPhone: "+55 (11) 98888-7777"})
	// A thread linked through a client only.
	store.clients = append(store.clients, memClient{ID: "client-9", Phone: "21 97777-6666"})
	byClient, _ := store.Create(ctx, NewConversation{TenantID: "t1", RemoteJID: "lid-42", ClientID: "client-9"})

	r := NewResolver(store, discardLogger())
	ref, created, err := r.Resolve(ctx, Contact{TenantID: "t1", Phone: "11988887777"})
	if err != nil || created || ref.ID != byContact {
		t.Fatalf("expected contact phone match %s, got %+v created=%v err=%v", byContact, ref, created, err)
	}
	ref, created, err = r.Resolve(ctx, Contact{TenantID: "t1", Phone: "2197777-6666"})
	if err != nil || created || ref.ID != byClient || ref.ClientID != "client-9" {
		t.Fatalf("expected client match %s, got %+v created=%v err=%v", byClient, ref, created, err)
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	store := newMemStore()
	r := NewResolver(store, discardLogger())
	ctx := context.Background()

	a, _, err := r.Resolve(ctx, Contact{TenantID: "t1", Phone: "5511988887777"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	b, created, err := r.Resolve(ctx, Contact{TenantID: "t2", Phone: "5511988887777"})
	if err != nil || !created || a.ID == b.ID {
		t.Fatalf("tenants must not share threads")
	}
}

func TestResolveRejectsShortPhone(t *testing.T) {
	r := NewResolver(newMemStore(), discardLogger())
	if _, _, err := r.Resolve(context.Background(), Contact{TenantID: "t1", Phone: "8888"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestAppendSystemMessage(t *testing.T) {
	store := newMemStore()
	r := NewResolver(store, discardLogger())
	ctx := context.Background()
	ref, _, _ := r.Resolve(ctx, Contact{TenantID: "t1", Phone: "5511988887777"})
	if err := r.AppendSystemMessage(ctx, "t1", ref.ID, "Olá"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got := store.messages[ref.ID]; len(got) != 1 || got[0] != "Olá" {
		t.Fatalf("unexpected messages: %v", got)
	}
}
