package store

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/stageconnect/messaging-platform/internal/model"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func TestProfileDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewProfileDirectory(openTestDB(t))

	if err := dir.Upsert(ctx, &ProfileRecord{ID: 10, Kind: string(model.KindCandidate), Name: "Ana", Company: "ignored"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := dir.Upsert(ctx, &ProfileRecord{ID: 20, Kind: string(model.KindResponsible), Name: "Bo", Title: "HR", Company: "Acme"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ok, err := dir.Exists(ctx, 10)
	if err != nil || !ok {
		t.Fatalf("expected profile 10 to exist, ok=%v err=%v", ok, err)
	}
	ok, err = dir.Exists(ctx, 99)
	if err != nil || ok {
		t.Fatalf("expected profile 99 to be missing, ok=%v err=%v", ok, err)
	}

	candidate, err := dir.Summary(ctx, 10)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if candidate.Kind != model.KindCandidate || candidate.Summary.Company != "" {
		t.Fatalf("unexpected candidate summary %+v", candidate)
	}
	responsible, err := dir.Summary(ctx, 20)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if responsible.Summary.Company != "Acme" {
		t.Fatalf("expected company Acme, got %q", responsible.Summary.Company)
	}

	if _, err := dir.Summary(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProfileUpsertRejectsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	dir := NewProfileDirectory(openTestDB(t))

	for _, rec := range []ProfileRecord{
		{ID: 0, Kind: string(model.KindCandidate)},
		{ID: 5, Kind: "ADMIN"},
	} {
		if err := dir.Upsert(ctx, &rec); !errors.Is(err, ErrInvalidProfile) {
			t.Fatalf("expected ErrInvalidProfile for %+v, got %v", rec, err)
		}
	}
}

func TestSeedProfiles(t *testing.T) {
	ctx := context.Background()
	dir := NewProfileDirectory(openTestDB(t))

	path := filepath.Join(t.TempDir(), "profiles.yaml")
	body := []byte(`profiles:
  - id: 10
    kind: candidate
    name: Ana
  - id: 20
    kind: RESPONSIBLE
    name: Bo
    company: Acme
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Running twice must not fail on the existing rows.
	for i := 0; i < 2; i++ {
		n, err := SeedProfiles(ctx, dir, path)
		if err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
		if n != 2 {
			t.Fatalf("expected 2 profiles seeded, got %d", n)
		}
	}

	p, err := dir.Summary(ctx, 20)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if p.Kind != model.KindResponsible || p.Summary.Company != "Acme" {
		t.Fatalf("unexpected seeded profile %+v", p)
	}
	if p, _ := dir.Summary(ctx, 10); p.Kind != model.KindCandidate {
		t.Fatalf("kind must be normalized, got %q", p.Kind)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("profiles:\n  - id: 30\n    kind: guest\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := SeedProfiles(ctx, dir, bad); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
}

func TestConnectionRepositoryPairUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := NewConnectionRepository(openTestDB(t))

	conn, err := repo.Create(ctx, 1, 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conn.Status != model.StatusPending {
		t.Fatalf("expected PENDING, got %s", conn.Status)
	}

	if _, err := repo.Create(ctx, 2, 1); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reverse request, got %v", err)
	}

	ok, err := repo.Transition(ctx, conn.ID, model.StatusPending, model.StatusRejected)
	if err != nil || !ok {
		t.Fatalf("reject: ok=%v err=%v", ok, err)
	}

	// A rejected row no longer holds the pair.
	again, err := repo.Create(ctx, 2, 1)
	if err != nil {
		t.Fatalf("create after reject: %v", err)
	}
	if again.ID == conn.ID {
		t.Fatal("expected a new row")
	}
}

func TestConnectionRepositoryTransitionIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := NewConnectionRepository(openTestDB(t))

	conn, err := repo.Create(ctx, 1, 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := repo.Transition(ctx, conn.ID, model.StatusPending, model.StatusConnected)
	if err != nil || !ok {
		t.Fatalf("accept: ok=%v err=%v", ok, err)
	}
	ok, err = repo.Transition(ctx, conn.ID, model.StatusPending, model.StatusRejected)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if ok {
		t.Fatal("stale transition must not apply")
	}

	connected, err := repo.IsConnected(ctx, 2, 1)
	if err != nil || !connected {
		t.Fatalf("expected connected, got %v err=%v", connected, err)
	}

	deleted, err := repo.DeleteConnected(ctx, conn.ID)
	if err != nil || !deleted {
		t.Fatalf("delete: ok=%v err=%v", deleted, err)
	}
	if _, err := repo.Get(ctx, conn.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestConnectionRepositoryLists(t *testing.T) {
	ctx := context.Background()
	repo := NewConnectionRepository(openTestDB(t))

	for _, receiver := range []int64{2, 3, 4} {
		if _, err := repo.Create(ctx, 1, receiver); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	incoming, err := repo.Create(ctx, 5, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.Transition(ctx, incoming.ID, model.StatusPending, model.StatusConnected); err != nil {
		t.Fatalf("accept: %v", err)
	}

	sent, total, err := repo.ListOutgoing(ctx, 1, 0, 2)
	if err != nil {
		t.Fatalf("list outgoing: %v", err)
	}
	if total != 3 || len(sent) != 2 {
		t.Fatalf("expected 2 of 3 outgoing, got %d of %d", len(sent), total)
	}

	connected, total, err := repo.ListConnected(ctx, 1, 0, 10)
	if err != nil {
		t.Fatalf("list connected: %v", err)
	}
	if total != 1 || len(connected) != 1 || connected[0].RequesterID != 5 {
		t.Fatalf("unexpected connected list %+v", connected)
	}

	pending, total, err := repo.ListIncoming(ctx, 3, 0, 10)
	if err != nil {
		t.Fatalf("list incoming: %v", err)
	}
	if total != 1 || len(pending) != 1 {
		t.Fatalf("expected one incoming request, got %d", total)
	}
}

func TestMessageRepositoryReadFlags(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(openTestDB(t))

	for i := 0; i < 3; i++ {
		if err := repo.Create(ctx, &model.Message{SenderID: 1, ReceiverID: 2, Content: "hi"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := repo.Create(ctx, &model.Message{SenderID: 2, ReceiverID: 1, Content: "yo"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	unread, err := repo.CountUnread(ctx, 2)
	if err != nil || unread != 3 {
		t.Fatalf("expected 3 unread, got %d err=%v", unread, err)
	}

	changed, err := repo.MarkRead(ctx, 2, 1, nil)
	if err != nil || changed != 3 {
		t.Fatalf("expected 3 changed, got %d err=%v", changed, err)
	}
	changed, err = repo.MarkRead(ctx, 2, 1, nil)
	if err != nil || changed != 0 {
		t.Fatalf("expected idempotent mark read, got %d err=%v", changed, err)
	}

	fromTwo, err := repo.CountUnreadFrom(ctx, 1, 2)
	if err != nil || fromTwo != 1 {
		t.Fatalf("expected 1 unread from 2, got %d err=%v", fromTwo, err)
	}

	changed, err = repo.MarkRead(ctx, 1, 2, []int64{})
	if err != nil || changed != 0 {
		t.Fatalf("expected no-op for empty id list, got %d err=%v", changed, err)
	}
}

func TestMessageRepositoryPageAndPartners(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(openTestDB(t))

	var ids []int64
	for i := 0; i < 5; i++ {
		msg := &model.Message{SenderID: 1, ReceiverID: 2, Content: "m"}
		if err := repo.Create(ctx, msg); err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, msg.ID)
	}
	if err := repo.Create(ctx, &model.Message{SenderID: 3, ReceiverID: 1, Content: "other"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	page, total, err := repo.Page(ctx, model.ConversationID(2, 1), 0, 2)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("expected 2 of 5, got %d of %d", len(page), total)
	}
	if page[0].ID != ids[4] || page[1].ID != ids[3] {
		t.Fatalf("expected newest first, got %d, %d", page[0].ID, page[1].ID)
	}

	latest, err := repo.Latest(ctx, model.ConversationID(1, 2))
	if err != nil || latest.ID != ids[4] {
		t.Fatalf("unexpected latest %+v err=%v", latest, err)
	}
	if _, err := repo.Latest(ctx, model.ConversationID(8, 9)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	partners, err := repo.Partners(ctx, 1)
	if err != nil {
		t.Fatalf("partners: %v", err)
	}
	if len(partners) != 2 {
		t.Fatalf("expected 2 partners, got %v", partners)
	}
}

func TestMessageRepositoryPageBreaksTimestampTiesByID(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(openTestDB(t))

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []int64
	for i := 0; i < 5; i++ {
		msg := &model.Message{SenderID: 1, ReceiverID: 2, Content: "tie", CreatedAt: at}
		if err := repo.Create(ctx, msg); err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, msg.ID)
	}

	convID := model.ConversationID(1, 2)
	first, _, err := repo.Page(ctx, convID, 0, 2)
	if err != nil {
		t.Fatalf("page 0: %v", err)
	}
	second, _, err := repo.Page(ctx, convID, 1, 2)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(first) != 2 || first[0].ID != ids[4] || first[1].ID != ids[3] {
		t.Fatalf("page 0 not ordered by id desc: %+v", first)
	}
	if len(second) != 2 || second[0].ID != ids[2] || second[1].ID != ids[1] {
		t.Fatalf("page 1 not ordered by id desc: %+v", second)
	}
}

func TestMessageRepositoryPageFarOutOfRange(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(openTestDB(t))
	for i := 0; i < 3; i++ {
		if err := repo.Create(ctx, &model.Message{SenderID: 1, ReceiverID: 2, Content: "m"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	msgs, total, err := repo.Page(ctx, model.ConversationID(1, 2), math.MaxInt/50, 100)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if total != 3 || len(msgs) != 0 {
		t.Fatalf("expected an empty page of 3 total, got %d of %d", len(msgs), total)
	}
}

func TestOffsetSaturates(t *testing.T) {
	if got := offset(3, 20); got != 60 {
		t.Fatalf("offset(3,20) = %d", got)
	}
	if got := offset(-1, 20); got != 0 {
		t.Fatalf("negative page gave %d", got)
	}
	if got := offset(math.MaxInt/10, 100); got != math.MaxInt {
		t.Fatalf("overflowing offset gave %d", got)
	}
}
