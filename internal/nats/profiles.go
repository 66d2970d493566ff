package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/stageconnect/messaging-platform/internal/store"
	"github.com/stageconnect/messaging-platform/pkg/logger"
)

const profileUpsertTimeout = 5 * time.Second

// ProfileEvent is published by the profile owner whenever a user profile is
// created or changed.
type ProfileEvent struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Title     string `json:"title,omitempty"`
	Company   string `json:"company,omitempty"`
}

// ProfileUpserter stores a profile mirror.
type ProfileUpserter interface {
	Upsert(ctx context.Context, rec *store.ProfileRecord) error
}

// ProfileSync mirrors profile events from a NATS subject into the profile
// directory. Requests carrying a reply subject are answered with "ok" or the
// error text.
type ProfileSync struct {
	client   *Client
	subject  string
	profiles ProfileUpserter
	logger   *logger.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewProfileSync creates a profile sync on an established client.
func NewProfileSync(client *Client, subject string, profiles ProfileUpserter, log *logger.Logger) *ProfileSync {
	return &ProfileSync{client: client, subject: subject, profiles: profiles, logger: log}
}

// Start subscribes to the profile subject. A queue group keeps each event on
// one replica, since they all share the database.
func (p *ProfileSync) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub != nil {
		return errors.New("profile sync already started")
	}

	sub, err := p.client.Conn().QueueSubscribe(p.subject, "messaging-profiles", p.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to profile events: %w", err)
	}
	p.sub = sub
	p.logger.Info("profile sync started", zap.String("subject", p.subject))
	return nil
}

func (p *ProfileSync) handle(msg *nats.Msg) {
	err := p.apply(msg.Data)
	if err != nil {
		p.logger.Warn("rejected profile event", zap.String("subject", msg.Subject), zap.Error(err))
	}
	if msg.Reply == "" {
		return
	}
	reply := []byte("ok")
	if err != nil {
		reply = []byte(err.Error())
	}
	if rerr := msg.Respond(reply); rerr != nil {
		p.logger.Warn("failed to answer profile event", zap.Error(rerr))
	}
}

func (p *ProfileSync) apply(data []byte) error {
	var ev ProfileEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to decode profile event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), profileUpsertTimeout)
	defer cancel()

	return p.profiles.Upsert(ctx, &store.ProfileRecord{
		ID:        ev.ID,
		Kind:      strings.ToUpper(strings.TrimSpace(ev.Kind)),
		Name:      ev.Name,
		AvatarURL: ev.AvatarURL,
		Title:     ev.Title,
		Company:   ev.Company,
	})
}

// Close stops receiving profile events.
func (p *ProfileSync) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub == nil {
		return nil
	}
	err := p.sub.Unsubscribe()
	p.sub = nil
	return err
}
