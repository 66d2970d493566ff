// Package service provides business logic for connections and direct messaging.
package service

import (
	"context"
	"math"

	"github.com/stageconnect/messaging-platform/internal/model"
)

// ProfileProvider resolves user ids owned by the profile service.
type ProfileProvider interface {
	Exists(ctx context.Context, id int64) (bool, error)
	Summary(ctx context.Context, id int64) (model.Participant, error)
}

// Publisher fans events out to realtime subscribers. Delivery is best effort
// and never reports failures back to the caller.
type Publisher interface {
	Publish(ctx context.Context, topic string, event model.Event)
}

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// maxPage keeps page*size within an int32 offset.
	maxPage = math.MaxInt32 / maxPageSize
)

func normalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if page > maxPage {
		page = maxPage
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
