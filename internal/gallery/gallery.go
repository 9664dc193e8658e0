// Package gallery groups the creatives persisted by the rendering service
// into the batches they were generated in.
package gallery

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"creativeline/internal/domain"
	"creativeline/internal/session"
)

// FallbackBatchKey collects every record that carries no batch identifier.
const FallbackBatchKey = "legacy"

var ErrNoCredential = errors.New("sign in to list saved creatives")

// Lister fetches persisted records for a credential.
type Lister interface {
	CloudImages(ctx context.Context, token string) ([]domain.ImageRecord, error)
}

// Group buckets records by batch identifier. Batches come back most recent
// first, which is the reverse of the order the service returned them in.
func Group(records []domain.ImageRecord) []domain.Batch {
	index := map[string]int{}
	var batches []domain.Batch
	for _, r := range records {
		key := strings.TrimSpace(r.BatchID)
		fallback := key == ""
		if fallback {
			key = FallbackBatchKey
		}
		// A real identifier equal to the fallback key must not merge with
		// unbatched records.
		slot := key
		if !fallback {
			slot = "id:" + key
		}
		i, ok := index[slot]
		if !ok {
			i = len(batches)
			index[slot] = i
			batches = append(batches, domain.Batch{
				Key:       key,
				Fallback:  fallback,
				Color:     r.Color,
				CreatedAt: r.CreatedAt,
			})
		}
		batches[i].Records = append(batches[i].Records, r)
	}
	for l, r := 0, len(batches)-1; l < r; l, r = l+1, r-1 {
		batches[l], batches[r] = batches[r], batches[l]
	}
	return batches
}

// Service lists saved creatives for the signed-in account.
type Service struct {
	Client Lister
	Log    zerolog.Logger
}

// Batches fetches and groups the caller's creatives. Without a credential
// no request is made.
func (s Service) Batches(ctx context.Context, creds session.Provider) ([]domain.Batch, error) {
	token := session.Token(creds)
	if token == "" {
		return nil, ErrNoCredential
	}
	records, err := s.Client.CloudImages(ctx, token)
	if err != nil {
		return nil, err
	}
	batches := Group(records)
	s.Log.Debug().Int("records", len(records)).Int("batches", len(batches)).Msg("gallery listed")
	return batches, nil
}
