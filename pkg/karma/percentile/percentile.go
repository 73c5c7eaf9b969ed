// Package percentile implements the Percentile Service (C3): whether a
// user's karma in a chat sits within a configured top-percentile threshold,
// used by the reaction pipeline (C8) to gate which reactors can move karma
// at all.
package percentile

import (
	"context"

	"karmicbot/pkg/karma/store"
)

// Service wraps the store's percentile query with the top-percentile
// threshold check C8 needs.
type Service struct {
	store store.Store
}

func New(s store.Store) *Service {
	return &Service{store: s}
}

// Percentile returns the user's position in [0,1] (0 = top), found=false
// per spec §4.3's NONE case: no UserKarma row for the user, or no rows in
// the chat at all.
func (s *Service) Percentile(ctx context.Context, userID, chatID int64) (value float64, found bool, err error) {
	return s.store.Percentile(ctx, userID, chatID)
}

// InTopPercentile reports whether userID's karma position is strictly
// better than (numerically less than) the given threshold. A user with no
// karma row is never in any top percentile.
func (s *Service) InTopPercentile(ctx context.Context, userID, chatID int64, threshold float64) (bool, error) {
	position, found, err := s.Percentile(ctx, userID, chatID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return position < threshold, nil
}
