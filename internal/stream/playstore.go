// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrapecast/scrapecast/internal/kv"
)

const playTTL = 4 * time.Hour

// ErrPlayExpired is returned when a play token is unknown or expired.
var ErrPlayExpired = errors.New("stream: play token expired")

// PlayTarget is the hoster link behind a late-resolve token.
type PlayTarget struct {
	URL    string `json:"url"`
	Hoster string `json:"hoster,omitempty"`
}

// PlayStore hands out short-lived tokens for streams that were not
// pre-resolved. The player hits /play/{token} and the daemon resolves the
// hoster link at that moment.
type PlayStore struct {
	kv kv.Store
}

// NewPlayStore creates a play store over the KV backend.
func NewPlayStore(store kv.Store) *PlayStore {
	return &PlayStore{kv: store}
}

// Create stores the target and returns its token.
func (s *PlayStore) Create(ctx context.Context, target PlayTarget) (string, error) {
	token := uuid.NewString()
	data, err := json.Marshal(target)
	if err != nil {
		return "", err
	}
	if err := s.kv.Put(ctx, playKey(token), data, playTTL); err != nil {
		return "", err
	}
	return token, nil
}

// Redeem returns the target for a token.
func (s *PlayStore) Redeem(ctx context.Context, token string) (PlayTarget, error) {
	if _, err := uuid.Parse(token); err != nil {
		return PlayTarget{}, ErrPlayExpired
	}
	data, err := s.kv.Get(ctx, playKey(token))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return PlayTarget{}, ErrPlayExpired
		}
		return PlayTarget{}, err
	}
	var target PlayTarget
	if err := json.Unmarshal(data, &target); err != nil {
		return PlayTarget{}, err
	}
	return target, nil
}

func playKey(token string) string {
	return fmt.Sprintf("play:%s", token)
}
