// SPDX-License-Identifier: MIT

// Package crawljob models the download packages handed to a download
// manager, serialized as the .crawljob text format.
package crawljob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrapecast/scrapecast/internal/kv"
)

// DefaultTTL is how long a job stays downloadable.
const DefaultTTL = time.Hour

// Priority is the download-manager queue priority.
type Priority string

const (
	PriorityLowest  Priority = "LOWEST"
	PriorityLow     Priority = "LOWER"
	PriorityDefault Priority = "DEFAULT"
	PriorityHigh    Priority = "HIGHER"
	PriorityHighest Priority = "HIGHEST"
)

// ErrNotFound is returned for expired or unknown job IDs.
var ErrNotFound = errors.New("crawljob: job not found")

// Job is one immutable crawl package. URLs are the validated links in their
// original order.
type Job struct {
	ID          string    `json:"id"`
	PackageName string    `json:"package_name"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	URLs        []string  `json:"urls"`
	SourceURL   string    `json:"source_url,omitempty"`
	Priority    Priority  `json:"priority"`
	AutoStart   bool      `json:"auto_start"`
}

// New builds a job with a fresh UUIDv4 ID.
func New(packageName string, urls []string, sourceURL string, ttl time.Duration) (*Job, error) {
	if packageName == "" {
		return nil, errors.New("crawljob: package name is empty")
	}
	if len(urls) == 0 {
		return nil, errors.New("crawljob: no urls")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now().UTC().Truncate(time.Second)
	return &Job{
		ID:          uuid.NewString(),
		PackageName: packageName,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		URLs:        append([]string(nil), urls...),
		SourceURL:   sourceURL,
		Priority:    PriorityDefault,
		AutoStart:   true,
	}, nil
}

// Store persists jobs in the KV backend under "job:{id}".
type Store struct {
	kv kv.Store
}

// NewStore creates a job store.
func NewStore(store kv.Store) *Store {
	return &Store{kv: store}
}

func jobKey(id string) string { return "job:" + id }

// Put persists the job until its expiry.
func (s *Store) Put(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ttl := time.Until(job.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("crawljob: job %s already expired", job.ID)
	}
	return s.kv.Put(ctx, jobKey(job.ID), data, ttl)
}

// Get loads a job by ID.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: malformed id", ErrNotFound)
	}
	data, err := s.kv.Get(ctx, jobKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	if time.Now().After(job.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &job, nil
}
