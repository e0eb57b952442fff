// Package parameters loads the cooperative's withdrawal parameter document
// from its configuration store and publishes it as policy snapshots.
package parameters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/amirasaad/coopcredit/pkg/policy"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when the source holds no document.
var ErrNotFound = errors.New("parameter document not found")

// Source fetches the current parameter document.
type Source interface {
	Load(ctx context.Context) (policy.Document, error)
	Name() string
}

// FileSource reads a JSON or YAML document from disk, picking the format
// from the file extension.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return "file:" + s.Path }

func (s FileSource) Load(ctx context.Context) (policy.Document, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return policy.Document{}, fmt.Errorf("%w: %s", ErrNotFound, s.Path)
		}
		return policy.Document{}, fmt.Errorf("read %s: %w", s.Path, err)
	}
	return policy.ParseDocument(data, policy.FormatFromPath(s.Path))
}

// RedisSource reads the document stored as JSON under a single key.
type RedisSource struct {
	client *redis.Client
	key    string
}

// NewRedisSource creates a source on key.
func NewRedisSource(client *redis.Client, key string) *RedisSource {
	return &RedisSource{client: client, key: key}
}

func (s *RedisSource) Name() string { return "redis:" + s.key }

func (s *RedisSource) Load(ctx context.Context) (policy.Document, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return policy.Document{}, fmt.Errorf("%w: %s", ErrNotFound, s.key)
	}
	if err != nil {
		return policy.Document{}, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return policy.ParseDocument(data, policy.FormatJSON)
}

// Save stores doc under the source's key. It is used to seed a fresh store.
func (s *RedisSource) Save(ctx context.Context, doc policy.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal parameter document: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// DefaultSource serves the embedded default document.
type DefaultSource struct{}

func (DefaultSource) Name() string { return "embedded-defaults" }

func (DefaultSource) Load(context.Context) (policy.Document, error) {
	return policy.DefaultDocument(), nil
}
