package topology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/cellmesh/resource"
)

// BucketName is the KV bucket holding published routing tables.
const BucketName = "CELLMESH_TOPOLOGY"

// Store publishes and loads routing tables through a JetStream KV bucket.
// Workers read their formation's table at startup.
type Store struct {
	kv jetstream.KeyValue
}

// NewStore binds (creating if needed) the topology bucket.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  BucketName,
		History: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("bind topology bucket: %w", err)
	}
	return &Store{kv: kv}, nil
}

// Publish writes the formation's routing table.
func (s *Store) Publish(ctx context.Context, namespace, formation string, table Table) error {
	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("encode routing table: %w", err)
	}
	if _, err := s.kv.Put(ctx, resource.ObjectKey(namespace, formation), data); err != nil {
		return fmt.Errorf("publish routing table %s/%s: %w", namespace, formation, err)
	}
	return nil
}

// Load reads the formation's routing table. A missing table returns nil,
// which callers treat as unrestricted.
func (s *Store) Load(ctx context.Context, namespace, formation string) (Table, error) {
	entry, err := s.kv.Get(ctx, resource.ObjectKey(namespace, formation))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load routing table %s/%s: %w", namespace, formation, err)
	}
	var table Table
	if err := json.Unmarshal(entry.Value(), &table); err != nil {
		return nil, fmt.Errorf("decode routing table %s/%s: %w", namespace, formation, err)
	}
	return table, nil
}

// Delete removes a formation's routing table.
func (s *Store) Delete(ctx context.Context, namespace, formation string) error {
	err := s.kv.Delete(ctx, resource.ObjectKey(namespace, formation))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete routing table %s/%s: %w", namespace, formation, err)
	}
	return nil
}
