package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// bucketPrefix namespaces the KV buckets holding resources.
const bucketPrefix = "CELLMESH_"

// KVStore implements Store over JetStream KV, one bucket per kind.
type KVStore struct {
	js      jetstream.JetStream
	buckets map[Kind]jetstream.KeyValue
	logger  *slog.Logger
}

// BucketName returns the KV bucket a kind is stored in.
func BucketName(kind Kind) string {
	return bucketPrefix + strings.ToUpper(string(kind)) + "S"
}

// NewKVStore creates or opens one bucket per resource kind.
func NewKVStore(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) (*KVStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &KVStore{
		js:      js,
		buckets: make(map[Kind]jetstream.KeyValue, len(Kinds())),
		logger:  logger,
	}
	for _, kind := range Kinds() {
		kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:  BucketName(kind),
			History: 1,
		})
		if err != nil {
			return nil, fmt.Errorf("open bucket %s: %w", BucketName(kind), err)
		}
		s.buckets[kind] = kv
	}
	return s, nil
}

func (s *KVStore) bucket(kind Kind) (jetstream.KeyValue, error) {
	kv, ok := s.buckets[kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	return kv, nil
}

func decodeEntry(data []byte) (*Object, error) {
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decode stored resource: %w", err)
	}
	return &obj, nil
}

// Get fetches one resource.
func (s *KVStore) Get(ctx context.Context, kind Kind, namespace, name string) (*Object, error) {
	kv, err := s.bucket(kind)
	if err != nil {
		return nil, err
	}
	entry, err := kv.Get(ctx, ObjectKey(namespace, name))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%s %s/%s: %w", kind, namespace, name, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s %s/%s: %w", kind, namespace, name, err)
	}
	return decodeEntry(entry.Value())
}

// Create stores a new resource, assigning UID and creation timestamp. KV
// create fails atomically when the key exists.
func (s *KVStore) Create(ctx context.Context, obj *Object) (*Object, error) {
	if err := ValidateForCreate(obj); err != nil {
		return nil, err
	}
	kv, err := s.bucket(obj.Kind)
	if err != nil {
		return nil, err
	}
	stored := Clone(obj)
	stored.Meta.UID = uuid.New().String()
	stored.Meta.CreationTimestamp = time.Now().UTC()

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode resource: %w", err)
	}
	if _, err := kv.Create(ctx, stored.Key(), data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return nil, fmt.Errorf("%s %s: %w", obj.Kind, obj.Key(), ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create %s %s: %w", obj.Kind, obj.Key(), err)
	}
	return stored, nil
}

// Update replaces the spec, preserving UID, creation time, and status.
func (s *KVStore) Update(ctx context.Context, obj *Object) (*Object, error) {
	kv, err := s.bucket(obj.Kind)
	if err != nil {
		return nil, err
	}
	cur, err := s.Get(ctx, obj.Kind, obj.Meta.Namespace, obj.Meta.Name)
	if err != nil {
		return nil, err
	}
	stored := Clone(obj)
	stored.Meta.UID = cur.Meta.UID
	stored.Meta.CreationTimestamp = cur.Meta.CreationTimestamp
	stored.Status = cur.Status

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode resource: %w", err)
	}
	if _, err := kv.Put(ctx, stored.Key(), data); err != nil {
		return nil, fmt.Errorf("update %s %s: %w", obj.Kind, obj.Key(), err)
	}
	return stored, nil
}

// Delete removes the resource and cascades to owned resources.
func (s *KVStore) Delete(ctx context.Context, kind Kind, namespace, name string) error {
	kv, err := s.bucket(kind)
	if err != nil {
		return err
	}
	obj, err := s.Get(ctx, kind, namespace, name)
	if err != nil {
		return err
	}
	if err := kv.Delete(ctx, ObjectKey(namespace, name)); err != nil {
		return fmt.Errorf("delete %s %s/%s: %w", kind, namespace, name, err)
	}

	uid := obj.Meta.UID
	for _, childKind := range Kinds() {
		children, err := s.List(ctx, childKind, "", nil)
		if err != nil {
			s.logger.Warn("Cascade list failed", "kind", childKind, "error", err)
			continue
		}
		for _, child := range children {
			if child.OwnedBy(uid) {
				if err := s.Delete(ctx, childKind, child.Meta.Namespace, child.Meta.Name); err != nil &&
					!errors.Is(err, ErrNotFound) {
					s.logger.Warn("Cascade delete failed",
						"kind", childKind, "key", child.Key(), "error", err)
				}
			}
		}
	}
	return nil
}

// List returns matching resources.
func (s *KVStore) List(ctx context.Context, kind Kind, namespace string, selector map[string]string) ([]*Object, error) {
	kv, err := s.bucket(kind)
	if err != nil {
		return nil, err
	}
	lister, err := kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys in %s: %w", BucketName(kind), err)
	}
	var out []*Object
	for key := range lister.Keys() {
		if namespace != "" && !strings.HasPrefix(key, namespace+".") {
			continue
		}
		entry, err := kv.Get(ctx, key)
		if err != nil {
			// Deleted between list and get.
			continue
		}
		obj, err := decodeEntry(entry.Value())
		if err != nil {
			s.logger.Warn("Skipping undecodable resource", "bucket", BucketName(kind), "key", key, "error", err)
			continue
		}
		if !MatchesSelector(obj, selector) {
			continue
		}
		out = append(out, obj)
	}
	return out, nil
}

// SetStatus replaces only the status subresource.
func (s *KVStore) SetStatus(ctx context.Context, kind Kind, namespace, name string, status any) (*Object, error) {
	raw, err := EncodeStatus(status)
	if err != nil {
		return nil, err
	}
	kv, err := s.bucket(kind)
	if err != nil {
		return nil, err
	}
	cur, err := s.Get(ctx, kind, namespace, name)
	if err != nil {
		return nil, err
	}
	cur.Status = raw
	data, err := json.Marshal(cur)
	if err != nil {
		return nil, fmt.Errorf("encode resource: %w", err)
	}
	if _, err := kv.Put(ctx, cur.Key(), data); err != nil {
		return nil, fmt.Errorf("set status %s %s/%s: %w", kind, namespace, name, err)
	}
	return cur, nil
}

// Watch streams change events from the bucket watcher. Initial values arrive
// as Added events.
func (s *KVStore) Watch(ctx context.Context, kind Kind) (<-chan WatchEvent, error) {
	kv, err := s.bucket(kind)
	if err != nil {
		return nil, err
	}
	watcher, err := kv.WatchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch bucket %s: %w", BucketName(kind), err)
	}

	ch := make(chan WatchEvent, 256)
	go func() {
		defer close(ch)
		defer func() { _ = watcher.Stop() }()
		initial := true
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					// End of initial values marker.
					initial = false
					continue
				}
				ev, err := s.toWatchEvent(entry, initial)
				if err != nil {
					s.logger.Warn("Dropping undecodable watch event",
						"bucket", BucketName(kind), "key", entry.Key(), "error", err)
					continue
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (s *KVStore) toWatchEvent(entry jetstream.KeyValueEntry, initial bool) (WatchEvent, error) {
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		parts := strings.SplitN(entry.Key(), ".", 2)
		obj := &Object{Meta: ObjectMeta{Namespace: parts[0]}}
		if len(parts) == 2 {
			obj.Meta.Name = parts[1]
		}
		return WatchEvent{Type: WatchDeleted, Object: obj}, nil
	default:
		obj, err := decodeEntry(entry.Value())
		if err != nil {
			return WatchEvent{}, err
		}
		typ := WatchModified
		if initial || entry.Revision() == 1 {
			typ = WatchAdded
		}
		return WatchEvent{Type: typ, Object: obj}, nil
	}
}

var _ Store = (*KVStore)(nil)
