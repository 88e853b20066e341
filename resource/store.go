package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Store errors.
var (
	// ErrNotFound is returned when a resource does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrAlreadyExists is returned by Create when the key is taken.
	ErrAlreadyExists = errors.New("resource already exists")
)

// WatchEventType classifies a watch notification.
type WatchEventType string

const (
	WatchAdded    WatchEventType = "Added"
	WatchModified WatchEventType = "Modified"
	WatchDeleted  WatchEventType = "Deleted"
)

// WatchEvent is one change notification from a watch stream.
type WatchEvent struct {
	Type   WatchEventType
	Object *Object
}

// Store is the declarative resource capability. Controllers write only
// status; spec changes come from users through Create/Update.
type Store interface {
	Get(ctx context.Context, kind Kind, namespace, name string) (*Object, error)
	Create(ctx context.Context, obj *Object) (*Object, error)
	Update(ctx context.Context, obj *Object) (*Object, error)
	// Delete removes the resource and cascades to resources owned by it.
	Delete(ctx context.Context, kind Kind, namespace, name string) error
	// List returns resources of a kind in a namespace (all namespaces when
	// empty) whose labels contain every selector entry.
	List(ctx context.Context, kind Kind, namespace string, selector map[string]string) ([]*Object, error)
	// SetStatus replaces only the status subresource.
	SetStatus(ctx context.Context, kind Kind, namespace, name string, status any) (*Object, error)
	// Watch streams change events for a kind until ctx is done. The stream
	// starts with an Added event per existing resource.
	Watch(ctx context.Context, kind Kind) (<-chan WatchEvent, error)
}

// MatchesSelector reports whether the object's labels contain every entry of
// the selector. An empty selector matches everything.
func MatchesSelector(obj *Object, selector map[string]string) bool {
	for k, v := range selector {
		if obj.Meta.Labels[k] != v {
			return false
		}
	}
	return true
}

// ValidateForCreate checks the envelope shape shared by every kind.
func ValidateForCreate(obj *Object) error {
	if obj.APIVersion != APIVersion {
		return fmt.Errorf("unsupported apiVersion %q (want %s)", obj.APIVersion, APIVersion)
	}
	switch obj.Kind {
	case KindCell, KindFormation, KindMission, KindSwarm, KindEvolution,
		KindBlueprint, KindChannel, KindFederation:
	default:
		return fmt.Errorf("unknown kind %q", obj.Kind)
	}
	if obj.Meta.Name == "" || obj.Meta.Namespace == "" {
		return fmt.Errorf("metadata.name and metadata.namespace are required")
	}
	return nil
}

// EncodeStatus marshals a typed status for the store.
func EncodeStatus(status any) (json.RawMessage, error) {
	raw, err := json.Marshal(status)
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	return raw, nil
}

// Clone deep-copies an object through JSON.
func Clone(obj *Object) *Object {
	data, _ := json.Marshal(obj)
	var out Object
	_ = json.Unmarshal(data, &out)
	return &out
}
