// Package resource defines the declarative resource model (Cell, Formation,
// Mission, Swarm, Evolution, Blueprint, Channel, Federation) and the store
// capability controllers reconcile against. The production store rides
// JetStream KV; an in-memory store backs embedded mode and tests.
package resource

import (
	"encoding/json"
	"fmt"
	"time"
)

// APIVersion is the resource schema version accepted by this build.
const APIVersion = "cellmesh/v1"

// Kind identifies a resource type.
type Kind string

const (
	KindCell       Kind = "Cell"
	KindFormation  Kind = "Formation"
	KindMission    Kind = "Mission"
	KindSwarm      Kind = "Swarm"
	KindEvolution  Kind = "Evolution"
	KindBlueprint  Kind = "Blueprint"
	KindChannel    Kind = "Channel"
	KindFederation Kind = "Federation"
)

// Kinds lists every resource kind, in watch-registration order.
func Kinds() []Kind {
	return []Kind{
		KindCell, KindFormation, KindMission, KindSwarm,
		KindEvolution, KindBlueprint, KindChannel, KindFederation,
	}
}

// OwnerReference links a child resource to the controller-owned parent.
// Deleting the owner cascades to all owned resources.
type OwnerReference struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
	UID  string `json:"uid"`
}

// ObjectMeta is the metadata block common to all resources.
type ObjectMeta struct {
	Name              string            `json:"name"`
	Namespace         string            `json:"namespace"`
	UID               string            `json:"uid,omitempty"`
	Labels            map[string]string `json:"labels,omitempty"`
	OwnerReferences   []OwnerReference  `json:"ownerReferences,omitempty"`
	CreationTimestamp time.Time         `json:"creationTimestamp,omitempty"`
}

// Object is the generic resource envelope: typed spec and status ride as raw
// JSON and are decoded by the owning controller.
type Object struct {
	APIVersion string          `json:"apiVersion"`
	Kind       Kind            `json:"kind"`
	Meta       ObjectMeta      `json:"metadata"`
	Spec       json.RawMessage `json:"spec,omitempty"`
	Status     json.RawMessage `json:"status,omitempty"`
}

// Key returns the store key for the object.
func (o *Object) Key() string {
	return ObjectKey(o.Meta.Namespace, o.Meta.Name)
}

// ObjectKey builds the namespace-qualified key resources are stored under.
func ObjectKey(namespace, name string) string {
	return namespace + "." + name
}

// OwnedBy reports whether the object carries an owner reference to uid.
func (o *Object) OwnedBy(uid string) bool {
	for _, ref := range o.Meta.OwnerReferences {
		if ref.UID == uid {
			return true
		}
	}
	return false
}

// DecodeSpec unmarshals the spec into the typed struct for the kind.
func (o *Object) DecodeSpec(into any) error {
	if len(o.Spec) == 0 {
		return fmt.Errorf("%s %s has no spec", o.Kind, o.Key())
	}
	if err := json.Unmarshal(o.Spec, into); err != nil {
		return fmt.Errorf("decode %s spec: %w", o.Kind, err)
	}
	return nil
}

// DecodeStatus unmarshals the status into the typed struct for the kind.
// A missing status leaves the target zero-valued.
func (o *Object) DecodeStatus(into any) error {
	if len(o.Status) == 0 {
		return nil
	}
	if err := json.Unmarshal(o.Status, into); err != nil {
		return fmt.Errorf("decode %s status: %w", o.Kind, err)
	}
	return nil
}

// EncodeSpec sets the spec from a typed struct.
func (o *Object) EncodeSpec(spec any) error {
	raw, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode %s spec: %w", o.Kind, err)
	}
	o.Spec = raw
	return nil
}

// New builds a resource envelope with a typed spec.
func New(kind Kind, namespace, name string, spec any) (*Object, error) {
	obj := &Object{
		APIVersion: APIVersion,
		Kind:       kind,
		Meta:       ObjectMeta{Name: name, Namespace: namespace},
	}
	if spec != nil {
		if err := obj.EncodeSpec(spec); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// Duration is a time.Duration that marshals as a Go duration string
// ("30m", "1h30m") in both JSON and YAML.
type Duration time.Duration

// MarshalJSON renders the duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration: %s", string(data))
	}
	*d = Duration(n)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
