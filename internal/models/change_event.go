package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Operation string

const (
	OpCreated Operation = "created"
	OpUpdated Operation = "updated"
	OpDeleted Operation = "deleted"
)

type EntityKind string

const (
	KindPrimary   EntityKind = "event"
	KindDependent EntityKind = "participant"
)

var (
	ErrUnknownOperation = errors.New("unknown operation tag")
	ErrUnknownKind      = errors.New("unknown table tag")
	ErrMissingSnapshot  = errors.New("missing row snapshot for non-delete operation")
)

// ChangeEvent is one row-level mutation observed on a notification channel.
// It is shared by pointer across every subscriber queue and must never be
// mutated after construction.
type ChangeEvent struct {
	Operation  Operation       `json:"operation"`
	EntityKind EntityKind      `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	ParentID   string          `json:"parent_id,omitempty"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Resync     bool            `json:"resync,omitempty"`
}

// Type is the event label written on the outbound stream, e.g.
// "participant-updated". Resync hints are labeled "resync" regardless of kind.
func (e *ChangeEvent) Type() string {
	if e.Resync {
		return "resync"
	}
	return fmt.Sprintf("%s-%s", e.EntityKind, e.Operation)
}

// NewResyncEvent builds the synthetic event published after the notification
// subscription recovers from an outage. Consumers treat it like any other
// message: invalidate and refetch.
func NewResyncEvent(kind EntityKind, at time.Time) *ChangeEvent {
	return &ChangeEvent{
		Operation:  OpUpdated,
		EntityKind: kind,
		OccurredAt: at,
		Resync:     true,
	}
}

// notification is the wire shape of a NOTIFY payload emitted by the row
// triggers: {"op","table","id","parent_id","row","ts"}.
type notification struct {
	Op       string          `json:"op"`
	Table    string          `json:"table"`
	ID       string          `json:"id"`
	ParentID string          `json:"parent_id"`
	Row      json.RawMessage `json:"row"`
	TS       time.Time       `json:"ts"`
}

// DecodeNotification parses one raw notification payload into a ChangeEvent.
// Errors are non-fatal to the subscription: the caller logs and drops.
func DecodeNotification(payload string) (*ChangeEvent, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return nil, fmt.Errorf("failed to parse notification payload: %w", err)
	}

	op, err := parseOperation(n.Op)
	if err != nil {
		return nil, err
	}

	kind, err := parseKind(n.Table)
	if err != nil {
		return nil, err
	}

	if n.ID == "" {
		return nil, errors.New("notification payload has no entity id")
	}

	event := &ChangeEvent{
		Operation:  op,
		EntityKind: kind,
		EntityID:   n.ID,
		ParentID:   n.ParentID,
		OccurredAt: n.TS,
	}

	if op != OpDeleted {
		if len(n.Row) == 0 {
			return nil, ErrMissingSnapshot
		}
		event.Snapshot = n.Row
	}

	return event, nil
}

func parseOperation(tag string) (Operation, error) {
	switch tag {
	case "INSERT":
		return OpCreated, nil
	case "UPDATE":
		return OpUpdated, nil
	case "DELETE":
		return OpDeleted, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, tag)
	}
}

func parseKind(tag string) (EntityKind, error) {
	switch tag {
	case "events":
		return KindPrimary, nil
	case "participants":
		return KindDependent, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, tag)
	}
}
