package vote

import (
	"context"
	"errors"

	"github.com/fonfik/fonfik/internal/store"
)

var (
	ErrInvalidTarget  = errors.New("exactly one of post_id or comment_id is required")
	ErrInvalidValue   = errors.New("value must be up or down")
	ErrTargetNotFound = errors.New("vote target not found")
)

// Vote values
const (
	Up   = "up"
	Down = "down"
)

// Actions reported by Cast
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionRemoved = "removed"
)

// Outcome describes what a vote request did. Value is empty when the vote
// was toggled off.
type Outcome struct {
	Action string `json:"action"`
	Value  string `json:"value,omitempty"`
}

// Ledger enforces at most one vote per (principal, target) and keeps target
// scores equal to the sum of stored vote values.
type Ledger struct {
	store store.Store
}

func NewLedger(s store.Store) *Ledger {
	return &Ledger{store: s}
}

func voteDelta(value string) (int, error) {
	switch value {
	case Up:
		return 1, nil
	case Down:
		return -1, nil
	default:
		return 0, ErrInvalidValue
	}
}

// Cast applies a vote by userID on target. A repeat vote with the same value
// removes the existing vote (toggle); an opposite vote replaces it with a ±2
// score swing (switch). Score deltas are applied in the same transaction as
// the vote row mutation.
func (l *Ledger) Cast(ctx context.Context, userID string, target store.Target, value string) (*Outcome, error) {
	delta, err := voteDelta(value)
	if err != nil {
		return nil, err
	}

	if err := l.checkTarget(ctx, target); err != nil {
		return nil, err
	}

	existing, err := l.store.GetVote(ctx, userID, target)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		v := &store.Vote{
			UserID: userID,
			Target: target,
			Value:  delta,
		}
		if err := l.store.CreateVote(ctx, v); err != nil {
			return nil, err
		}
		return &Outcome{Action: ActionCreated, Value: value}, nil
	}

	if existing.Value == delta {
		if err := l.store.RemoveVote(ctx, existing); err != nil {
			return nil, err
		}
		return &Outcome{Action: ActionRemoved}, nil
	}

	if err := l.store.SwitchVote(ctx, existing, delta); err != nil {
		return nil, err
	}
	return &Outcome{Action: ActionUpdated, Value: value}, nil
}

func (l *Ledger) checkTarget(ctx context.Context, target store.Target) error {
	switch target.Kind {
	case store.TargetPost:
		post, err := l.store.GetPost(ctx, target.ID)
		if err != nil {
			return err
		}
		if post == nil || post.Status != store.StatusPublished {
			return ErrTargetNotFound
		}
	case store.TargetComment:
		comment, err := l.store.GetComment(ctx, target.ID)
		if err != nil {
			return err
		}
		if comment == nil || comment.Status != store.StatusPublished {
			return ErrTargetNotFound
		}
	default:
		return ErrInvalidTarget
	}
	return nil
}
