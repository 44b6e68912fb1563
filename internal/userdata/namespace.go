// Package userdata scopes application data to a single user.
//
// Every value lives under user_{userID}_{dataType} and is stored inside an
// Envelope that records its JSON kind, its owner and when it was written.
// Values written before envelopes existed are still readable as-is.
package userdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/pocketsync/internal/logging"
)

var (
	ErrNoUser      = errors.New("user id is required")
	ErrInvalidData = errors.New("user data is not valid JSON")
)

const (
	TypeSetup        = "setup"
	TypeTransactions = "transactions"
	TypeCategories   = "categories"
	TypeBudgets      = "budgets"
	TypeSettings     = "settings"
	TypeWelcome      = "welcome_complete"
)

// GlobalWelcomeKey is the pre-namespace welcome flag, still honoured on read.
const GlobalWelcomeKey = "welcome_complete"

// allTypes is what DeleteAllUserData removes.
var allTypes = []string{TypeSetup, TypeTransactions, TypeCategories, TypeBudgets, TypeSettings, TypeWelcome}

// Store is the storage the namespace writes through.
// *coordinator.Coordinator satisfies it.
type Store interface {
	GetItem(ctx context.Context, key string) (json.RawMessage, bool)
	SetItem(ctx context.Context, key string, value json.RawMessage) error
	RemoveItem(ctx context.Context, key string) error
}

type Option func(*Namespace)

func WithClock(now func() time.Time) Option {
	return func(n *Namespace) { n.now = now }
}

type Namespace struct {
	store  Store
	userID string
	logger logging.Logger
	now    func() time.Time
}

func New(store Store, userID string, logger logging.Logger, opts ...Option) (*Namespace, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrNoUser
	}
	n := &Namespace{
		store:  store,
		userID: userID,
		logger: logging.OrNop(logger).With("component", "userdata", "user", userID),
		now:    time.Now,
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

func (n *Namespace) UserID() string { return n.userID }

// Key returns the storage key of dataType for this user.
func (n *Namespace) Key(dataType string) string {
	return "user_" + n.userID + "_" + dataType
}

// GetUserData returns the payload stored for dataType.
func (n *Namespace) GetUserData(ctx context.Context, dataType string) (json.RawMessage, bool) {
	raw, ok := n.store.GetItem(ctx, n.Key(dataType))
	if !ok {
		return nil, false
	}
	if env, ok := unwrap(raw); ok {
		return env.Payload, true
	}
	return raw, true
}

// getEnvelope is GetUserData keeping the envelope; legacy values come back
// with enveloped == false.
func (n *Namespace) getEnvelope(ctx context.Context, dataType string) (env Envelope, enveloped bool, ok bool) {
	raw, ok := n.store.GetItem(ctx, n.Key(dataType))
	if !ok {
		return Envelope{}, false, false
	}
	if env, ok := unwrap(raw); ok {
		return env, true, true
	}
	return Envelope{Kind: classify(raw), Payload: raw}, false, true
}

func (n *Namespace) SetUserData(ctx context.Context, dataType string, data json.RawMessage) error {
	if !json.Valid(data) {
		return fmt.Errorf("set %s: %w", dataType, ErrInvalidData)
	}
	b, err := json.Marshal(wrap(n.userID, data, n.now().UTC()))
	if err != nil {
		return fmt.Errorf("encode %s: %w", dataType, err)
	}
	if err := n.store.SetItem(ctx, n.Key(dataType), b); err != nil {
		return fmt.Errorf("set %s: %w", dataType, err)
	}
	return nil
}

func (n *Namespace) RemoveUserData(ctx context.Context, dataType string) error {
	if err := n.store.RemoveItem(ctx, n.Key(dataType)); err != nil {
		return fmt.Errorf("remove %s: %w", dataType, err)
	}
	return nil
}

// ExistingData is the result of HasExistingData. Absent values are nil.
type ExistingData struct {
	HasData      bool            `json:"hasData"`
	Setup        json.RawMessage `json:"setup,omitempty"`
	Transactions json.RawMessage `json:"transactions,omitempty"`
	Categories   json.RawMessage `json:"categories,omitempty"`
}

// HasExistingData fetches setup, transactions and categories concurrently.
func (n *Namespace) HasExistingData(ctx context.Context) ExistingData {
	var out ExistingData
	targets := []struct {
		dataType string
		dst      *json.RawMessage
	}{
		{TypeSetup, &out.Setup},
		{TypeTransactions, &out.Transactions},
		{TypeCategories, &out.Categories},
	}

	var g errgroup.Group
	for _, t := range targets {
		g.Go(func() error {
			if v, ok := n.GetUserData(ctx, t.dataType); ok {
				*t.dst = v
			}
			return nil
		})
	}
	_ = g.Wait()

	out.HasData = out.Setup != nil || out.Transactions != nil || out.Categories != nil
	return out
}

func (n *Namespace) SetWelcomeComplete(ctx context.Context) error {
	return n.SetUserData(ctx, TypeWelcome, json.RawMessage(`true`))
}

// DeleteAllUserData removes every known data type. It reports true only if
// all removals succeeded.
func (n *Namespace) DeleteAllUserData(ctx context.Context) bool {
	ok := true
	for _, t := range allTypes {
		if err := n.RemoveUserData(ctx, t); err != nil {
			n.logger.Error(ctx, "failed to delete user data", "type", t, "error", err)
			ok = false
		}
	}
	return ok
}
