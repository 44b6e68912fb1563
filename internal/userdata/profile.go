package userdata

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"
)

var activityFields = []string{"lastUpdated", "createdAt", "updatedAt"}

type Profile struct {
	UserID           string    `json:"userId"`
	HasSetup         bool      `json:"hasSetup"`
	HasTransactions  bool      `json:"hasTransactions"`
	HasCategories    bool      `json:"hasCategories"`
	TransactionCount int       `json:"transactionCount"`
	WelcomeComplete  bool      `json:"welcomeComplete"`
	LastActivity     time.Time `json:"lastActivity,omitzero"`
}

type fetched struct {
	env       Envelope
	enveloped bool
	ok        bool
}

// GetUserProfile summarizes what this user has stored.
func (n *Namespace) GetUserProfile(ctx context.Context) Profile {
	var setup, txs, cats, welcome fetched
	var globalWelcome json.RawMessage

	var g errgroup.Group
	for dataType, dst := range map[string]*fetched{
		TypeSetup:        &setup,
		TypeTransactions: &txs,
		TypeCategories:   &cats,
		TypeWelcome:      &welcome,
	} {
		g.Go(func() error {
			dst.env, dst.enveloped, dst.ok = n.getEnvelope(ctx, dataType)
			return nil
		})
	}
	g.Go(func() error {
		globalWelcome, _ = n.store.GetItem(ctx, GlobalWelcomeKey)
		return nil
	})
	_ = g.Wait()

	p := Profile{
		UserID:          n.userID,
		HasSetup:        setup.ok,
		HasTransactions: txs.ok,
		HasCategories:   cats.ok,
		WelcomeComplete: (welcome.ok && truthy(welcome.env.Payload)) || truthy(globalWelcome),
	}
	if txs.ok {
		p.TransactionCount = countTransactions(txs.env.Payload)
	}
	for _, f := range []fetched{setup, txs, cats} {
		if !f.ok {
			continue
		}
		if f.enveloped {
			p.LastActivity = later(p.LastActivity, f.env.LastUpdated)
		}
		p.LastActivity = later(p.LastActivity, latestActivity(f.env.Payload))
	}
	return p
}

// countTransactions counts a top-level array, or the array under
// "transactions" when the payload is an object.
func countTransactions(payload json.RawMessage) int {
	var list []json.RawMessage
	if err := json.Unmarshal(payload, &list); err == nil {
		return len(list)
	}
	var wrapped struct {
		Transactions []json.RawMessage `json:"transactions"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil {
		return len(wrapped.Transactions)
	}
	return 0
}

// latestActivity is the newest activity timestamp found in the fields of an
// object payload or of the objects inside an array payload.
func latestActivity(payload json.RawMessage) time.Time {
	var objects []map[string]json.RawMessage

	switch classify(payload) {
	case KindObject:
		var obj map[string]json.RawMessage
		if json.Unmarshal(payload, &obj) == nil {
			objects = append(objects, obj)
		}
	case KindArray:
		var list []json.RawMessage
		if json.Unmarshal(payload, &list) == nil {
			for _, el := range list {
				var obj map[string]json.RawMessage
				if classify(el) == KindObject && json.Unmarshal(el, &obj) == nil {
					objects = append(objects, obj)
				}
			}
		}
	}

	var latest time.Time
	for _, obj := range objects {
		for _, field := range activityFields {
			if v, ok := obj[field]; ok {
				latest = later(latest, parseTimestamp(v))
			}
		}
	}
	return latest
}

// parseTimestamp accepts RFC 3339 strings and epoch milliseconds.
func parseTimestamp(v json.RawMessage) time.Time {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}
		}
		return t.UTC()
	}
	var ms float64
	if err := json.Unmarshal(v, &ms); err == nil && ms > 0 {
		return time.UnixMilli(int64(ms)).UTC()
	}
	return time.Time{}
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func truthy(v json.RawMessage) bool {
	if v == nil {
		return false
	}
	var b bool
	if json.Unmarshal(v, &b) == nil {
		return b
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s == "true"
	}
	return false
}
