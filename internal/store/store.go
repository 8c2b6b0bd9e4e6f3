// Package store persists message records, rules and settings.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/roelfdiedericks/autoreply/internal/rules"
)

// ErrNotFound is returned when a rule or message does not exist.
var ErrNotFound = errors.New("not found")

// Direction tells inbound and outbound records apart.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Message is one recorded chat message.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	Direction Direction `json:"direction"`
	IsGroup   bool      `json:"isGroup"`
	RuleID    string    `json:"ruleId,omitempty"` // rule that produced an outbound reply
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is what the dispatcher needs from persistence.
type Store interface {
	CreateMessage(ctx context.Context, m *Message) error
	// ListEnabledRules returns enabled rules ordered priority desc, then newest first.
	ListEnabledRules(ctx context.Context) ([]rules.Rule, error)
	// GetSettings returns nil, nil when no settings were ever saved.
	GetSettings(ctx context.Context) (*rules.Settings, error)
}

// MessageQuery filters ListMessages.
type MessageQuery struct {
	ChatID string
	Limit  int // 0 = default (50)
	Offset int
}

const defaultMessageLimit = 50
