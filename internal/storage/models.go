package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertEvent is one raised alert condition recorded in the journal.
type AlertEvent struct {
	ID           int64
	RunID        string
	SubjectID    string
	Kind         string
	ConditionKey string
	Summary      string
	Value        *decimal.Decimal
	Channels     []string
	RaisedAt     time.Time
	CreatedAt    time.Time
}
