// Package events publishes committed lifecycle transitions for downstream
// consumers (notifications, reporting). Publishing happens after the write
// commits and never rolls it back.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Transition is one committed validation status change.
type Transition struct {
	RecordID            string    `json:"record_id"`
	CertificationNumber string    `json:"certification_number"`
	OwnerID             string    `json:"owner_id"`
	Operation           string    `json:"operation"`
	From                string    `json:"from"`
	To                  string    `json:"to"`
	InternalStatus      string    `json:"internal_status"`
	RejectionReason     string    `json:"rejection_reason,omitempty"`
	OccurredAt          time.Time `json:"occurred_at"`
}

// Publisher delivers transitions.
type Publisher interface {
	Publish(ctx context.Context, t Transition) error
}

// LogPublisher writes transitions to the structured log. Used when no broker
// is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, t Transition) error {
	p.logger.InfoContext(ctx, "certification transition",
		"record_id", t.RecordID,
		"certification_number", t.CertificationNumber,
		"operation", t.Operation,
		"from", t.From,
		"to", t.To,
	)
	return nil
}
