// Package events connects the booking lifecycle to the message broker: it
// publishes lifecycle notifications for audit/telemetry consumers and handles
// inbound prison notifications (releases, transfers, upstream appointment
// edits).
package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/courtlink/whereabouts/internal/booking"
	"github.com/courtlink/whereabouts/internal/mq"
)

const (
	KeyBookingCreated = "whereabouts.booking.created"
	KeyBookingUpdated = "whereabouts.booking.updated"
	KeyBookingDeleted = "whereabouts.booking.deleted"
)

type bookingMessage struct {
	BookingID   int64     `json:"booking_id"`
	SubjectID   int64     `json:"subject_id"`
	CourtName   string    `json:"court,omitempty"`
	CourtID     string    `json:"court_id,omitempty"`
	MadeByCourt bool      `json:"made_by_court"`
	PrisonID    string    `json:"prison_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// LifecyclePublisher implements booking.Listener over the topic exchange.
// Publishing is fire-and-forget: a broker failure is logged, never surfaced
// to the caller, because the local transaction has already committed.
type LifecyclePublisher struct {
	pub    *mq.Publisher
	logger *logrus.Logger
}

func NewLifecyclePublisher(pub *mq.Publisher, logger *logrus.Logger) *LifecyclePublisher {
	return &LifecyclePublisher{pub: pub, logger: logger}
}

func (p *LifecyclePublisher) BookingCreated(ctx context.Context, b *booking.BookingRecord, _ booking.Spec) {
	p.publish(ctx, KeyBookingCreated, b)
}

func (p *LifecyclePublisher) BookingUpdated(ctx context.Context, b *booking.BookingRecord, _ booking.Spec) {
	p.publish(ctx, KeyBookingUpdated, b)
}

func (p *LifecyclePublisher) BookingDeleted(ctx context.Context, b *booking.BookingRecord) {
	p.publish(ctx, KeyBookingDeleted, b)
}

func (p *LifecyclePublisher) publish(ctx context.Context, key string, b *booking.BookingRecord) {
	msg := bookingMessage{
		BookingID:   b.ID,
		SubjectID:   b.SubjectID,
		CourtName:   b.CourtName,
		CourtID:     b.CourtID,
		MadeByCourt: b.MadeByCourt,
		PrisonID:    b.PrisonID,
		OccurredAt:  time.Now(),
	}
	if err := p.pub.PublishJSON(ctx, key, msg); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"routing_key": key,
			"booking_id":  b.ID,
		}).Warn("failed to publish lifecycle event")
	}
}

// NopListener discards lifecycle notifications. Used by binaries that have no
// broker connection (seed, tests).
type NopListener struct{}

func (NopListener) BookingCreated(context.Context, *booking.BookingRecord, booking.Spec) {}
func (NopListener) BookingUpdated(context.Context, *booking.BookingRecord, booking.Spec) {}
func (NopListener) BookingDeleted(context.Context, *booking.BookingRecord)               {}
