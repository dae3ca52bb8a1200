package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/courtlink/whereabouts/internal/booking"
	"github.com/courtlink/whereabouts/internal/mq"
)

// Routing keys this service subscribes to. Releases and transfers end every
// booking the subject holds; an upstream appointment deletion removes the
// matching slot (or the whole booking when the slot was MAIN).
const (
	KeySubjectReleased    = "prison.subject.released"
	KeySubjectTransferred = "prison.subject.transferred"
	KeyAppointmentDeleted = "prison.appointment.deleted"
)

const consumerActor = "event-listener"

type subjectNotification struct {
	SubjectID int64  `json:"booking_id"`
	PrisonID  string `json:"agency_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type appointmentNotification struct {
	ExternalID int64  `json:"appointment_event_id"`
	Action     string `json:"action,omitempty"`
}

// NotificationConsumer drains prison notifications and invokes the booking
// lifecycle manager. Malformed payloads are dropped; handler failures are
// requeued once by the broker.
type NotificationConsumer struct {
	svc    *booking.Service
	cons   *mq.Consumer
	logger *logrus.Logger
}

func NewNotificationConsumer(svc *booking.Service, cons *mq.Consumer, logger *logrus.Logger) *NotificationConsumer {
	return &NotificationConsumer{svc: svc, cons: cons, logger: logger}
}

func (c *NotificationConsumer) Run(ctx context.Context) error {
	msgs, err := c.cons.Deliveries(ctx)
	if err != nil {
		return err
	}

	for d := range msgs {
		switch d.RoutingKey {
		case KeySubjectReleased, KeySubjectTransferred:
			var n subjectNotification
			if err := json.Unmarshal(d.Body, &n); err != nil || n.SubjectID == 0 {
				c.logger.WithField("routing_key", d.RoutingKey).Warn("dropping malformed subject notification")
				_ = d.Ack(false)
				continue
			}
			deleted, err := c.svc.DeleteForSubject(ctx, n.SubjectID, consumerActor)
			if err != nil {
				c.logger.WithError(err).WithField("subject_id", n.SubjectID).
					Warn("failed to delete bookings for subject")
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			c.logger.WithFields(logrus.Fields{
				"subject_id": n.SubjectID,
				"deleted":    deleted,
			}).Info("handled subject release notification")
			_ = d.Ack(false)

		case KeyAppointmentDeleted:
			var n appointmentNotification
			if err := json.Unmarshal(d.Body, &n); err != nil || n.ExternalID == 0 {
				c.logger.Warn("dropping malformed appointment notification")
				_ = d.Ack(false)
				continue
			}
			if err := c.svc.RemoveAppointment(ctx, n.ExternalID, consumerActor); err != nil {
				if errors.Is(err, booking.ErrAppointmentNotFound) {
					// Not one of ours.
					_ = d.Ack(false)
					continue
				}
				c.logger.WithError(err).WithField("external_id", n.ExternalID).
					Warn("failed to handle appointment deletion")
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)

		default:
			_ = d.Ack(false)
		}
	}
	return nil
}
