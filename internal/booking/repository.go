package booking

import (
	"context"
	"time"
)

// Repository contains all DB interactions needed by the booking service, the
// linker and the replayer. Aggregate writes (booking row, slot rows, audit
// event) must commit in a single transaction so no partial slot set is ever
// visible.
type Repository interface {
	// Booking aggregates
	GetBooking(ctx context.Context, id int64) (*BookingRecord, error)
	CreateBooking(ctx context.Context, b *BookingRecord, ev BookingEvent) (int64, error)
	UpdateBooking(ctx context.Context, b *BookingRecord, ev BookingEvent) error
	DeleteBooking(ctx context.Context, id int64, ev BookingEvent) error
	FindBookingsForSubject(ctx context.Context, subjectID int64) ([]BookingRecord, error)

	// Dangling appointments (linker)
	FindUnlinkedAppointments(ctx context.Context) ([]AppointmentRecord, error)
	LinkBooking(ctx context.Context, b *BookingRecord) (int64, error)

	// Appointment lookups
	FindAppointmentsByExternalIDs(ctx context.Context, externalIDs []int64) ([]AppointmentRecord, error)

	// Audit log (append-only, replayer + CSV export)
	ListEventsForBooking(ctx context.Context, bookingID int64) ([]BookingEvent, error)
	ListEventsBetween(ctx context.Context, from, to time.Time) ([]BookingEvent, error)
}
