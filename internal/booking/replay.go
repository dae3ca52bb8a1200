package booking

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LocationTimeSlot is the external representation of one slot: calendar date
// plus start/end times truncated to the minute.
type LocationTimeSlot struct {
	LocationID int64
	Date       string // 2006-01-02
	StartTime  string // 15:04
	EndTime    string // 15:04
}

// ReplayEvent tags one audit event in the order it was recorded.
type ReplayEvent struct {
	EventID   int64
	EventType EventType
	EventTime time.Time
}

// Replay is the reconstructed final state of a booking derived purely from
// its audit log, for migration into a successor system.
type Replay struct {
	BookingID   int64
	Cancelled   bool
	Events      []ReplayEvent
	CourtName   string
	CourtID     string
	MadeByCourt bool
	Probation   bool
	PrisonID    string

	Pre  *LocationTimeSlot
	Main *LocationTimeSlot
	Post *LocationTimeSlot
}

// probationHearingType marks bookings made for probation meetings rather
// than court hearings.
const probationHearingType = "PROBATION"

// Replayer rebuilds a booking's state by replaying its event log. It performs
// no writes, so it is safe to run repeatedly and concurrently.
type Replayer struct {
	repo Repository
}

func NewReplayer(repo Repository) *Replayer {
	return &Replayer{repo: repo}
}

// Replay reconstructs the booking with the given id.
//
// The last non-DELETE event carries the authoritative slot state; a DELETE
// only marks cancellation. A booking whose local row has vanished without a
// DELETE event is reported from its last-known event data but flagged
// cancelled, since a live booking always has a row.
func (r *Replayer) Replay(ctx context.Context, bookingID int64) (*Replay, error) {
	events, err := r.repo.ListEventsForBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrEventsNotFound
	}
	if events[0].EventType != EventCreate {
		return nil, DataIntegrityError{
			Msg: fmt.Sprintf("event log for booking %d starts with %s, expected CREATE", bookingID, events[0].EventType),
		}
	}

	last := events[len(events)-1]
	cancelled := last.EventType == EventDelete

	var current *BookingEvent
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].EventType != EventDelete {
			current = &events[i]
			break
		}
	}
	if current == nil {
		return nil, DataIntegrityError{
			Msg: fmt.Sprintf("event log for booking %d has no CREATE or UPDATE event", bookingID),
		}
	}

	out := &Replay{
		BookingID:   bookingID,
		Cancelled:   cancelled,
		CourtName:   current.CourtName,
		CourtID:     current.CourtID,
		MadeByCourt: current.MadeByCourt,
		Probation:   current.HearingType == probationHearingType,
	}
	for _, ev := range events {
		out.Events = append(out.Events, ReplayEvent{
			EventID:   ev.EventID,
			EventType: ev.EventType,
			EventTime: ev.EventTime,
		})
	}
	for _, t := range Slots() {
		if s := current.Slot(t); s != nil {
			out.setSlot(t, toLocationTimeSlot(s))
		}
	}

	if !cancelled {
		b, err := r.repo.GetBooking(ctx, bookingID)
		switch {
		case errors.Is(err, ErrBookingNotFound):
			// Deleted out-of-band with no DELETE event recorded. Heuristic:
			// treat as cancelled rather than report a booking nothing backs.
			out.Cancelled = true
		case err != nil:
			return nil, err
		default:
			out.PrisonID = b.PrisonID
		}
	}
	return out, nil
}

func toLocationTimeSlot(s *EventSlot) *LocationTimeSlot {
	return &LocationTimeSlot{
		LocationID: s.LocationID,
		Date:       s.StartTime.Format("2006-01-02"),
		StartTime:  s.StartTime.Truncate(time.Minute).Format("15:04"),
		EndTime:    s.EndTime.Truncate(time.Minute).Format("15:04"),
	}
}

func (r *Replay) setSlot(t SlotType, s *LocationTimeSlot) {
	switch t {
	case SlotPre:
		r.Pre = s
	case SlotMain:
		r.Main = s
	case SlotPost:
		r.Post = s
	}
}
