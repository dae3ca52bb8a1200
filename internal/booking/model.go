package booking

import (
	"time"
)

type SlotType string

const (
	SlotPre  SlotType = "PRE"
	SlotMain SlotType = "MAIN"
	SlotPost SlotType = "POST"
)

// Slots returns the slot types in schedule order.
func Slots() []SlotType {
	return []SlotType{SlotPre, SlotMain, SlotPost}
}

func (s SlotType) Label() string {
	switch s {
	case SlotPre:
		return "Pre"
	case SlotMain:
		return "Main"
	case SlotPost:
		return "Post"
	}
	return string(s)
}

type EventType string

const (
	EventCreate EventType = "CREATE"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// AppointmentRecord is one persisted hearing-slot row. BookingID is nil while
// the row is dangling (left behind by a partially failed create/update); the
// linker re-points it at a booking later. SubjectID, CourtName and MadeByCourt
// are carried on the row so a dangling appointment still knows enough about
// its origin to be regrouped into a booking.
type AppointmentRecord struct {
	ID          int64
	BookingID   *int64
	SlotType    SlotType
	ExternalID  int64
	SubjectID   int64
	LocationID  int64
	StartTime   *time.Time
	EndTime     *time.Time
	CourtName   string
	MadeByCourt bool
	CreatedAt   time.Time
}

// BookingRecord is the video-link booking aggregate: court identity plus up to
// three appointment slots. The slot set is a closed enum, so it is modelled as
// three optional fields rather than a map.
type BookingRecord struct {
	ID          int64
	SubjectID   int64
	CourtName   string
	CourtID     string
	HearingType string
	MadeByCourt bool
	PrisonID    string
	Comment     string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Pre  *AppointmentRecord
	Main *AppointmentRecord
	Post *AppointmentRecord
}

// Slot returns the appointment record for the given slot type, or nil.
func (b *BookingRecord) Slot(t SlotType) *AppointmentRecord {
	switch t {
	case SlotPre:
		return b.Pre
	case SlotMain:
		return b.Main
	case SlotPost:
		return b.Post
	}
	return nil
}

func (b *BookingRecord) SetSlot(t SlotType, a *AppointmentRecord) {
	switch t {
	case SlotPre:
		b.Pre = a
	case SlotMain:
		b.Main = a
	case SlotPost:
		b.Post = a
	}
}

// Appointments returns the present slots in schedule order.
func (b *BookingRecord) Appointments() []*AppointmentRecord {
	var out []*AppointmentRecord
	for _, t := range Slots() {
		if a := b.Slot(t); a != nil {
			out = append(out, a)
		}
	}
	return out
}

// ExternalIDs returns the gateway appointment ids of every present slot.
func (b *BookingRecord) ExternalIDs() []int64 {
	var ids []int64
	for _, a := range b.Appointments() {
		ids = append(ids, a.ExternalID)
	}
	return ids
}

// EventSlot is the per-slot snapshot stored on a booking event.
type EventSlot struct {
	ExternalID int64
	LocationID int64
	StartTime  time.Time
	EndTime    time.Time
}

// BookingEvent is one append-only audit row. Rows are never updated or
// deleted; the full sequence for a booking is its authoritative history.
// DELETE events carry no slot snapshots.
type BookingEvent struct {
	EventID     int64
	EventType   EventType
	EventTime   time.Time
	ActorID     string
	BookingID   int64
	SubjectID   int64
	CourtName   string
	CourtID     string
	HearingType string
	MadeByCourt bool
	Comment     string

	Pre  *EventSlot
	Main *EventSlot
	Post *EventSlot
}

func (e *BookingEvent) Slot(t SlotType) *EventSlot {
	switch t {
	case SlotPre:
		return e.Pre
	case SlotMain:
		return e.Main
	case SlotPost:
		return e.Post
	}
	return nil
}

func (e *BookingEvent) SetSlot(t SlotType, s *EventSlot) {
	switch t {
	case SlotPre:
		e.Pre = s
	case SlotMain:
		e.Main = s
	case SlotPost:
		e.Post = s
	}
}

// snapshotEvent captures the current state of a booking as an event of the
// given type. Delete events deliberately omit slot data.
func snapshotEvent(b *BookingRecord, et EventType, actor string, at time.Time) BookingEvent {
	ev := BookingEvent{
		EventType:   et,
		EventTime:   at,
		ActorID:     actor,
		BookingID:   b.ID,
		SubjectID:   b.SubjectID,
		CourtName:   b.CourtName,
		CourtID:     b.CourtID,
		HearingType: b.HearingType,
		MadeByCourt: b.MadeByCourt,
		Comment:     b.Comment,
	}
	if et == EventDelete {
		return ev
	}
	for _, t := range Slots() {
		a := b.Slot(t)
		if a == nil || a.StartTime == nil || a.EndTime == nil {
			continue
		}
		ev.SetSlot(t, &EventSlot{
			ExternalID: a.ExternalID,
			LocationID: a.LocationID,
			StartTime:  *a.StartTime,
			EndTime:    *a.EndTime,
		})
	}
	return ev
}
