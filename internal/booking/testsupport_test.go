package booking

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/courtlink/whereabouts/internal/gateway"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeGateway is an in-memory stand-in for the scheduling system. It records
// every mutation so tests can assert on call order and payloads.
type fakeGateway struct {
	locations    map[int64]gateway.Location
	appointments map[int64]gateway.Appointment
	nextID       int64

	createCalls  []gateway.NewAppointment
	deleteCalls  [][]int64
	commentCalls map[int64]string

	failCreateFrom int   // fail the nth create call onwards; 0 disables
	deleteErr      error // returned by DeleteAppointments after recording the call
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		locations: map[int64]gateway.Location{
			1: {LocationID: 1, Description: "Room A", AgencyID: "WWI"},
			2: {LocationID: 2, Description: "Room B", AgencyID: "WWI"},
			3: {LocationID: 3, Description: "Room C", AgencyID: "WWI"},
		},
		appointments:   map[int64]gateway.Appointment{},
		nextID:         1000,
		commentCalls:   map[int64]string{},
		failCreateFrom: 0,
	}
}

func (g *fakeGateway) CreateAppointment(_ context.Context, subjectID int64, appt gateway.NewAppointment, _ gateway.Propagation) (*gateway.CreatedAppointment, error) {
	g.createCalls = append(g.createCalls, appt)
	if g.failCreateFrom > 0 && len(g.createCalls) >= g.failCreateFrom {
		return nil, &gateway.UpstreamError{Op: "POST create", Status: 500}
	}

	g.nextID++
	agency := "WWI"
	if loc, ok := g.locations[appt.LocationID]; ok {
		agency = loc.AgencyID
	}
	g.appointments[g.nextID] = gateway.Appointment{
		ExternalID: g.nextID,
		SubjectID:  subjectID,
		Category:   appt.Category,
		LocationID: appt.LocationID,
		AgencyID:   agency,
		StartTime:  appt.StartTime,
		EndTime:    appt.EndTime,
		Comment:    appt.Comment,
	}
	created := &gateway.CreatedAppointment{
		ExternalID: g.nextID,
		AgencyID:   agency,
		LocationID: appt.LocationID,
		StartTime:  appt.StartTime,
		EndTime:    appt.EndTime,
	}
	return created, nil
}

func (g *fakeGateway) DeleteAppointments(_ context.Context, ids []int64, _ gateway.Propagation) error {
	g.deleteCalls = append(g.deleteCalls, ids)
	if g.deleteErr != nil {
		return g.deleteErr
	}
	for _, id := range ids {
		delete(g.appointments, id)
	}
	return nil
}

func (g *fakeGateway) GetAppointment(_ context.Context, externalID int64) (*gateway.Appointment, error) {
	a, ok := g.appointments[externalID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return &a, nil
}

func (g *fakeGateway) GetAppointmentsForSubject(_ context.Context, subjectID int64, offset, limit int) ([]gateway.Appointment, error) {
	var all []gateway.Appointment
	for _, a := range g.appointments {
		if a.SubjectID == subjectID {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ExternalID < all[j].ExternalID })

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (g *fakeGateway) GetLocation(_ context.Context, locationID int64) (*gateway.Location, error) {
	loc, ok := g.locations[locationID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return &loc, nil
}

func (g *fakeGateway) UpdateAppointmentComment(_ context.Context, externalID int64, comment string, _ gateway.Propagation) error {
	g.commentCalls[externalID] = comment
	if a, ok := g.appointments[externalID]; ok {
		a.Comment = comment
		g.appointments[externalID] = a
	}
	return nil
}

// addLive registers a live gateway appointment without going through create.
func (g *fakeGateway) addLive(externalID, subjectID, locationID int64, category string, start, end time.Time) {
	g.appointments[externalID] = gateway.Appointment{
		ExternalID: externalID,
		SubjectID:  subjectID,
		Category:   category,
		LocationID: locationID,
		AgencyID:   "WWI",
		StartTime:  start,
		EndTime:    end,
	}
}

// fakeRepo is an in-memory Repository.
type fakeRepo struct {
	bookings      map[int64]*BookingRecord
	rows          map[int64]*AppointmentRecord
	events        []BookingEvent
	nextBookingID int64
	nextRowID     int64
	nextEventID   int64

	failCreate bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		bookings: map[int64]*BookingRecord{},
		rows:     map[int64]*AppointmentRecord{},
	}
}

func cloneBooking(b *BookingRecord) *BookingRecord {
	out := *b
	for _, t := range Slots() {
		if a := b.Slot(t); a != nil {
			c := *a
			out.SetSlot(t, &c)
		}
	}
	return &out
}

func (r *fakeRepo) storeRows(b *BookingRecord) {
	for _, t := range Slots() {
		a := b.Slot(t)
		if a == nil {
			continue
		}
		if a.ID == 0 {
			r.nextRowID++
			a.ID = r.nextRowID
		}
		bid := b.ID
		a.BookingID = &bid
		c := *a
		r.rows[a.ID] = &c
	}
}

func (r *fakeRepo) appendEvent(ev BookingEvent) {
	r.nextEventID++
	ev.EventID = r.nextEventID
	r.events = append(r.events, ev)
}

func (r *fakeRepo) GetBooking(_ context.Context, id int64) (*BookingRecord, error) {
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return cloneBooking(b), nil
}

func (r *fakeRepo) CreateBooking(_ context.Context, b *BookingRecord, ev BookingEvent) (int64, error) {
	if r.failCreate {
		return 0, errors.New("injected persistence failure")
	}
	r.nextBookingID++
	b.ID = r.nextBookingID
	r.storeRows(b)
	r.bookings[b.ID] = cloneBooking(b)
	ev.BookingID = b.ID
	r.appendEvent(ev)
	return b.ID, nil
}

func (r *fakeRepo) UpdateBooking(_ context.Context, b *BookingRecord, ev BookingEvent) error {
	old, ok := r.bookings[b.ID]
	if !ok {
		return ErrBookingNotFound
	}
	for _, a := range old.Appointments() {
		delete(r.rows, a.ID)
	}
	for _, a := range b.Appointments() {
		a.ID = 0
	}
	r.storeRows(b)
	r.bookings[b.ID] = cloneBooking(b)
	ev.BookingID = b.ID
	r.appendEvent(ev)
	return nil
}

func (r *fakeRepo) DeleteBooking(_ context.Context, id int64, ev BookingEvent) error {
	b, ok := r.bookings[id]
	if !ok {
		return ErrBookingNotFound
	}
	for _, a := range b.Appointments() {
		delete(r.rows, a.ID)
	}
	delete(r.bookings, id)
	ev.BookingID = id
	r.appendEvent(ev)
	return nil
}

func (r *fakeRepo) FindBookingsForSubject(_ context.Context, subjectID int64) ([]BookingRecord, error) {
	var out []BookingRecord
	for _, b := range r.bookings {
		if b.SubjectID == subjectID {
			out = append(out, *cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepo) FindUnlinkedAppointments(_ context.Context) ([]AppointmentRecord, error) {
	var out []AppointmentRecord
	for _, a := range r.rows {
		if a.BookingID == nil {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepo) LinkBooking(_ context.Context, b *BookingRecord) (int64, error) {
	r.nextBookingID++
	b.ID = r.nextBookingID
	for _, a := range b.Appointments() {
		row, ok := r.rows[a.ID]
		if !ok || row.BookingID != nil {
			return 0, errors.New("appointment no longer unlinked")
		}
		bid := b.ID
		row.BookingID = &bid
		row.LocationID = a.LocationID
		row.StartTime = a.StartTime
		row.EndTime = a.EndTime
		a.BookingID = &bid
	}
	r.bookings[b.ID] = cloneBooking(b)
	return b.ID, nil
}

func (r *fakeRepo) FindAppointmentsByExternalIDs(_ context.Context, externalIDs []int64) ([]AppointmentRecord, error) {
	want := map[int64]bool{}
	for _, id := range externalIDs {
		want[id] = true
	}
	var out []AppointmentRecord
	for _, a := range r.rows {
		if want[a.ExternalID] {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// addUnlinked inserts a dangling appointment row directly.
func (r *fakeRepo) addUnlinked(slot SlotType, externalID, subjectID int64, court string) *AppointmentRecord {
	r.nextRowID++
	a := &AppointmentRecord{
		ID:          r.nextRowID,
		SlotType:    slot,
		ExternalID:  externalID,
		SubjectID:   subjectID,
		CourtName:   court,
		MadeByCourt: true,
	}
	r.rows[a.ID] = a
	return a
}

func (r *fakeRepo) ListEventsForBooking(_ context.Context, bookingID int64) ([]BookingEvent, error) {
	var out []BookingEvent
	for _, ev := range r.events {
		if ev.BookingID == bookingID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListEventsBetween(_ context.Context, from, to time.Time) ([]BookingEvent, error) {
	var out []BookingEvent
	for _, ev := range r.events {
		if !ev.EventTime.Before(from) && ev.EventTime.Before(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// recordingListener captures lifecycle notifications in order.
type recordingListener struct {
	created []int64
	updated []int64
	deleted []int64
}

func (l *recordingListener) BookingCreated(_ context.Context, b *BookingRecord, _ Spec) {
	l.created = append(l.created, b.ID)
}

func (l *recordingListener) BookingUpdated(_ context.Context, b *BookingRecord, _ Spec) {
	l.updated = append(l.updated, b.ID)
}

func (l *recordingListener) BookingDeleted(_ context.Context, b *BookingRecord) {
	l.deleted = append(l.deleted, b.ID)
}

// nopLocker runs the critical section without any locking.
type nopLocker struct{}

func (nopLocker) WithSubjectLock(ctx context.Context, _ int64, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService(repo *fakeRepo, gw *fakeGateway, listener *recordingListener) *Service {
	return NewService(repo, gw, listener, testLogger())
}
