package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/courtlink/whereabouts/internal/gateway"
)

// Gateway is the slice of the external scheduling system the booking service
// depends on. internal/gateway.Client satisfies it.
type Gateway interface {
	CreateAppointment(ctx context.Context, subjectID int64, appt gateway.NewAppointment, prop gateway.Propagation) (*gateway.CreatedAppointment, error)
	DeleteAppointments(ctx context.Context, ids []int64, prop gateway.Propagation) error
	GetAppointment(ctx context.Context, externalID int64) (*gateway.Appointment, error)
	GetAppointmentsForSubject(ctx context.Context, subjectID int64, offset, limit int) ([]gateway.Appointment, error)
	GetLocation(ctx context.Context, locationID int64) (*gateway.Location, error)
	UpdateAppointmentComment(ctx context.Context, externalID int64, comment string, prop gateway.Propagation) error
}

// Listener receives lifecycle notifications. Implementations publish to the
// audit/telemetry exchange. Invoked strictly after the local transaction has
// committed, never from inside it.
type Listener interface {
	BookingCreated(ctx context.Context, b *BookingRecord, spec Spec)
	BookingUpdated(ctx context.Context, b *BookingRecord, spec Spec)
	BookingDeleted(ctx context.Context, b *BookingRecord)
}

// SlotSpec describes one requested hearing slot.
type SlotSpec struct {
	LocationID int64
	StartTime  time.Time
	EndTime    time.Time
}

// Spec is the caller's description of a booking for Create and Update. Main
// is mandatory, Pre and Post optional.
type Spec struct {
	SubjectID   int64
	CourtName   string
	CourtID     string
	HearingType string
	MadeByCourt bool
	Comment     string

	Pre  *SlotSpec
	Main *SlotSpec
	Post *SlotSpec
}

func (s Spec) slot(t SlotType) *SlotSpec {
	switch t {
	case SlotPre:
		return s.Pre
	case SlotMain:
		return s.Main
	case SlotPost:
		return s.Post
	}
	return nil
}

// View is the live read model for one booking: identity from the local
// aggregate, slot times/locations/comment from the scheduling system.
type View struct {
	ID          int64
	SubjectID   int64
	CourtName   string
	CourtID     string
	HearingType string
	MadeByCourt bool
	PrisonID    string
	Comment     string

	Pre  *SlotView
	Main *SlotView
	Post *SlotView
}

type SlotView struct {
	ExternalID int64
	LocationID int64
	StartTime  time.Time
	EndTime    time.Time
}

func (v *View) setSlot(t SlotType, s *SlotView) {
	switch t {
	case SlotPre:
		v.Pre = s
	case SlotMain:
		v.Main = s
	case SlotPost:
		v.Post = s
	}
}

// Service is the booking lifecycle manager. Each operation runs a fixed
// sequence: validate, gateway side effects, one local transaction, listener.
// Gateway calls and the local transaction are deliberately not atomic across
// the two systems; orphaned gateway appointments are repaired by the linker.
type Service struct {
	repo     Repository
	gw       Gateway
	listener Listener
	logger   *logrus.Logger
	now      func() time.Time
}

func NewService(repo Repository, gw Gateway, listener Listener, logger *logrus.Logger) *Service {
	return &Service{
		repo:     repo,
		gw:       gw,
		listener: listener,
		logger:   logger,
		now:      time.Now,
	}
}

// Create validates the given Spec, books the underlying gateway appointments and
// persists the aggregate. Returns the new booking's id.
func (s *Service) Create(ctx context.Context, actor string, spec Spec) (int64, error) {
	if err := s.validate(ctx, spec); err != nil {
		return 0, err
	}

	b := &BookingRecord{
		SubjectID:   spec.SubjectID,
		CourtName:   spec.CourtName,
		CourtID:     spec.CourtID,
		HearingType: spec.HearingType,
		MadeByCourt: spec.MadeByCourt,
		Comment:     spec.Comment,
		CreatedBy:   actor,
	}

	if err := s.createGatewayAppointments(ctx, b, spec); err != nil {
		return 0, err
	}

	ev := snapshotEvent(b, EventCreate, actor, s.now())
	id, err := s.repo.CreateBooking(ctx, b, ev)
	if err != nil {
		// The gateway appointments created above are now orphans. Accepted:
		// the linker regroups them on its next pass.
		return 0, fmt.Errorf("persist video link booking: %w", err)
	}
	b.ID = id

	s.listener.BookingCreated(ctx, b, spec)
	s.logger.WithFields(logrus.Fields{
		"booking_id": id,
		"subject_id": spec.SubjectID,
		"court":      spec.CourtName,
	}).Info("video link booking created")

	return id, nil
}

// Update replaces the booking's slots, court identity and comment with the
// spec's. The gateway side is delete-then-recreate rather than in-place
// amendment, so it always reflects exactly the latest spec. There is a brief
// window between the two gateway calls where neither version is visible.
func (s *Service) Update(ctx context.Context, id int64, actor string, spec Spec) error {
	existing, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	if err := s.validate(ctx, spec); err != nil {
		return err
	}

	if err := s.gw.DeleteAppointments(ctx, existing.ExternalIDs(), gateway.PropagationDeny); err != nil && !errors.Is(err, gateway.ErrNotFound) {
		return fmt.Errorf("delete replaced appointments: %w", err)
	}

	updated := &BookingRecord{
		ID:          existing.ID,
		SubjectID:   spec.SubjectID,
		CourtName:   spec.CourtName,
		CourtID:     spec.CourtID,
		HearingType: spec.HearingType,
		MadeByCourt: spec.MadeByCourt,
		Comment:     spec.Comment,
		CreatedBy:   existing.CreatedBy,
		PrisonID:    existing.PrisonID,
	}
	if updated.SubjectID == 0 {
		updated.SubjectID = existing.SubjectID
	}

	if err := s.createGatewayAppointments(ctx, updated, spec); err != nil {
		return err
	}

	ev := snapshotEvent(updated, EventUpdate, actor, s.now())
	if err := s.repo.UpdateBooking(ctx, updated, ev); err != nil {
		return fmt.Errorf("persist video link booking update: %w", err)
	}

	s.listener.BookingUpdated(ctx, updated, spec)
	s.logger.WithField("booking_id", id).Info("video link booking updated")
	return nil
}

// Delete removes the booking, its gateway appointments and its slot rows.
// Already-missing gateway appointments are tolerated.
func (s *Service) Delete(ctx context.Context, id int64, actor string) error {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return err
	}

	if err := s.gw.DeleteAppointments(ctx, b.ExternalIDs(), gateway.PropagationDeny); err != nil && !errors.Is(err, gateway.ErrNotFound) {
		return fmt.Errorf("delete gateway appointments: %w", err)
	}

	ev := snapshotEvent(b, EventDelete, actor, s.now())
	if err := s.repo.DeleteBooking(ctx, id, ev); err != nil {
		return fmt.Errorf("delete video link booking: %w", err)
	}

	s.listener.BookingDeleted(ctx, b)
	s.logger.WithField("booking_id", id).Info("video link booking deleted")
	return nil
}

// Get returns the live view of a booking. The scheduling system decides
// whether the booking is still real: a missing MAIN appointment upstream
// means not-found even though local rows exist. Missing PRE/POST slots are
// omitted from the view.
func (s *Service) Get(ctx context.Context, id int64) (*View, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	v := &View{
		ID:          b.ID,
		SubjectID:   b.SubjectID,
		CourtName:   b.CourtName,
		CourtID:     b.CourtID,
		HearingType: b.HearingType,
		MadeByCourt: b.MadeByCourt,
		PrisonID:    b.PrisonID,
	}

	for _, t := range Slots() {
		a := b.Slot(t)
		if a == nil {
			continue
		}
		live, err := s.gw.GetAppointment(ctx, a.ExternalID)
		if err != nil {
			if errors.Is(err, gateway.ErrNotFound) {
				if t == SlotMain {
					return nil, ErrBookingNotFound
				}
				continue
			}
			return nil, err
		}
		if t == SlotMain {
			v.Comment = live.Comment
		}
		v.setSlot(t, &SlotView{
			ExternalID: live.ExternalID,
			LocationID: live.LocationID,
			StartTime:  live.StartTime,
			EndTime:    live.EndTime,
		})
	}

	if v.Main == nil {
		return nil, ErrBookingNotFound
	}
	return v, nil
}

// UpdateComment replaces the comment on every slot's gateway appointment.
// The local comment column is left alone: the gateway copy is authoritative
// and Get always re-fetches it.
func (s *Service) UpdateComment(ctx context.Context, id int64, comment string) error {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	for _, a := range b.Appointments() {
		if err := s.gw.UpdateAppointmentComment(ctx, a.ExternalID, comment, gateway.PropagationDeny); err != nil {
			return fmt.Errorf("update comment on %s appointment: %w", a.SlotType.Label(), err)
		}
	}
	return nil
}

// DeleteForSubject removes every booking held for a subject. Called by the
// event listener when the subject is released or transferred.
func (s *Service) DeleteForSubject(ctx context.Context, subjectID int64, actor string) (int, error) {
	bookings, err := s.repo.FindBookingsForSubject(ctx, subjectID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for i := range bookings {
		if err := s.Delete(ctx, bookings[i].ID, actor); err != nil {
			s.logger.WithError(err).WithField("booking_id", bookings[i].ID).
				Warn("failed to delete booking for released subject")
			continue
		}
		deleted++
	}
	return deleted, nil
}

// RemoveAppointment reacts to an appointment deleted directly in the
// scheduling system: the owning booking loses that slot, or the whole booking
// when the slot was MAIN. Dangling rows are left for the linker.
func (s *Service) RemoveAppointment(ctx context.Context, externalID int64, actor string) error {
	recs, err := s.repo.FindAppointmentsByExternalIDs(ctx, []int64{externalID})
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return ErrAppointmentNotFound
	}
	rec := recs[0]
	if rec.BookingID == nil {
		return nil
	}

	b, err := s.repo.GetBooking(ctx, *rec.BookingID)
	if err != nil {
		return err
	}
	if rec.SlotType == SlotMain {
		return s.Delete(ctx, b.ID, actor)
	}

	b.SetSlot(rec.SlotType, nil)
	ev := snapshotEvent(b, EventUpdate, actor, s.now())
	if err := s.repo.UpdateBooking(ctx, b, ev); err != nil {
		return fmt.Errorf("remove %s appointment: %w", rec.SlotType.Label(), err)
	}
	return nil
}

// FindAppointments is the batch appointment lookup by gateway ids.
func (s *Service) FindAppointments(ctx context.Context, externalIDs []int64) ([]AppointmentRecord, error) {
	return s.repo.FindAppointmentsByExternalIDs(ctx, externalIDs)
}

// validate applies all caller-input checks. Runs before any gateway mutation;
// the only gateway traffic here is read-only location resolution.
func (s *Service) validate(ctx context.Context, spec Spec) error {
	if spec.CourtName == "" && spec.CourtID == "" {
		return ValidationError{Msg: "One of court or courtId must be specified"}
	}
	if spec.Main == nil {
		return ValidationError{Msg: "A main appointment must be specified"}
	}

	now := s.now()
	for _, t := range Slots() {
		sl := spec.slot(t)
		if sl == nil {
			continue
		}
		if !sl.StartTime.After(now) {
			return validationErrorf("%s start time must be in the future.", t.Label())
		}
		if !sl.StartTime.Before(sl.EndTime) {
			return validationErrorf("%s start time must precede end time.", t.Label())
		}
	}

	for _, t := range Slots() {
		sl := spec.slot(t)
		if sl == nil {
			continue
		}
		if _, err := s.gw.GetLocation(ctx, sl.LocationID); err != nil {
			if errors.Is(err, gateway.ErrNotFound) {
				return validationErrorf("%s locationId %d not found.", t.Label(), sl.LocationID)
			}
			return err
		}
	}
	return nil
}

// createGatewayAppointments books one gateway appointment per present slot,
// in schedule order, and attaches the resulting rows to b. The prison is
// resolved from the MAIN create response's agency.
func (s *Service) createGatewayAppointments(ctx context.Context, b *BookingRecord, spec Spec) error {
	for _, t := range Slots() {
		sl := spec.slot(t)
		if sl == nil {
			continue
		}
		created, err := s.gw.CreateAppointment(ctx, b.SubjectID, gateway.NewAppointment{
			Category:   gateway.VideoLinkCategory,
			LocationID: sl.LocationID,
			Comment:    spec.Comment,
			StartTime:  sl.StartTime,
			EndTime:    sl.EndTime,
		}, gateway.PropagationDeny)
		if err != nil {
			// Slots already created this call stay behind in the gateway as
			// orphans until the linker's next pass.
			return fmt.Errorf("create %s appointment: %w", t.Label(), err)
		}
		if t == SlotMain {
			b.PrisonID = created.AgencyID
		}
		start := created.StartTime
		end := created.EndTime
		b.SetSlot(t, &AppointmentRecord{
			SlotType:    t,
			ExternalID:  created.ExternalID,
			SubjectID:   b.SubjectID,
			LocationID:  created.LocationID,
			StartTime:   &start,
			EndTime:     &end,
			CourtName:   b.CourtName,
			MadeByCourt: b.MadeByCourt,
		})
	}
	return nil
}
