package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/courtlink/whereabouts/internal/gateway"
)

// SubjectLocker guards reconciliation of one subject so a linker pass cannot
// run concurrently with itself for the same subject. Distinct subjects are
// independent and may be processed in parallel with interactive calls.
type SubjectLocker interface {
	WithSubjectLock(ctx context.Context, subjectID int64, fn func(ctx context.Context) error) error
}

// LinkReport summarises one linker pass.
type LinkReport struct {
	Subjects       int
	BookingsLinked int
	Skipped        int
}

// Linker regroups dangling appointment rows into bookings. A row is dangling
// when a create/update failed between the gateway call and the local commit,
// or when the gateway was edited behind this service's back.
//
// Matching is anchored on MAIN: a dangling MAIN row whose appointment is
// still live in the gateway becomes a booking; a dangling PRE row joins it
// iff its gateway end time equals MAIN's start time, a POST row iff its
// gateway start time equals MAIN's end time. The equality is exact, not
// nearest: PRE and POST are by definition immediately adjacent.
type Linker struct {
	repo   Repository
	gw     Gateway
	locker SubjectLocker
	logger *logrus.Logger
}

func NewLinker(repo Repository, gw Gateway, locker SubjectLocker, logger *logrus.Logger) *Linker {
	return &Linker{repo: repo, gw: gw, locker: locker, logger: logger}
}

// Run executes one full linker pass over every subject that has dangling
// appointment rows. A gateway failure aborts only that subject's batch;
// subjects already linked stay linked.
func (l *Linker) Run(ctx context.Context) (LinkReport, error) {
	unlinked, err := l.repo.FindUnlinkedAppointments(ctx)
	if err != nil {
		return LinkReport{}, fmt.Errorf("find unlinked appointments: %w", err)
	}

	bySubject := make(map[int64][]AppointmentRecord)
	for _, rec := range unlinked {
		bySubject[rec.SubjectID] = append(bySubject[rec.SubjectID], rec)
	}

	report := LinkReport{Subjects: len(bySubject)}
	for subjectID, recs := range bySubject {
		linked, err := l.linkSubject(ctx, subjectID, recs)
		if err != nil {
			l.logger.WithError(err).WithField("subject_id", subjectID).
				Warn("linker pass failed for subject")
			report.Skipped++
			continue
		}
		report.BookingsLinked += linked
	}
	return report, nil
}

func (l *Linker) linkSubject(ctx context.Context, subjectID int64, recs []AppointmentRecord) (int, error) {
	linked := 0
	err := l.locker.WithSubjectLock(ctx, subjectID, func(ctx context.Context) error {
		live, err := l.fetchLiveAppointments(ctx, subjectID)
		if err != nil {
			return err
		}

		n, err := l.linkGroups(ctx, subjectID, recs, live)
		linked = n
		return err
	})
	return linked, err
}

// fetchLiveAppointments pages the subject's gateway appointments until an
// empty page, keeping only the video-link category, indexed by external id.
// Duplicate ids cannot normally occur; if they do the last page wins.
func (l *Linker) fetchLiveAppointments(ctx context.Context, subjectID int64) (map[int64]gateway.Appointment, error) {
	live := make(map[int64]gateway.Appointment)
	for offset := 0; ; offset += gateway.SubjectPageSize {
		page, err := l.gw.GetAppointmentsForSubject(ctx, subjectID, offset, gateway.SubjectPageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch appointments page at %d: %w", offset, err)
		}
		if len(page) == 0 {
			return live, nil
		}
		for _, a := range page {
			if a.Category != gateway.VideoLinkCategory {
				continue
			}
			live[a.ExternalID] = a
		}
	}
}

func (l *Linker) linkGroups(ctx context.Context, subjectID int64, recs []AppointmentRecord, live map[int64]gateway.Appointment) (int, error) {
	var mains, pres, posts []AppointmentRecord
	for _, rec := range recs {
		switch rec.SlotType {
		case SlotMain:
			mains = append(mains, rec)
		case SlotPre:
			pres = append(pres, rec)
		case SlotPost:
			posts = append(posts, rec)
		}
	}

	claimed := make(map[int64]bool) // appointment row ids already grouped

	linked := 0
	for _, main := range mains {
		anchor, ok := live[main.ExternalID]
		if !ok {
			// No live appointment behind this MAIN: not linkable, left for a
			// later cleanup rather than guessed at.
			continue
		}

		b := &BookingRecord{
			SubjectID:   subjectID,
			CourtName:   main.CourtName,
			MadeByCourt: main.MadeByCourt,
			PrisonID:    anchor.AgencyID,
			CreatedBy:   "appointment-linker",
			Main:        withTimes(main, anchor),
		}
		rowIDs := []int64{main.ID}

		if pre, ok := adjacentBefore(pres, claimed, live, anchor.StartTime); ok {
			b.Pre = pre
			rowIDs = append(rowIDs, pre.ID)
		}
		if post, ok := adjacentAfter(posts, claimed, live, anchor.EndTime); ok {
			b.Post = post
			rowIDs = append(rowIDs, post.ID)
		}

		id, err := l.repo.LinkBooking(ctx, b)
		if err != nil {
			return linked, fmt.Errorf("link booking for main %d: %w", main.ExternalID, err)
		}
		for _, rid := range rowIDs {
			claimed[rid] = true
		}
		linked++
		l.logger.WithFields(logrus.Fields{
			"booking_id": id,
			"subject_id": subjectID,
			"slots":      len(rowIDs),
		}).Info("relinked dangling appointments into booking")
	}
	return linked, nil
}

// adjacentBefore finds an unclaimed PRE row whose live end time equals the
// MAIN's start time.
func adjacentBefore(pres []AppointmentRecord, claimed map[int64]bool, live map[int64]gateway.Appointment, mainStart time.Time) (*AppointmentRecord, bool) {
	for _, pre := range pres {
		if claimed[pre.ID] {
			continue
		}
		a, ok := live[pre.ExternalID]
		if !ok {
			continue
		}
		if a.EndTime.Equal(mainStart) {
			return withTimes(pre, a), true
		}
	}
	return nil, false
}

// adjacentAfter finds an unclaimed POST row whose live start time equals the
// MAIN's end time.
func adjacentAfter(posts []AppointmentRecord, claimed map[int64]bool, live map[int64]gateway.Appointment, mainEnd time.Time) (*AppointmentRecord, bool) {
	for _, post := range posts {
		if claimed[post.ID] {
			continue
		}
		a, ok := live[post.ExternalID]
		if !ok {
			continue
		}
		if a.StartTime.Equal(mainEnd) {
			return withTimes(post, a), true
		}
	}
	return nil, false
}

// withTimes refreshes a local row's cached times and location from the live
// gateway appointment.
func withTimes(rec AppointmentRecord, live gateway.Appointment) *AppointmentRecord {
	start := live.StartTime
	end := live.EndTime
	rec.StartTime = &start
	rec.EndTime = &end
	rec.LocationID = live.LocationID
	return &rec
}
