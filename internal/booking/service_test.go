package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtlink/whereabouts/internal/gateway"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func fixedClock(svc *Service) {
	svc.now = func() time.Time { return testNow }
}

func mainSpec(subjectID int64) Spec {
	return Spec{
		SubjectID:   subjectID,
		CourtName:   "York Crown Court",
		HearingType: "APPEAL",
		MadeByCourt: true,
		Comment:     "remand hearing",
		Main: &SlotSpec{
			LocationID: 1,
			StartTime:  testNow.Add(24 * time.Hour),
			EndTime:    testNow.Add(25 * time.Hour),
		},
	}
}

func fullSpec(subjectID int64) Spec {
	spec := mainSpec(subjectID)
	spec.Pre = &SlotSpec{
		LocationID: 2,
		StartTime:  spec.Main.StartTime.Add(-15 * time.Minute),
		EndTime:    spec.Main.StartTime,
	}
	spec.Post = &SlotSpec{
		LocationID: 3,
		StartTime:  spec.Main.EndTime,
		EndTime:    spec.Main.EndTime.Add(15 * time.Minute),
	}
	return spec
}

func TestCreateBooksAllSlots(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	listener := &recordingListener{}
	svc := newTestService(repo, gw, listener)
	fixedClock(svc)

	id, err := svc.Create(context.Background(), "test-user", fullSpec(42))
	require.NoError(t, err)
	require.NotZero(t, id)

	b, err := repo.GetBooking(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, b.Main)
	require.NotNil(t, b.Pre)
	require.NotNil(t, b.Post)
	assert.Equal(t, int64(42), b.SubjectID)
	assert.Equal(t, "York Crown Court", b.CourtName)
	assert.Equal(t, "WWI", b.PrisonID, "prison resolved from the main appointment's agency")
	assert.Equal(t, "test-user", b.CreatedBy)

	// One gateway appointment per slot, in schedule order.
	require.Len(t, gw.createCalls, 3)
	assert.Equal(t, int64(2), gw.createCalls[0].LocationID)
	assert.Equal(t, int64(1), gw.createCalls[1].LocationID)
	assert.Equal(t, int64(3), gw.createCalls[2].LocationID)
	for _, call := range gw.createCalls {
		assert.Equal(t, "VLB", call.Category)
	}

	// One CREATE event with slot snapshots.
	events, err := repo.ListEventsForBooking(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventCreate, events[0].EventType)
	assert.Equal(t, "test-user", events[0].ActorID)
	assert.NotNil(t, events[0].Main)
	assert.NotNil(t, events[0].Pre)
	assert.NotNil(t, events[0].Post)

	assert.Equal(t, []int64{id}, listener.created)
}

func TestCreateValidation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Spec)
		wantMsg string
	}{
		{
			name:    "no court identity",
			mutate:  func(s *Spec) { s.CourtName = ""; s.CourtID = "" },
			wantMsg: "One of court or courtId must be specified",
		},
		{
			name:    "no main slot",
			mutate:  func(s *Spec) { s.Main = nil },
			wantMsg: "A main appointment must be specified",
		},
		{
			name: "start in the past",
			mutate: func(s *Spec) {
				s.Main.StartTime = testNow.Add(-time.Hour)
			},
			wantMsg: "Main start time must be in the future.",
		},
		{
			name: "start equals now",
			mutate: func(s *Spec) {
				s.Main.StartTime = testNow
			},
			wantMsg: "Main start time must be in the future.",
		},
		{
			name: "start after end",
			mutate: func(s *Spec) {
				s.Main.EndTime = s.Main.StartTime.Add(-time.Minute)
			},
			wantMsg: "Main start time must precede end time.",
		},
		{
			name: "zero length slot",
			mutate: func(s *Spec) {
				s.Main.EndTime = s.Main.StartTime
			},
			wantMsg: "Main start time must precede end time.",
		},
		{
			name: "pre slot in the past",
			mutate: func(s *Spec) {
				s.Pre = &SlotSpec{LocationID: 2, StartTime: testNow.Add(-time.Hour), EndTime: testNow.Add(time.Hour)}
			},
			wantMsg: "Pre start time must be in the future.",
		},
		{
			name: "unknown location",
			mutate: func(s *Spec) {
				s.Main.LocationID = 999
			},
			wantMsg: "Main locationId 999 not found.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFakeRepo()
			gw := newFakeGateway()
			svc := newTestService(repo, gw, &recordingListener{})
			fixedClock(svc)

			spec := mainSpec(42)
			tc.mutate(&spec)

			_, err := svc.Create(context.Background(), "test-user", spec)
			var verr ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.wantMsg, verr.Msg)

			// Validation failures never reach the gateway's mutating calls.
			assert.Empty(t, gw.createCalls)
			assert.Empty(t, gw.deleteCalls)
			assert.Empty(t, repo.bookings)
		})
	}
}

func TestCreateMidSequenceGatewayFailure(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	gw.failCreateFrom = 2
	listener := &recordingListener{}
	svc := newTestService(repo, gw, listener)
	fixedClock(svc)

	_, err := svc.Create(context.Background(), "test-user", fullSpec(42))
	var uerr *gateway.UpstreamError
	require.ErrorAs(t, err, &uerr)

	// PRE succeeded, MAIN failed: creation stops there, POST is never tried.
	require.Len(t, gw.createCalls, 2)
	assert.Equal(t, int64(2), gw.createCalls[0].LocationID)
	assert.Equal(t, int64(1), gw.createCalls[1].LocationID)

	// The PRE appointment stays behind as a gateway orphan. No compensating
	// delete; the linker regroups orphans on its next pass.
	assert.Len(t, gw.appointments, 1)
	assert.Empty(t, gw.deleteCalls)

	// Nothing committed locally, nobody notified.
	assert.Empty(t, repo.bookings)
	assert.Empty(t, repo.rows)
	assert.Empty(t, repo.events)
	assert.Empty(t, listener.created)
}

func TestCreatePersistenceFailureLeavesGatewayOrphans(t *testing.T) {
	repo := newFakeRepo()
	repo.failCreate = true
	gw := newFakeGateway()
	listener := &recordingListener{}
	svc := newTestService(repo, gw, listener)
	fixedClock(svc)

	_, err := svc.Create(context.Background(), "test-user", mainSpec(42))
	require.Error(t, err)

	// The gateway appointment stays behind; no local row, no listener call.
	assert.Len(t, gw.createCalls, 1)
	assert.Len(t, gw.appointments, 1)
	assert.Empty(t, repo.bookings)
	assert.Empty(t, listener.created)
}

func TestUpdateReplacesSlots(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	listener := &recordingListener{}
	svc := newTestService(repo, gw, listener)
	fixedClock(svc)

	ctx := context.Background()
	id, err := svc.Create(ctx, "test-user", fullSpec(42))
	require.NoError(t, err)

	created, err := repo.GetBooking(ctx, id)
	require.NoError(t, err)
	oldIDs := created.ExternalIDs()
	require.Len(t, oldIDs, 3)

	// Update drops PRE and POST entirely. Replace, not merge: the absent
	// slots must disappear.
	update := mainSpec(42)
	update.CourtName = "Leeds Crown Court"
	err = svc.Update(ctx, id, "another-user", update)
	require.NoError(t, err)

	b, err := repo.GetBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Leeds Crown Court", b.CourtName)
	require.NotNil(t, b.Main)
	assert.Nil(t, b.Pre)
	assert.Nil(t, b.Post)
	assert.Equal(t, "test-user", b.CreatedBy, "creator survives updates")

	// All three old gateway appointments deleted in one batch, one new created.
	require.Len(t, gw.deleteCalls, 1)
	assert.ElementsMatch(t, oldIDs, gw.deleteCalls[0])
	assert.NotContains(t, oldIDs, b.Main.ExternalID)

	events, err := repo.ListEventsForBooking(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventUpdate, events[1].EventType)
	assert.Equal(t, "another-user", events[1].ActorID)
	assert.Nil(t, events[1].Pre)

	assert.Equal(t, []int64{id}, listener.updated)
}

func TestUpdateToleratesAppointmentsAlreadyGoneUpstream(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	svc := newTestService(repo, gw, &recordingListener{})
	fixedClock(svc)

	ctx := context.Background()
	id, err := svc.Create(ctx, "test-user", mainSpec(42))
	require.NoError(t, err)

	// The old appointments were already removed in the scheduling system.
	// Update still goes through, same as Delete.
	gw.deleteErr = gateway.ErrNotFound

	update := mainSpec(42)
	update.CourtName = "Leeds Crown Court"
	err = svc.Update(ctx, id, "test-user", update)
	require.NoError(t, err)

	b, err := repo.GetBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Leeds Crown Court", b.CourtName)
	require.Len(t, gw.deleteCalls, 1)
}

func TestUpdateUnknownBooking(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	svc := newTestService(repo, gw, &recordingListener{})
	fixedClock(svc)

	err := svc.Update(context.Background(), 77, "test-user", mainSpec(42))
	assert.ErrorIs(t, err, ErrBookingNotFound)
	assert.Empty(t, gw.deleteCalls)
}

func TestDeleteRemovesBookingAndAppointments(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	listener := &recordingListener{}
	svc := newTestService(repo, gw, listener)
	fixedClock(svc)

	ctx := context.Background()
	id, err := svc.Create(ctx, "test-user", fullSpec(42))
	require.NoError(t, err)

	err = svc.Delete(ctx, id, "test-user")
	require.NoError(t, err)

	_, err = repo.GetBooking(ctx, id)
	assert.ErrorIs(t, err, ErrBookingNotFound)
	assert.Empty(t, gw.appointments)
	assert.Empty(t, repo.rows)

	events, err := repo.ListEventsForBooking(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventDelete, events[1].EventType)
	// DELETE events carry no slot snapshots.
	assert.Nil(t, events[1].Main)
	assert.Nil(t, events[1].Pre)
	assert.Nil(t, events[1].Post)

	assert.Equal(t, []int64{id}, listener.deleted)
}

func TestGetReturnsLiveState(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	svc := newTestService(repo, gw, &recordingListener{})
	fixedClock(svc)

	ctx := context.Background()
	id, err := svc.Create(ctx, "test-user", fullSpec(42))
	require.NoError(t, err)

	v, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, v.ID)
	require.NotNil(t, v.Main)
	require.NotNil(t, v.Pre)
	require.NotNil(t, v.Post)
	assert.Equal(t, "remand hearing", v.Comment, "comment comes from the live main appointment")

	// Get is read-only and idempotent.
	again, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, v, again)
}

func TestGetMainMissingUpstream(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	svc := newTestService(repo, gw, &recordingListener{})
	fixedClock(svc)

	ctx := context.Background()
	id, err := svc.Create(ctx, "test-user", mainSpec(42))
	require.NoError(t, err)

	b, err := repo.GetBooking(ctx, id)
	require.NoError(t, err)
	delete(gw.appointments, b.Main.ExternalID)

	// The scheduling system is the source of truth: local rows alone do not
	// make the booking real.
	_, err = svc.Get(ctx, id)
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestGetPreMissingUpstreamOmitted(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	svc := newTestService(repo, gw, &recordingListener{})
	fixedClock(svc)

	ctx := context.Background()
	id, err := svc.Create(ctx, "test-user", fullSpec(42))
	require.NoError(t, err)

	b, err := repo.GetBooking(ctx, id)
	require.NoError(t, err)
	delete(gw.appointments, b.Pre.ExternalID)

	v, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, v.Pre)
	assert.NotNil(t, v.Main)
	assert.NotNil(t, v.Post)
}

func TestUpdateCommentHitsEverySlot(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	svc := newTestService(repo, gw, &recordingListener{})
	fixedClock(svc)

	ctx := context.Background()
	id, err := svc.Create(ctx, "test-user", fullSpec(42))
	require.NoError(t, err)

	err = svc.UpdateComment(ctx, id, "moved to courtroom 4")
	require.NoError(t, err)

	b, err := repo.GetBooking(ctx, id)
	require.NoError(t, err)
	require.Len(t, gw.commentCalls, 3)
	for _, a := range b.Appointments() {
		assert.Equal(t, "moved to courtroom 4", gw.commentCalls[a.ExternalID])
	}

	// The local comment column stays untouched; Get re-fetches it live.
	assert.Equal(t, "remand hearing", b.Comment)
	v, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "moved to courtroom 4", v.Comment)
}

func TestDeleteForSubject(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	svc := newTestService(repo, gw, &recordingListener{})
	fixedClock(svc)

	ctx := context.Background()
	_, err := svc.Create(ctx, "test-user", mainSpec(42))
	require.NoError(t, err)
	_, err = svc.Create(ctx, "test-user", fullSpec(42))
	require.NoError(t, err)
	keep, err := svc.Create(ctx, "test-user", mainSpec(43))
	require.NoError(t, err)

	deleted, err := svc.DeleteForSubject(ctx, 42, "event-listener")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	left, err := repo.FindBookingsForSubject(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, left)

	_, err = repo.GetBooking(ctx, keep)
	assert.NoError(t, err, "other subjects' bookings untouched")
}

func TestRemoveAppointmentMainDeletesBooking(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	svc := newTestService(repo, gw, &recordingListener{})
	fixedClock(svc)

	ctx := context.Background()
	id, err := svc.Create(ctx, "test-user", fullSpec(42))
	require.NoError(t, err)
	b, err := repo.GetBooking(ctx, id)
	require.NoError(t, err)

	err = svc.RemoveAppointment(ctx, b.Main.ExternalID, "event-listener")
	require.NoError(t, err)

	_, err = repo.GetBooking(ctx, id)
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestRemoveAppointmentPreDropsSlot(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	svc := newTestService(repo, gw, &recordingListener{})
	fixedClock(svc)

	ctx := context.Background()
	id, err := svc.Create(ctx, "test-user", fullSpec(42))
	require.NoError(t, err)
	b, err := repo.GetBooking(ctx, id)
	require.NoError(t, err)

	err = svc.RemoveAppointment(ctx, b.Pre.ExternalID, "event-listener")
	require.NoError(t, err)

	after, err := repo.GetBooking(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, after.Pre)
	assert.NotNil(t, after.Main)
	assert.NotNil(t, after.Post)
}

func TestRemoveAppointmentUnknown(t *testing.T) {
	repo := newFakeRepo()
	gw := newFakeGateway()
	svc := newTestService(repo, gw, &recordingListener{})
	fixedClock(svc)

	err := svc.RemoveAppointment(context.Background(), 555, "event-listener")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}
