package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const appointmentColumns = `
	id, booking_id, slot_type, external_id, subject_id, location_id,
	start_time, end_time, court_name, made_by_court, created_at`

func scanAppointment(row pgx.Row) (*AppointmentRecord, error) {
	var a AppointmentRecord
	err := row.Scan(
		&a.ID,
		&a.BookingID,
		&a.SlotType,
		&a.ExternalID,
		&a.SubjectID,
		&a.LocationID,
		&a.StartTime,
		&a.EndTime,
		&a.CourtName,
		&a.MadeByCourt,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanBooking(row pgx.Row) (*BookingRecord, error) {
	var b BookingRecord
	err := row.Scan(
		&b.ID,
		&b.SubjectID,
		&b.CourtName,
		&b.CourtID,
		&b.HearingType,
		&b.MadeByCourt,
		&b.PrisonID,
		&b.Comment,
		&b.CreatedBy,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

func scanEvent(row pgx.Row) (*BookingEvent, error) {
	var ev BookingEvent
	slots := map[SlotType]*struct {
		externalID *int64
		locationID *int64
		start      *time.Time
		end        *time.Time
	}{
		SlotPre:  {},
		SlotMain: {},
		SlotPost: {},
	}

	err := row.Scan(
		&ev.EventID,
		&ev.EventType,
		&ev.EventTime,
		&ev.ActorID,
		&ev.BookingID,
		&ev.SubjectID,
		&ev.CourtName,
		&ev.CourtID,
		&ev.HearingType,
		&ev.MadeByCourt,
		&ev.Comment,
		&slots[SlotPre].externalID, &slots[SlotPre].locationID, &slots[SlotPre].start, &slots[SlotPre].end,
		&slots[SlotMain].externalID, &slots[SlotMain].locationID, &slots[SlotMain].start, &slots[SlotMain].end,
		&slots[SlotPost].externalID, &slots[SlotPost].locationID, &slots[SlotPost].start, &slots[SlotPost].end,
	)
	if err != nil {
		return nil, err
	}

	for _, t := range Slots() {
		s := slots[t]
		if s.externalID == nil || s.start == nil || s.end == nil {
			continue
		}
		var locID int64
		if s.locationID != nil {
			locID = *s.locationID
		}
		ev.SetSlot(t, &EventSlot{
			ExternalID: *s.externalID,
			LocationID: locID,
			StartTime:  *s.start,
			EndTime:    *s.end,
		})
	}
	return &ev, nil
}

const eventColumns = `
	event_id, event_type, event_time, actor_id, booking_id, subject_id,
	court_name, court_id, hearing_type, made_by_court, comment,
	pre_external_id, pre_location_id, pre_start_time, pre_end_time,
	main_external_id, main_location_id, main_start_time, main_end_time,
	post_external_id, post_location_id, post_start_time, post_end_time`

// Interface methods

func (r *PgRepository) GetBooking(ctx context.Context, id int64) (*BookingRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, subject_id, court_name, court_id, hearing_type, made_by_court,
		       prison_id, comment, created_by, created_at, updated_at
		FROM video_link_booking
		WHERE id = $1
	`, id)
	b, err := scanBooking(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadAppointments(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *PgRepository) loadAppointments(ctx context.Context, b *BookingRecord) error {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM video_link_appointment
		WHERE booking_id = $1
	`, b.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return err
		}
		b.SetSlot(a.SlotType, a)
	}
	return rows.Err()
}

func (r *PgRepository) CreateBooking(ctx context.Context, b *BookingRecord, ev BookingEvent) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO video_link_booking
			(subject_id, court_name, court_id, hearing_type, made_by_court,
			 prison_id, comment, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING id
	`, b.SubjectID, b.CourtName, b.CourtID, b.HearingType, b.MadeByCourt,
		b.PrisonID, b.Comment, b.CreatedBy)
	if err := row.Scan(&b.ID); err != nil {
		return 0, fmt.Errorf("insert booking: %w", err)
	}

	if err := insertAppointments(ctx, tx, b); err != nil {
		return 0, err
	}

	ev.BookingID = b.ID
	if err := insertEvent(ctx, tx, ev); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return b.ID, nil
}

// UpdateBooking replaces the booking row's fields and its whole slot set.
// Absent slots disappear; this mirrors the replace-not-merge update contract.
func (r *PgRepository) UpdateBooking(ctx context.Context, b *BookingRecord, ev BookingEvent) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE video_link_booking
		SET subject_id = $2,
		    court_name = $3,
		    court_id = $4,
		    hearing_type = $5,
		    made_by_court = $6,
		    prison_id = $7,
		    comment = $8,
		    updated_at = now()
		WHERE id = $1
	`, b.ID, b.SubjectID, b.CourtName, b.CourtID, b.HearingType,
		b.MadeByCourt, b.PrisonID, b.Comment)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM video_link_appointment WHERE booking_id = $1
	`, b.ID); err != nil {
		return fmt.Errorf("delete replaced appointments: %w", err)
	}

	if err := insertAppointments(ctx, tx, b); err != nil {
		return err
	}

	ev.BookingID = b.ID
	if err := insertEvent(ctx, tx, ev); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) DeleteBooking(ctx context.Context, id int64, ev BookingEvent) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Slot rows cascade with the booking row.
	tag, err := tx.Exec(ctx, `
		DELETE FROM video_link_booking WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}

	ev.BookingID = id
	if err := insertEvent(ctx, tx, ev); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) FindBookingsForSubject(ctx context.Context, subjectID int64) ([]BookingRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, subject_id, court_name, court_id, hearing_type, made_by_court,
		       prison_id, comment, created_by, created_at, updated_at
		FROM video_link_booking
		WHERE subject_id = $1
		ORDER BY id
	`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BookingRecord
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		if err := r.loadAppointments(ctx, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *PgRepository) FindUnlinkedAppointments(ctx context.Context) ([]AppointmentRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM video_link_appointment
		WHERE booking_id IS NULL
		ORDER BY subject_id, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentRecord
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// LinkBooking creates a booking row and re-points the given dangling
// appointment rows at it in one transaction.
func (r *PgRepository) LinkBooking(ctx context.Context, b *BookingRecord) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO video_link_booking
			(subject_id, court_name, court_id, hearing_type, made_by_court,
			 prison_id, comment, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING id
	`, b.SubjectID, b.CourtName, b.CourtID, b.HearingType, b.MadeByCourt,
		b.PrisonID, b.Comment, b.CreatedBy)
	if err := row.Scan(&b.ID); err != nil {
		return 0, fmt.Errorf("insert linked booking: %w", err)
	}

	for _, rec := range []*AppointmentRecord{b.Pre, b.Main, b.Post} {
		if rec == nil {
			continue
		}
		tag, err := tx.Exec(ctx, `
			UPDATE video_link_appointment
			SET booking_id = $2,
			    location_id = $3,
			    start_time = $4,
			    end_time = $5
			WHERE id = $1 AND booking_id IS NULL
		`, rec.ID, b.ID, rec.LocationID, rec.StartTime, rec.EndTime)
		if err != nil {
			return 0, fmt.Errorf("link appointment %d: %w", rec.ID, err)
		}
		if tag.RowsAffected() == 0 {
			// Another writer claimed the row since the scan; abandon the group.
			return 0, fmt.Errorf("appointment %d no longer unlinked", rec.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return b.ID, nil
}

func (r *PgRepository) FindAppointmentsByExternalIDs(ctx context.Context, externalIDs []int64) ([]AppointmentRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM video_link_appointment
		WHERE external_id = ANY($1)
		ORDER BY id
	`, externalIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentRecord
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListEventsForBooking(ctx context.Context, bookingID int64) ([]BookingEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM video_link_booking_event
		WHERE booking_id = $1
		ORDER BY event_id
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectEvents(rows)
}

func (r *PgRepository) ListEventsBetween(ctx context.Context, from, to time.Time) ([]BookingEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM video_link_booking_event
		WHERE event_time >= $1 AND event_time < $2
		ORDER BY event_id
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]BookingEvent, error) {
	var result []BookingEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ev)
	}
	return result, rows.Err()
}

func insertAppointments(ctx context.Context, tx pgx.Tx, b *BookingRecord) error {
	for _, a := range b.Appointments() {
		row := tx.QueryRow(ctx, `
			INSERT INTO video_link_appointment
				(booking_id, slot_type, external_id, subject_id, location_id,
				 start_time, end_time, court_name, made_by_court, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
			RETURNING id
		`, b.ID, a.SlotType, a.ExternalID, a.SubjectID, a.LocationID,
			a.StartTime, a.EndTime, a.CourtName, a.MadeByCourt)
		if err := row.Scan(&a.ID); err != nil {
			return fmt.Errorf("insert %s appointment: %w", a.SlotType.Label(), err)
		}
		bid := b.ID
		a.BookingID = &bid
	}
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev BookingEvent) error {
	args := []any{
		ev.EventType, ev.EventTime, ev.ActorID, ev.BookingID, ev.SubjectID,
		ev.CourtName, ev.CourtID, ev.HearingType, ev.MadeByCourt, ev.Comment,
	}
	for _, t := range Slots() {
		s := ev.Slot(t)
		if s == nil {
			args = append(args, nil, nil, nil, nil)
			continue
		}
		args = append(args, s.ExternalID, s.LocationID, s.StartTime, s.EndTime)
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO video_link_booking_event
			(event_type, event_time, actor_id, booking_id, subject_id,
			 court_name, court_id, hearing_type, made_by_court, comment,
			 pre_external_id, pre_location_id, pre_start_time, pre_end_time,
			 main_external_id, main_location_id, main_start_time, main_end_time,
			 post_external_id, post_location_id, post_start_time, post_end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`, args...)
	if err != nil {
		return fmt.Errorf("insert booking event: %w", err)
	}
	return nil
}
