package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtlink/whereabouts/internal/db"
)

// Seeds a local database with bookings plus a handful of dangling
// appointment rows so the linker has something to chew on.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	if err := db.Migrate(dsn); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedBookings(context.Background(), pool, 200); err != nil {
		log.Fatalf("seed bookings: %v", err)
	}
	if err := seedDanglingAppointments(context.Background(), pool, 30); err != nil {
		log.Fatalf("seed dangling appointments: %v", err)
	}

	log.Println("seed complete")
}

var courts = []string{
	"York Crown Court",
	"Leeds Crown Court",
	"Sheffield Magistrates Court",
	"Hull Crown Court",
	"Bradford Crown Court",
	"Doncaster Magistrates Court",
}

var prisons = []string{"WWI", "LEI", "MDI", "HLI"}

func seedBookings(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d bookings", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	extID := int64(1_000_000)
	for i := 0; i < count; i++ {
		subjectID := int64(gofakeit.Number(100_000, 999_999))
		court := courts[gofakeit.Number(0, len(courts)-1)]
		prison := prisons[gofakeit.Number(0, len(prisons)-1)]
		madeByCourt := gofakeit.Bool()

		var bookingID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO video_link_booking
				(subject_id, court_name, made_by_court, prison_id, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'seed', now(), now())
			RETURNING id
		`, subjectID, court, madeByCourt, prison).Scan(&bookingID)
		if err != nil {
			return err
		}

		day := gofakeit.Number(1, 60)
		start := time.Now().AddDate(0, 0, day).Truncate(time.Hour).Add(10 * time.Hour)
		end := start.Add(30 * time.Minute)
		locationID := int64(gofakeit.Number(1, 500))

		extID++
		_, err = tx.Exec(ctx, `
			INSERT INTO video_link_appointment
				(booking_id, slot_type, external_id, subject_id, location_id,
				 start_time, end_time, court_name, made_by_court, created_at)
			VALUES ($1, 'MAIN', $2, $3, $4, $5, $6, $7, $8, now())
		`, bookingID, extID, subjectID, locationID, start, end, court, madeByCourt)
		if err != nil {
			return err
		}

		// roughly half the bookings get a pre slot
		if gofakeit.Bool() {
			extID++
			_, err = tx.Exec(ctx, `
				INSERT INTO video_link_appointment
					(booking_id, slot_type, external_id, subject_id, location_id,
					 start_time, end_time, court_name, made_by_court, created_at)
				VALUES ($1, 'PRE', $2, $3, $4, $5, $6, $7, $8, now())
			`, bookingID, extID, subjectID, locationID, start.Add(-20*time.Minute), start, court, madeByCourt)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

func seedDanglingAppointments(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d dangling appointments", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	extID := int64(9_000_000)
	for i := 0; i < count; i++ {
		subjectID := int64(gofakeit.Number(100_000, 999_999))
		court := courts[gofakeit.Number(0, len(courts)-1)]
		start := time.Now().AddDate(0, 0, gofakeit.Number(1, 30)).Truncate(time.Hour).Add(14 * time.Hour)

		extID++
		_, err := tx.Exec(ctx, `
			INSERT INTO video_link_appointment
				(booking_id, slot_type, external_id, subject_id, location_id,
				 start_time, end_time, court_name, made_by_court, created_at)
			VALUES (NULL, 'MAIN', $1, $2, $3, $4, $5, $6, TRUE, now())
		`, extID, subjectID, int64(gofakeit.Number(1, 500)), start, start.Add(30*time.Minute), court)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
