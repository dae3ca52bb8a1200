package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/courtlink/whereabouts/internal/booking"
	"github.com/courtlink/whereabouts/internal/gateway"
)

const actorHeader = "X-Username"

func actorFrom(r *http.Request) string {
	if a := r.Header.Get(actorHeader); a != "" {
		return a
	}
	return "anonymous"
}

func toSpec(req BookingRequest) booking.Spec {
	spec := booking.Spec{
		SubjectID:   req.SubjectID,
		CourtName:   req.Court,
		CourtID:     req.CourtID,
		HearingType: req.HearingType,
		MadeByCourt: req.MadeByCourt,
		Comment:     req.Comment,
	}
	conv := func(s *SlotRequest) *booking.SlotSpec {
		if s == nil {
			return nil
		}
		return &booking.SlotSpec{LocationID: s.LocationID, StartTime: s.StartTime, EndTime: s.EndTime}
	}
	spec.Pre = conv(req.Pre)
	spec.Main = conv(req.Main)
	spec.Post = conv(req.Post)
	return spec
}

func createBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		id, err := svc.Create(r.Context(), actorFrom(r), toSpec(req))
		if err != nil {
			handleBookingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
	}
}

func getBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookingID(w, r)
		if !ok {
			return
		}

		v, err := svc.Get(r.Context(), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		resp := BookingResponse{
			ID:          v.ID,
			SubjectID:   v.SubjectID,
			Court:       v.CourtName,
			CourtID:     v.CourtID,
			HearingType: v.HearingType,
			MadeByCourt: v.MadeByCourt,
			PrisonID:    v.PrisonID,
			Comment:     v.Comment,
		}
		conv := func(s *booking.SlotView) *SlotResponse {
			if s == nil {
				return nil
			}
			return &SlotResponse{
				AppointmentID: s.ExternalID,
				LocationID:    s.LocationID,
				StartTime:     s.StartTime,
				EndTime:       s.EndTime,
			}
		}
		resp.Pre = conv(v.Pre)
		resp.Main = conv(v.Main)
		resp.Post = conv(v.Post)

		writeJSON(w, http.StatusOK, resp)
	}
}

func updateBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookingID(w, r)
		if !ok {
			return
		}

		var req BookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if err := svc.Update(r.Context(), id, actorFrom(r), toSpec(req)); err != nil {
			handleBookingError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookingID(w, r)
		if !ok {
			return
		}

		if err := svc.Delete(r.Context(), id, actorFrom(r)); err != nil {
			handleBookingError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func updateCommentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookingID(w, r)
		if !ok {
			return
		}

		var req CommentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if err := svc.UpdateComment(r.Context(), id, req.Comment); err != nil {
			handleBookingError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func lookupAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AppointmentLookupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if len(req.ExternalIDs) == 0 {
			writeJSON(w, http.StatusOK, []AppointmentRecordResponse{})
			return
		}

		recs, err := svc.FindAppointments(r.Context(), req.ExternalIDs)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		resp := make([]AppointmentRecordResponse, 0, len(recs))
		for _, rec := range recs {
			resp = append(resp, AppointmentRecordResponse{
				ID:          rec.ID,
				BookingID:   rec.BookingID,
				SlotType:    string(rec.SlotType),
				ExternalID:  rec.ExternalID,
				SubjectID:   rec.SubjectID,
				Court:       rec.CourtName,
				MadeByCourt: rec.MadeByCourt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func linkAppointmentsHandler(linker *booking.Linker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := linker.Run(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "linker_failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, LinkReportResponse{
			Subjects:       report.Subjects,
			BookingsLinked: report.BookingsLinked,
			Skipped:        report.Skipped,
		})
	}
}

func replayBookingHandler(replayer *booking.Replayer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookingID(w, r)
		if !ok {
			return
		}

		rep, err := replayer.Replay(r.Context(), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		resp := ReplayResponse{
			BookingID:   rep.BookingID,
			Cancelled:   rep.Cancelled,
			Court:       rep.CourtName,
			CourtID:     rep.CourtID,
			MadeByCourt: rep.MadeByCourt,
			Probation:   rep.Probation,
			PrisonID:    rep.PrisonID,
		}
		for _, ev := range rep.Events {
			resp.Events = append(resp.Events, ReplayEventResponse{
				EventID:   ev.EventID,
				EventType: string(ev.EventType),
				EventTime: ev.EventTime,
			})
		}
		conv := func(s *booking.LocationTimeSlot) *ReplaySlotResponse {
			if s == nil {
				return nil
			}
			return &ReplaySlotResponse{
				LocationID: s.LocationID,
				Date:       s.Date,
				StartTime:  s.StartTime,
				EndTime:    s.EndTime,
			}
		}
		resp.Pre = conv(rep.Pre)
		resp.Main = conv(rep.Main)
		resp.Post = conv(rep.Post)

		writeJSON(w, http.StatusOK, resp)
	}
}

// exportEventsHandler streams booking events in an operational window as CSV,
// one row per event.
func exportEventsHandler(repo booking.Repository, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startDate, err := time.Parse("2006-01-02", r.URL.Query().Get("start-date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_date", "start-date must be YYYY-MM-DD")
			return
		}
		days := 7
		if d := r.URL.Query().Get("days"); d != "" {
			days, err = strconv.Atoi(d)
			if err != nil || days < 1 || days > 365 {
				writeError(w, http.StatusBadRequest, "invalid_days", "days must be between 1 and 365")
				return
			}
		}

		events, err := repo.ListEventsBetween(r.Context(), startDate, startDate.AddDate(0, 0, days))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		w.Header().Set("Content-Type", "text/csv")
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{
			"eventId", "eventType", "eventTime", "bookingId", "subjectId",
			"court", "courtId", "madeByTheCourt", "comment",
			"mainLocationId", "mainStartTime", "mainEndTime",
		})
		for _, ev := range events {
			row := []string{
				strconv.FormatInt(ev.EventID, 10),
				string(ev.EventType),
				ev.EventTime.Format(time.RFC3339),
				strconv.FormatInt(ev.BookingID, 10),
				strconv.FormatInt(ev.SubjectID, 10),
				ev.CourtName,
				ev.CourtID,
				strconv.FormatBool(ev.MadeByCourt),
				ev.Comment,
				"", "", "",
			}
			if ev.Main != nil {
				row[9] = strconv.FormatInt(ev.Main.LocationID, 10)
				row[10] = ev.Main.StartTime.Format(time.RFC3339)
				row[11] = ev.Main.EndTime.Format(time.RFC3339)
			}
			_ = cw.Write(row)
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			// Headers are already out, so the client sees a truncated body.
			logger.WithError(err).Warn("event export response truncated")
		}
	}
}

func bookingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func handleBookingError(w http.ResponseWriter, err error) {
	var validation booking.ValidationError
	var integrity booking.DataIntegrityError
	var upstream *gateway.UpstreamError

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_error", validation.Msg)
	case errors.Is(err, booking.ErrBookingNotFound),
		errors.Is(err, booking.ErrAppointmentNotFound),
		errors.Is(err, booking.ErrEventsNotFound),
		errors.Is(err, gateway.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &upstream):
		// Pass the original upstream status/body through where it exists.
		if upstream.Status != 0 {
			writeError(w, http.StatusBadGateway, "upstream_error", upstream.Body)
			return
		}
		writeError(w, http.StatusBadGateway, "upstream_error", upstream.Error())
	case errors.As(err, &integrity):
		writeError(w, http.StatusInternalServerError, "data_integrity_error", integrity.Msg)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
