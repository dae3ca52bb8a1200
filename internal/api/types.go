package api

import (
	"time"
)

// SlotRequest describes one requested hearing slot.
type SlotRequest struct {
	LocationID int64     `json:"locationId"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
}

// BookingRequest is the body for create and update.
type BookingRequest struct {
	SubjectID   int64        `json:"bookingId"`
	Court       string       `json:"court,omitempty"`
	CourtID     string       `json:"courtId,omitempty"`
	HearingType string       `json:"hearingType,omitempty"`
	MadeByCourt bool         `json:"madeByTheCourt"`
	Comment     string       `json:"comment,omitempty"`
	Pre         *SlotRequest `json:"pre,omitempty"`
	Main        *SlotRequest `json:"main,omitempty"`
	Post        *SlotRequest `json:"post,omitempty"`
}

type SlotResponse struct {
	AppointmentID int64     `json:"appointmentId"`
	LocationID    int64     `json:"locationId"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime"`
}

type BookingResponse struct {
	ID          int64         `json:"videoLinkBookingId"`
	SubjectID   int64         `json:"bookingId"`
	Court       string        `json:"court,omitempty"`
	CourtID     string        `json:"courtId,omitempty"`
	HearingType string        `json:"hearingType,omitempty"`
	MadeByCourt bool          `json:"madeByTheCourt"`
	PrisonID    string        `json:"agencyId,omitempty"`
	Comment     string        `json:"comment,omitempty"`
	Pre         *SlotResponse `json:"pre,omitempty"`
	Main        *SlotResponse `json:"main,omitempty"`
	Post        *SlotResponse `json:"post,omitempty"`
}

type CreatedResponse struct {
	ID int64 `json:"videoLinkBookingId"`
}

type CommentRequest struct {
	Comment string `json:"comment"`
}

type AppointmentLookupRequest struct {
	ExternalIDs []int64 `json:"appointmentIds"`
}

type AppointmentRecordResponse struct {
	ID          int64  `json:"id"`
	BookingID   *int64 `json:"videoLinkBookingId,omitempty"`
	SlotType    string `json:"hearingType"`
	ExternalID  int64  `json:"appointmentId"`
	SubjectID   int64  `json:"bookingId"`
	Court       string `json:"court,omitempty"`
	MadeByCourt bool   `json:"madeByTheCourt"`
}

type LinkReportResponse struct {
	Subjects       int `json:"subjects"`
	BookingsLinked int `json:"bookingsLinked"`
	Skipped        int `json:"skipped"`
}

type ReplaySlotResponse struct {
	LocationID int64  `json:"locationId"`
	Date       string `json:"date"`
	StartTime  string `json:"startTime"`
	EndTime    string `json:"endTime"`
}

type ReplayEventResponse struct {
	EventID   int64     `json:"eventId"`
	EventType string    `json:"eventType"`
	EventTime time.Time `json:"eventTime"`
}

type ReplayResponse struct {
	BookingID   int64                 `json:"videoLinkBookingId"`
	Cancelled   bool                  `json:"cancelled"`
	Events      []ReplayEventResponse `json:"events"`
	Court       string                `json:"court,omitempty"`
	CourtID     string                `json:"courtId,omitempty"`
	MadeByCourt bool                  `json:"madeByTheCourt"`
	Probation   bool                  `json:"probation"`
	PrisonID    string                `json:"agencyId,omitempty"`
	Pre         *ReplaySlotResponse   `json:"pre,omitempty"`
	Main        *ReplaySlotResponse   `json:"main,omitempty"`
	Post        *ReplaySlotResponse   `json:"post,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
