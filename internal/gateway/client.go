// Package gateway is the HTTP client for the external prison scheduling
// system, the system of record for calendar appointments. Local appointment
// rows only cache what this system reports.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Propagation controls whether the scheduling system emits its own downstream
// change notifications for a mutation. Booking writes pass Deny because the
// booking event log is the authoritative trigger.
type Propagation string

const (
	PropagationAllow Propagation = "ALLOW"
	PropagationDeny  Propagation = "DENY"
)

// SubjectPageSize is how many appointments one page of the per-subject listing
// returns. Iteration stops on the first empty page.
const SubjectPageSize = 200

// VideoLinkCategory is the appointment category the booking service owns.
const VideoLinkCategory = "VLB"

type Client struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// NewAppointment is the create-appointment request body.
type NewAppointment struct {
	Category   string    `json:"appointmentType"`
	LocationID int64     `json:"locationId"`
	Comment    string    `json:"comment,omitempty"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
}

// CreatedAppointment is the create-appointment response.
type CreatedAppointment struct {
	ExternalID int64     `json:"appointmentEventId"`
	AgencyID   string    `json:"agencyId"`
	LocationID int64     `json:"locationId"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
}

// Appointment is the gateway's view of an existing appointment.
type Appointment struct {
	ExternalID int64     `json:"appointmentEventId"`
	SubjectID  int64     `json:"bookingId"`
	Category   string    `json:"appointmentTypeCode"`
	LocationID int64     `json:"locationId"`
	AgencyID   string    `json:"agencyId"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	Comment    string    `json:"comment,omitempty"`
}

// Location describes a bookable room.
type Location struct {
	LocationID  int64  `json:"locationId"`
	Description string `json:"description"`
	AgencyID    string `json:"agencyId"`
}

// CreateAppointment books one appointment for the subject and returns the
// scheduling system's identity for it.
func (c *Client) CreateAppointment(ctx context.Context, subjectID int64, appt NewAppointment, prop Propagation) (*CreatedAppointment, error) {
	url := fmt.Sprintf("%s/bookings/%d/appointments?propagation=%s", c.baseURL, subjectID, prop)
	var created CreatedAppointment
	if err := c.do(ctx, http.MethodPost, url, appt, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteAppointments removes the given appointments in one call. Ids already
// missing upstream are tolerated: the system answers 404 per id internally
// and the batch as a whole still succeeds.
func (c *Client) DeleteAppointments(ctx context.Context, ids []int64, prop Propagation) error {
	if len(ids) == 0 {
		return nil
	}
	url := fmt.Sprintf("%s/appointments/delete?propagation=%s", c.baseURL, prop)
	return c.do(ctx, http.MethodPost, url, ids, nil)
}

// GetAppointment fetches one appointment. Returns ErrNotFound when the
// appointment no longer exists upstream.
func (c *Client) GetAppointment(ctx context.Context, externalID int64) (*Appointment, error) {
	url := fmt.Sprintf("%s/appointments/%d", c.baseURL, externalID)
	var appt Appointment
	if err := c.do(ctx, http.MethodGet, url, nil, &appt); err != nil {
		return nil, err
	}
	return &appt, nil
}

// GetAppointmentsForSubject returns one page of the subject's appointments.
// An empty slice means the listing is exhausted.
func (c *Client) GetAppointmentsForSubject(ctx context.Context, subjectID int64, offset, limit int) ([]Appointment, error) {
	url := fmt.Sprintf("%s/bookings/%d/appointments?offset=%s&limit=%s",
		c.baseURL, subjectID, strconv.Itoa(offset), strconv.Itoa(limit))
	var appts []Appointment
	if err := c.do(ctx, http.MethodGet, url, nil, &appts); err != nil {
		return nil, err
	}
	return appts, nil
}

// GetLocation resolves a location id. Returns ErrNotFound for unknown ids.
func (c *Client) GetLocation(ctx context.Context, locationID int64) (*Location, error) {
	url := fmt.Sprintf("%s/locations/%d", c.baseURL, locationID)
	var loc Location
	if err := c.do(ctx, http.MethodGet, url, nil, &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

// UpdateAppointmentComment replaces the comment on one appointment.
func (c *Client) UpdateAppointmentComment(ctx context.Context, externalID int64, comment string, prop Propagation) error {
	url := fmt.Sprintf("%s/appointments/%d/comment?propagation=%s", c.baseURL, externalID, prop)
	body := map[string]string{"comment": comment}
	return c.do(ctx, http.MethodPut, url, body, nil)
}

func (c *Client) do(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &UpstreamError{Op: method + " " + url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.WithFields(logrus.Fields{
			"method": method,
			"url":    url,
			"status": resp.StatusCode,
		}).Warn("scheduling gateway returned error")
		return &UpstreamError{Op: method + " " + url, Status: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
