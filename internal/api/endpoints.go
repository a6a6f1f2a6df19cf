package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tileworks/internal/model"
)

// AuthResult is the backend session issued for an identity-provider credential.
type AuthResult struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// SignInWithGoogle exchanges a Google ID token for a backend session token.
// It is the only call made without a bearer token.
func (c *Client) SignInWithGoogle(ctx context.Context, idToken string) (*AuthResult, error) {
	var res AuthResult
	body := map[string]string{"idToken": idToken}
	if err := c.doAuth(ctx, "auth.google_signin", http.MethodPost, "/auth/google-signin", body, &res, false); err != nil {
		return nil, err
	}
	if res.Token == "" {
		return nil, &APIError{Status: http.StatusOK, Message: "sign-in response carried no token"}
	}
	return &res, nil
}

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := c.do(ctx, "auth.me", http.MethodGet, "/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// BookingForm carries the text fields of a new booking.
type BookingForm struct {
	ServiceID     string
	JobSize       model.JobSize
	Suburb        string
	Postcode      string
	Description   string
	PreferredDate string
	TimeSlot      model.TimeSlot
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
}

// Fields lists the non-empty form fields in a stable order.
func (f BookingForm) Fields() []Field {
	all := []Field{
		{"serviceId", f.ServiceID},
		{"jobSize", string(f.JobSize)},
		{"suburb", f.Suburb},
		{"postcode", f.Postcode},
		{"description", f.Description},
		{"preferredDate", f.PreferredDate},
		{"timeSlot", string(f.TimeSlot)},
		{"customerName", f.CustomerName},
		{"customerEmail", f.CustomerEmail},
		{"customerPhone", f.CustomerPhone},
	}
	out := all[:0]
	for _, fl := range all {
		if fl.Value != "" {
			out = append(out, fl)
		}
	}
	return out
}

// CreateBooking submits fields and files in one multipart call.
func (c *Client) CreateBooking(ctx context.Context, form BookingForm, files []Upload) (*model.Booking, error) {
	var b model.Booking
	body := &Multipart{Fields: form.Fields(), Files: files}
	if err := c.do(ctx, "bookings.create", http.MethodPost, "/bookings", body, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBookings returns one page of all bookings (admin).
func (c *Client) ListBookings(ctx context.Context, page, size int) (*model.Page[model.Booking], error) {
	var p model.Page[model.Booking]
	if err := c.do(ctx, "bookings.list", http.MethodGet, "/bookings?"+pageQuery(page, size), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// MyBookings returns one page of the signed-in customer's bookings.
func (c *Client) MyBookings(ctx context.Context, page, size int) (*model.Page[model.Booking], error) {
	var p model.Page[model.Booking]
	if err := c.do(ctx, "bookings.mine", http.MethodGet, "/bookings/my-bookings?"+pageQuery(page, size), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// BookingUpdate holds the owner-editable fields. Nil pointers are left unchanged.
type BookingUpdate struct {
	PreferredDate *string         `json:"preferredDate,omitempty"`
	TimeSlot      *model.TimeSlot `json:"timeSlot,omitempty"`
	Description   *string         `json:"description,omitempty"`
	Suburb        *string         `json:"suburb,omitempty"`
	Postcode      *string         `json:"postcode,omitempty"`
	JobSize       *model.JobSize  `json:"jobSize,omitempty"`
	CustomerPhone *string         `json:"customerPhone,omitempty"`
}

// Merge copies every field set in other onto u.
func (u *BookingUpdate) Merge(other BookingUpdate) {
	if other.PreferredDate != nil {
		u.PreferredDate = other.PreferredDate
	}
	if other.TimeSlot != nil {
		u.TimeSlot = other.TimeSlot
	}
	if other.Description != nil {
		u.Description = other.Description
	}
	if other.Suburb != nil {
		u.Suburb = other.Suburb
	}
	if other.Postcode != nil {
		u.Postcode = other.Postcode
	}
	if other.JobSize != nil {
		u.JobSize = other.JobSize
	}
	if other.CustomerPhone != nil {
		u.CustomerPhone = other.CustomerPhone
	}
}

func (u BookingUpdate) fields() []Field {
	var out []Field
	add := func(name string, v *string) {
		if v != nil {
			out = append(out, Field{name, *v})
		}
	}
	add("preferredDate", u.PreferredDate)
	if u.TimeSlot != nil {
		out = append(out, Field{"timeSlot", string(*u.TimeSlot)})
	}
	add("description", u.Description)
	add("suburb", u.Suburb)
	add("postcode", u.Postcode)
	if u.JobSize != nil {
		out = append(out, Field{"jobSize", string(*u.JobSize)})
	}
	add("customerPhone", u.CustomerPhone)
	return out
}

// UpdateBooking edits a booking. It sends JSON, or multipart when files are attached.
func (c *Client) UpdateBooking(ctx context.Context, id string, upd BookingUpdate, files []Upload) (*model.Booking, error) {
	var body any = upd
	if len(files) > 0 {
		body = &Multipart{Fields: upd.fields(), Files: files}
	}
	var b model.Booking
	if err := c.do(ctx, "bookings.update", http.MethodPut, "/bookings/"+url.PathEscape(id), body, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateStatus moves a booking to a new status (admin).
func (c *Client) UpdateStatus(ctx context.Context, id string, status model.Status, notes string) (*model.Booking, error) {
	body := struct {
		Status model.Status `json:"status"`
		Notes  string       `json:"notes,omitempty"`
	}{status, notes}

	var b model.Booking
	if err := c.do(ctx, "bookings.status", http.MethodPatch, "/bookings/"+url.PathEscape(id)+"/status", body, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// BlockedDates returns blocked days within [from, to].
func (c *Client) BlockedDates(ctx context.Context, from, to time.Time) ([]model.BlockedDate, error) {
	q := url.Values{}
	q.Set("startDate", from.Format(model.DateLayout))
	q.Set("endDate", to.Format(model.DateLayout))

	var out []model.BlockedDate
	if err := c.do(ctx, "bookings.block_dates", http.MethodGet, "/bookings/block-dates?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteFile removes one stored attachment by its storage key.
func (c *Client) DeleteFile(ctx context.Context, filename string) error {
	if filename == "" {
		return fmt.Errorf("delete file: empty filename")
	}
	return c.do(ctx, "files.delete", http.MethodDelete, "/files/"+url.PathEscape(filename), nil, nil)
}

// DeleteFiles removes several stored attachments in one call. The backend
// reports a single outcome for the batch.
func (c *Client) DeleteFiles(ctx context.Context, filenames []string) error {
	if len(filenames) == 0 {
		return nil
	}
	body := map[string][]string{"filenames": filenames}
	return c.do(ctx, "files.delete_batch", http.MethodDelete, "/files", body, nil)
}

// Notifications returns one page of admin notifications.
func (c *Client) Notifications(ctx context.Context, page, size int) (*model.Page[model.Notification], error) {
	var p model.Page[model.Notification]
	if err := c.do(ctx, "notifications.list", http.MethodGet, "/notifications?"+pageQuery(page, size), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkNotificationRead flags one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, "notifications.read", http.MethodPatch, "/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// HealthCheck checks if the backend answers at all.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

func pageQuery(page, size int) string {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	return q.Encode()
}
