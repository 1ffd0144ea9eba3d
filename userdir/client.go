package userdir

import (
	"context"
	"errors"
	"net/http"
	"time"

	"polisflow/transport"
)

// Personal identifies a person in the external user directory.
type Personal struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	MiddleName string `json:"middleName,omitempty"`
	BirthDate  string `json:"birthDate"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

// UserRecord is the directory record linked to a policyholder.
type UserRecord struct {
	Login     string `json:"login"`
	SubjectID string `json:"subjectId"`
}

// Directory looks policyholders up in the external user directory.
type Directory interface {
	GetUserData(ctx context.Context, p Personal) (UserRecord, bool, error)
}

// Client is the HTTP directory implementation.
type Client struct {
	base   string
	client *transport.Client
}

// NewClient wires an HTTP-backed directory.
func NewClient(base string, client *transport.Client) *Client {
	return &Client{base: base, client: client}
}

// GetUserData returns the directory record for the person, or found=false
// when the directory has none.
func (c *Client) GetUserData(ctx context.Context, p Personal) (UserRecord, bool, error) {
	var rec UserRecord
	err := c.client.PostJSON(ctx, "getUserData", c.base+"/users/lookup", nil, p, &rec)
	if err != nil {
		var terr *transport.Error
		if errors.As(err, &terr) && terr.Status == http.StatusNotFound {
			return UserRecord{}, false, nil
		}
		return UserRecord{}, false, err
	}
	if rec.Login == "" {
		return UserRecord{}, false, nil
	}
	return rec, true, nil
}

// FormatBirthDate renders a birth date the way the directory expects it.
func FormatBirthDate(t time.Time) string {
	return t.Format("2006-01-02")
}
