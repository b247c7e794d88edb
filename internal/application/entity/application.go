package entity

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Active reports whether the status blocks a further submission.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusApproved
}

const NotProvided = "Not provided"

// Form is what an applicant fills in.
type Form struct {
	Name        string `json:"name"`
	BanningYear string `json:"banningYear"`
	IGUsername  string `json:"igUsername"`
	IGLink      string `json:"igLink"`
	TGUsername  string `json:"tgUsername,omitempty"`
	TGID        string `json:"tgId,omitempty"`
	Phone       string `json:"phone"`
}

// Application is a membership request in the `applications` collection.
// ID is the store key; Code is the reference shown to the applicant.
type Application struct {
	ID         string     `json:"id,omitempty"`
	Code       string     `json:"applicationId"`
	UserID     string     `json:"userId"`
	Username   string     `json:"username"`
	Status     Status     `json:"status"`
	AppliedAt  time.Time  `json:"appliedAt"`
	ReviewedAt *time.Time `json:"reviewedAt,omitempty"`
	ReviewedBy string     `json:"reviewedBy,omitempty"`
	Form
}

// MaskedPhone hides the middle digits for the membership card.
func (a *Application) MaskedPhone() string {
	if len(a.Phone) < 6 {
		return "***"
	}
	return a.Phone[:3] + "***" + a.Phone[len(a.Phone)-3:]
}

// Newer reports whether a should win over b when picking an account's
// latest application: later appliedAt first, then the larger key.
func (a *Application) Newer(b *Application) bool {
	if !a.AppliedAt.Equal(b.AppliedAt) {
		return a.AppliedAt.After(b.AppliedAt)
	}
	return a.ID > b.ID
}
