package entity

import "time"

// Author is copied from the account when the post is written and never
// refreshed afterwards.
type Author struct {
	UID        string `json:"uid"`
	Name       string `json:"name"`
	Username   string `json:"username"`
	ProfilePic string `json:"profilePic,omitempty"`
	Role       string `json:"role"`
}

// Post is an entry in the `updates` collection. Timestamp is in Unix
// milliseconds.
type Post struct {
	ID        string `json:"id,omitempty"`
	Author    Author `json:"author"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	IsPinned  bool   `json:"isPinned"`
}

func (p *Post) Time() time.Time { return time.UnixMilli(p.Timestamp).UTC() }
