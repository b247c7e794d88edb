package entity

import "time"

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Account is a profile record in the `users` collection, keyed by the
// identity token issued by the credential provider.
type Account struct {
	UID        string     `json:"uid"`
	Name       string     `json:"name"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	IsBanned   bool       `json:"isBanned"`
	JoinDate   time.Time  `json:"joinDate"`
	ProfilePic string     `json:"profilePic,omitempty"`
	Bio        string     `json:"bio,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	Instagram  string     `json:"instagram,omitempty"`
	Telegram   string     `json:"telegram,omitempty"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
}

// ProfileFields are the optional fields accepted at registration.
type ProfileFields struct {
	Name       string `json:"name"`
	ProfilePic string `json:"profilePic,omitempty"`
	Bio        string `json:"bio,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Instagram  string `json:"instagram,omitempty"`
	Telegram   string `json:"telegram,omitempty"`
}

// ProfileUpdate is a partial profile edit; nil fields are left unchanged.
type ProfileUpdate struct {
	Name       *string `json:"name,omitempty"`
	Username   *string `json:"username,omitempty"`
	ProfilePic *string `json:"profilePic,omitempty"`
	Bio        *string `json:"bio,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Instagram  *string `json:"instagram,omitempty"`
	Telegram   *string `json:"telegram,omitempty"`
}

// PublicView is what other members may see of an account.
type PublicView struct {
	UID        string    `json:"uid"`
	Name       string    `json:"name"`
	Username   string    `json:"username"`
	Role       string    `json:"role"`
	JoinDate   time.Time `json:"joinDate"`
	ProfilePic string    `json:"profilePic,omitempty"`
	Bio        string    `json:"bio,omitempty"`
}

func (a *Account) Public() PublicView {
	return PublicView{
		UID:        a.UID,
		Name:       a.Name,
		Username:   a.Username,
		Role:       a.Role,
		JoinDate:   a.JoinDate,
		ProfilePic: a.ProfilePic,
		Bio:        a.Bio,
	}
}
