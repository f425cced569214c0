package model

// Session is the cached identity of the logged-in user.
type Session struct {
	ID        string `json:"id"`
	FullName  string `json:"fullName"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Token     string `json:"token,omitempty"`
}

type User struct {
	ID        string `json:"id"`
	FullName  string `json:"fullName"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// NewSession builds the session cached after a successful signup or login.
func NewSession(u User, token string) Session {
	return Session{
		ID:        u.ID,
		FullName:  u.FullName,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
		Token:     token,
	}
}

type Contact struct {
	ContactID string `json:"contactId"`
	FullName  string `json:"fullName"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type Profile struct {
	Bio      string `json:"bio"`
	Location string `json:"location"`
	Phone    string `json:"phone"`
	Avatar   string `json:"avatar,omitempty"`
}

type Community struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Members     []string `json:"-"`
}

type Event struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"`
	Location    string `json:"location"`
}
