package auth

import "time"

// Identity is the user an access token names, as reported by the identity provider.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Session is a freshly minted credential pair together with the identity it belongs to.
type Session struct {
	AccessToken  string   `json:"-"`
	RefreshToken string   `json:"-"`
	ExpiresIn    int      `json:"expires_in,omitempty"`
	User         Identity `json:"user"`
}

// Valid reports whether the session carries a usable credential pair and identity.
func (s Session) Valid() bool {
	return s.AccessToken != "" && s.RefreshToken != "" && s.User.ID != ""
}

// Credentials are the bearer values presented with a request.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// AdminRow is the authorization record linking an identity to a back-office role.
type AdminRow struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Role        Role            `json:"role"`
	Permissions map[string]bool `json:"permissions"`
	CreatedAt   time.Time       `json:"created_at"`
	CreatedBy   *string         `json:"created_by"`
}

// AdminAction is one audited privileged mutation.
type AdminAction struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	AdminID    string         `json:"admin_id"`
	Metadata   map[string]any `json:"metadata"`
	RequestID  string         `json:"request_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewAdmin describes an admin record to create.
type NewAdmin struct {
	UserID      string          `json:"user_id"`
	Role        Role            `json:"role"`
	Permissions map[string]bool `json:"permissions,omitempty"`
	CreatedBy   string          `json:"-"`
}
