package user

type Role string

const (
	RoleAdmin          Role = "admin"
	RoleProjectManager Role = "project_manager"
	RoleTeamMember     Role = "team_member"
	RoleFinance        Role = "finance"
)

var Roles = []Role{RoleAdmin, RoleProjectManager, RoleTeamMember, RoleFinance}

func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// ClaimPayload is the identity projection embedded in access tokens.
// It is never authoritative; the users row is.
type ClaimPayload struct {
	UserID       int64  `json:"userId"`
	Email        string `json:"email"`
	Role         Role   `json:"role"`
	Name         string `json:"name"`
	TokenVersion int    `json:"-"`
}

// RefreshPayload is what a verified refresh token yields.
type RefreshPayload struct {
	UserID       int64  `json:"userId"`
	Type         string `json:"type"`
	TokenVersion int    `json:"-"`
}
