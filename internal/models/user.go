package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleScholar   UserRole = "SCHOLAR"
	RoleGuide     UserRole = "GUIDE"
	RoleLibrarian UserRole = "LIBRARIAN"
	RoleRegistrar UserRole = "REGISTRAR"
	RoleVC        UserRole = "VC"
)

// ReviewBoardRoles hold unrestricted read access to every thesis record.
var ReviewBoardRoles = []UserRole{RoleLibrarian, RoleRegistrar, RoleVC}

// IsReviewBoard reports whether the role can read every thesis record.
func (r UserRole) IsReviewBoard() bool {
	for _, role := range ReviewBoardRoles {
		if r == role {
			return true
		}
	}
	return false
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Department   string     `db:"department" json:"department"`
	ScholarID    *string    `db:"scholar_id" json:"scholar_id,omitempty"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
