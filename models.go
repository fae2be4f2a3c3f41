package accounts

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the role tag the policy gate evaluates
type UserRole = string

const (
	// RoleUser is the default role assigned on signup
	RoleUser UserRole = "user"
	// RoleAdmin can manage other accounts
	RoleAdmin UserRole = "admin"
	// RoleAnonymous is the sentinel role for requests without a session
	RoleAnonymous UserRole = "*"
)

// User is the identity record
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string         `bun:"email,notnull,unique" json:"email,omitempty"`
	Username      sql.NullString `bun:"username,unique" json:"username,omitempty"`
	FirstName     string         `bun:"first_name" json:"first_name,omitempty"`
	LastName      string         `bun:"last_name" json:"last_name,omitempty"`
	PasswordHash  sql.NullString `bun:"password_hash" json:"-"`
	Role          UserRole       `bun:"role,notnull" json:"role,omitempty"`
	Verified      bool           `bun:"verified" json:"verified"`
	Active        bool           `bun:"active" json:"active"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
}

// HasPassword reports whether the account has a usable credential.
// A null hash means the account was provisioned by an admin and the
// password has not been set through a verification token yet.
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash.Valid && u.PasswordHash.String != ""
}

// Verification is one pending privileged action. Exactly one of Email and
// PasswordHash is non-empty, or both are empty for a plain account
// confirmation. Rows live for VerificationTTL and are deleted on
// redemption or by the sweeper.
type Verification struct {
	bun.BaseModel `bun:"table:verifications,alias:vrf"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Token         string    `bun:"token,notnull,unique" json:"-"`
	Email         string    `bun:"email,notnull,default:''" json:"-"`
	PasswordHash  string    `bun:"password_hash,notnull,default:''" json:"-"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
}

// VerificationTTL is the redemption window measured from row creation.
// A token outside the window behaves exactly like one that never existed.
const VerificationTTL = time.Hour

// Intent is the mutation a verification token performs on redemption.
// The variant is fixed at issuance; redemption applies the payload
// columns with email > password > verified precedence.
type Intent interface {
	payload() (email, passwordHash string)
}

// IntentConfirm marks the account verified
type IntentConfirm struct{}

// IntentResetPassword installs a new password hash
type IntentResetPassword struct {
	PasswordHash string
}

// IntentChangeEmail moves the account to a new address
type IntentChangeEmail struct {
	Email string
}

func (IntentConfirm) payload() (string, string)         { return "", "" }
func (i IntentResetPassword) payload() (string, string) { return "", i.PasswordHash }
func (i IntentChangeEmail) payload() (string, string)   { return i.Email, "" }

// intentOf reconstructs the variant stored in a row, honoring the
// original empty-string precedence.
func intentOf(v *Verification) Intent {
	switch {
	case v.Email != "":
		return IntentChangeEmail{Email: v.Email}
	case v.PasswordHash != "":
		return IntentResetPassword{PasswordHash: v.PasswordHash}
	default:
		return IntentConfirm{}
	}
}

// Identity is the sanitized view of a user that sessions and handlers
// expose. It never carries the password hash or any pending verification
// payload.
type Identity struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Role      UserRole  `json:"role"`
	Verified  bool      `json:"verified"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// IdentityFromUser strips a user row down to its public attributes
func IdentityFromUser(u *User) *Identity {
	if u == nil {
		return nil
	}
	return &Identity{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username.String,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
		Verified:  u.Verified,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}
