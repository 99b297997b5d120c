package credentials

import (
	"strings"
	"time"
)

// TypeLocal identifies email+password credentials stored by this service.
const TypeLocal = "local"

// User is the canonical identity record shared by every authentication method.
type User struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	Email     string    `gorm:"column:email;size:320;not null;uniqueIndex" json:"email"`
	FirstName string    `gorm:"column:first_name;size:190" json:"firstName"`
	LastName  string    `gorm:"column:last_name;size:190" json:"lastName"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

// Authentication binds a User to one login method. Identifier is the email for local
// credentials and the provider subject for delegated ones.
type Authentication struct {
	ID          string    `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	UserID      string    `gorm:"column:user_id;size:64;not null;uniqueIndex:idx_authentications_user_type" json:"userId"`
	Type        string    `gorm:"column:type;size:32;not null;uniqueIndex:idx_authentications_user_type;uniqueIndex:idx_authentications_type_identifier" json:"type"`
	Identifier  string    `gorm:"column:identifier;size:320;not null;uniqueIndex:idx_authentications_type_identifier" json:"identifier"`
	Password    string    `gorm:"column:password;size:255" json:"-"`
	AccessToken string    `gorm:"column:access_token;size:2048" json:"-"`
	User        User      `gorm:"foreignKey:UserID;references:ID" json:"-"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName exposes the table backing authentications.
func (Authentication) TableName() string {
	return "authentications"
}

// ProfileFields carries the user attributes collected during registration.
type ProfileFields struct {
	Email     string
	FirstName string
	LastName  string
}

// ProviderIdentity describes a completed delegated profile ready for persistence.
// EmailVerified reports whether the provider asserted ownership of Fields.Email.
type ProviderIdentity struct {
	Type          string
	Subject       string
	AccessToken   string
	Fields        ProfileFields
	EmailVerified bool
}

// NormalizeEmail trims and lower-cases an email so lookups and uniqueness agree.
func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
