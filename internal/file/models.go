package file

import (
	"time"

	"github.com/kmarat/filedrop/internal/quota"
)

// Entry describes one stored file's access policy and blob location. The ID
// doubles as the blob name; OriginalName is display-only and never touches
// the filesystem.
type Entry struct {
	ID            string         `json:"id"`
	OwnerIdentity quota.Identity `json:"-"`
	OriginalName  string         `json:"original_name"`
	SizeBytes     int64          `json:"size_bytes"`
	ContentType   string         `json:"content_type"`
	PasswordHash  string         `json:"-"`
	AccessLimit   int            `json:"access_limit"`
	AccessCount   int            `json:"access_count"`
	ExpiresAt     time.Time      `json:"expires_at"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Expired reports whether the entry's lifetime has passed.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt.Before(now)
}

// Exhausted reports whether every allowed access has been served.
func (e Entry) Exhausted() bool {
	return e.AccessCount >= e.AccessLimit
}

// UploadOptions carries the optional client-supplied policy fields. Zero
// values mean "unset" and fall back to configured defaults.
type UploadOptions struct {
	ExpiresMillis int64
	AccessLimit   int
	Password      string
}
