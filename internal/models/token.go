package models

import "time"

// DownloadToken maps an opaque token string to a served file. A token
// is valid while it is present in the registry and now < ExpireTime;
// file existence is checked at the serving boundary, not here.
type DownloadToken struct {
	Token      string    `json:"token"`
	FilePath   string    `json:"file_path"`
	FileName   string    `json:"file_name"`
	ExpireTime time.Time `json:"expire_time"`
}

// Expired reports whether the token is past its deadline.
func (t DownloadToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpireTime)
}

// DownloadRecord is one audit row: a token issued or a file fetched.
type DownloadRecord struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	FileName  string    `json:"file_name"`
	Event     string    `json:"event"`
	ClientIP  string    `json:"client_ip"`
	CreatedAt time.Time `json:"created_at"`
}

// Audit event names.
const (
	AuditIssued  = "issued"
	AuditFetched = "fetched"
)
