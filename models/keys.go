package models

// Cache keys. These strings are persisted and must stay stable across versions.
const (
	KeyEvents     = "@cached_events"
	KeyNews       = "@cached_news"
	KeySchoolInfo = "@cached_school_info"
	KeyUsers      = "@cached_users"
)

// AllKeys lists every resource cache key.
func AllKeys() []string {
	return []string{KeyEvents, KeyNews, KeySchoolInfo, KeyUsers}
}
