package db

import (
	"net/url"
	"strings"
)

// sessionParam is a runtime parameter sent on every new connection
type sessionParam struct {
	key   string
	value string
}

// withSessionParams appends each parameter the DSN does not already set.
// Both URL and key=value DSNs are handled; empty values are skipped.
func withSessionParams(dsn string, params ...sessionParam) string {
	if dsn == "" {
		return dsn
	}
	isURL := strings.HasPrefix(dsn, "postgresql://") || strings.HasPrefix(dsn, "postgres://")

	for _, p := range params {
		if p.value == "" || strings.Contains(dsn, p.key+"=") {
			continue
		}
		if !isURL {
			dsn += " " + p.key + "=" + p.value
			continue
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + p.key + "=" + url.QueryEscape(p.value)
	}
	return dsn
}
