// Package database はPostgreSQL接続と埋め込みマイグレーションを提供する。
package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/lib/pq"
)

// managedHostSuffixes はTLS接続を必須とするマネージドPostgreSQLのホスト。
var managedHostSuffixes = []string{
	"render.com",
	"railway.app",
	"neon.tech",
	"supabase.com",
}

// Open はPostgreSQLデータベース接続を開く。
// forceSSLがtrue、またはホストがマネージドDBの場合はsslmode=requireを付与する。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(databaseURL string, forceSSL bool) (*sql.DB, error) {
	dsn, err := ApplySSLMode(databaseURL, forceSSL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return db, nil
}

// ApplySSLMode は接続URLにsslmodeを補完した文字列を返す。
// URLに明示的なsslmodeがある場合はそれを優先する。
func ApplySSLMode(databaseURL string, forceSSL bool) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse database url: %w", err)
	}

	q := u.Query()
	if q.Get("sslmode") != "" {
		return databaseURL, nil
	}
	if !forceSSL && !RequiresSSL(u.Hostname()) {
		return databaseURL, nil
	}

	q.Set("sslmode", "require")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// RequiresSSL はホストがTLS必須のマネージドDBかを判定する。
func RequiresSSL(host string) bool {
	host = strings.ToLower(host)
	for _, suffix := range managedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}
