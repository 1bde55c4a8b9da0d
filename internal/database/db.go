package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/safar/storefront/internal/config"
)

// ApplicationName tags every session in pg_stat_activity.
const ApplicationName = "storefront"

// Open builds a pool for cfg and pings it within cfg.QueryTimeout. Each
// session carries a server-side statement_timeout equal to the query
// timeout, so a statement outliving its client deadline is stopped by
// Postgres as well.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn, err := ConnString(cfg)
	if err != nil {
		return nil, err
	}

	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := WithTimeout(ctx, cfg.QueryTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// ConnString adds the session settings to cfg.URL. Settings already present
// in the URL win. Both the URL and the key=value forms are accepted.
func ConnString(cfg *config.DatabaseConfig) (string, error) {
	settings := [][2]string{{"application_name", ApplicationName}}
	if ms := cfg.QueryTimeout.Milliseconds(); ms > 0 {
		settings = append(settings, [2]string{"statement_timeout", strconv.FormatInt(ms, 10)})
	}

	raw := strings.TrimSpace(cfg.URL)
	if strings.HasPrefix(raw, "postgres://") || strings.HasPrefix(raw, "postgresql://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("parse database url: %w", err)
		}
		q := u.Query()
		for _, kv := range settings {
			if !q.Has(kv[0]) {
				q.Set(kv[0], kv[1])
			}
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	present := map[string]bool{}
	for _, field := range strings.Fields(raw) {
		if key, _, ok := strings.Cut(field, "="); ok {
			present[key] = true
		}
	}
	parts := []string{raw}
	for _, kv := range settings {
		if !present[kv[0]] {
			parts = append(parts, kv[0]+"="+kv[1])
		}
	}
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}
