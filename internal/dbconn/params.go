package dbconn

import (
	"fmt"
	"time"
)

// Params holds the connection parameters for one physical database.
type Params struct {
	Host           string
	Port           string
	User           string
	Password       string
	Database       string
	SSLMode        string
	MaxOpenConns   int
	MaxIdleConns   int
	ConnectTimeout time.Duration
}

// WithDatabase returns a copy of the params pointed at another database on the
// same cluster. This is how the tenant template becomes per-tenant params.
func (p Params) WithDatabase(database string) Params {
	p.Database = database
	return p
}

// DSN renders key=value connection parameters for pgxpool.
func (p Params) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d connect_timeout=%d",
		p.Host,
		p.Port,
		p.User,
		p.Password,
		p.Database,
		p.SSLMode,
		p.MaxOpenConns,
		p.MaxIdleConns,
		int(p.connectTimeout().Seconds()),
	)
}

// URL renders a postgres:// connection string for database/sql based tooling.
func (p Params) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&connect_timeout=%d",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Database,
		p.SSLMode,
		int(p.connectTimeout().Seconds()),
	)
}

func (p Params) connectTimeout() time.Duration {
	if p.ConnectTimeout <= 0 {
		return 5 * time.Second
	}
	return p.ConnectTimeout
}
