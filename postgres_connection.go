package fixtures

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v4"
)

type ConnectionSettings struct {
	Host       string
	Port       string
	User       string
	Password   string
	Database   string
	DisableSSL bool
}

func (cs *ConnectionSettings) sslMode() string {
	if cs.DisableSSL {
		return "disable"
	}
	return "require"
}

// String renders the settings as a keyword/value DSN, as understood by pgx and gorm's postgres driver.
func (cs *ConnectionSettings) String() string {
	return fmt.Sprintf("host=%v port=%v user=%v password=%v dbname=%v sslmode=%v",
		cs.Host,
		cs.Port,
		cs.User,
		cs.Password,
		cs.Database,
		cs.sslMode(),
	)
}

// URL renders the settings as a postgres:// URL.
func (cs *ConnectionSettings) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cs.User, cs.Password),
		Host:     cs.Host + ":" + cs.Port,
		Path:     cs.Database,
		RawQuery: "sslmode=" + cs.sslMode(),
	}
	return u.String()
}

func (cs *ConnectionSettings) Copy() *ConnectionSettings {
	s := *cs
	return &s
}

func (cs *ConnectionSettings) Connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, cs.String())
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return conn, nil
}
