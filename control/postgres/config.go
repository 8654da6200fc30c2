package postgres

import "fmt"

// Config holds the handful of fields needed to build a DSN for the
// control-store schema.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
}

// URL builds a postgres:// DSN, defaulting SSLMode to "disable".
func (c Config) URL() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}
