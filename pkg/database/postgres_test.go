package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-digest-notifier/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "notifier", Password: "pw", Name: "digest_notifier", SSLMode: "disable"})
	assert.Equal(t, "host=db port=5432 user=notifier password=pw dbname=digest_notifier sslmode=disable application_name=digest-notifier connect_timeout=10", dsn)
}
