package database

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestQuoteLiteral(t *testing.T) {
	require.Equal(t, "'UTC'", quoteLiteral("UTC"))
	require.Equal(t, "'it''s'", quoteLiteral("it's"))
}

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, defaultDSN, cfg.DSN)
	require.Equal(t, 5, cfg.MaxConns)
}

func TestConfigFromEnvBadTimeout(t *testing.T) {
	t.Setenv("DATABASE_TIMEOUT", "soon")
	_, err := ConfigFromEnv()
	require.Error(t, err)
}

func TestApplySession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("SET TIME ZONE 'UTC'")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET client_encoding = 'UTF8'")).WillReturnResult(sqlmock.NewResult(0, 0))

	err = applySession(context.Background(), db, Config{TimeZone: "UTC", ClientEncoding: "UTF8"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
