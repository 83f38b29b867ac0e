//go:build integration

// Package dbtest abre o Postgres dos testes de integração. Sem POSTGRES_TEST_DSN
// os testes são pulados. Rodar com: go test -tags integration ./...
package dbtest

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/radieske/wager-integrity-core/internal/shared/db"
)

// Open conecta e aplica o schema. Pacotes rodam em paralelo contra o mesmo banco,
// então o bootstrap é serializado e cada teste usa ids próprios (ver ID).
func Open(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	pg, err := db.ConnectPostgres(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })

	ctx := context.Background()
	err = db.WithTx(ctx, pg, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('wager-schema'))`); err != nil {
			return err
		}
		return db.EnsureSchema(ctx, tx)
	})
	require.NoError(t, err)
	return pg
}

// ID devolve um identificador único com prefixo legível
func ID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
