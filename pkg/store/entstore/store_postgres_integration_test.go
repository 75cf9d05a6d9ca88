//go:build integration

package entstore

import (
	"context"
	"fmt"
	"testing"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/wilhg/journal/pkg/store/storetest"
)

func TestPostgresConformance(t *testing.T) {
	ctx := context.Background()
	pg, err := tcpostgres.RunContainer(ctx,
		tcpostgres.WithDatabase("journal"),
		tcpostgres.WithUsername("journal"),
		tcpostgres.WithPassword("journal"),
		tcpostgres.WithSQLDriver("pgx"),
	)
	if err != nil {
		t.Skipf("skip: cannot start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	// ConnectionString returns a postgres:// URL already; keyword DSNs are handled too.
	st, err := Open(ctx, dsn)
	if err != nil {
		t.Fatal(fmt.Errorf("open %s: %w", dsn, err))
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	storetest.Run(t, st)
}
