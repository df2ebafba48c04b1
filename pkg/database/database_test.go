package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConn(t *testing.T) {
	tests := []struct {
		raw    string
		kind   Kind
		driver string
		dsn    string
	}{
		{"sqlserver://sa:pw@localhost:1433?database=dwh", KindSQLServer, "sqlserver", "sqlserver://sa:pw@localhost:1433?database=dwh"},
		{"postgres://u:p@db:5432/crm", KindPostgres, "pgx", "postgres://u:p@db:5432/crm"},
		{"mysql://u:p@tcp(db:3306)/shop", KindMySQL, "mysql", "u:p@tcp(db:3306)/shop"},
		{"sqlite:///var/lib/x.db", KindSQLite, "sqlite", "/var/lib/x.db"},
		{"file:x.db?mode=memory", KindSQLite, "sqlite", "file:x.db?mode=memory"},
		{"mongodb://u:p@mongo:27017", KindMongo, "", "mongodb://u:p@mongo:27017"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			c, err := ParseConn("id", tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.driver, c.Driver)
			assert.Equal(t, tt.dsn, c.DSN)
			assert.Equal(t, tt.driver != "", c.IsSQL())
		})
	}
}

func TestParseConnRejects(t *testing.T) {
	_, err := ParseConn("x", "oracle://u:secret@db")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")

	_, err = ParseConn("x", "mysql://")
	assert.Error(t, err)
}

func TestBindParams(t *testing.T) {
	assert.Nil(t, BindParams("sqlserver", nil))

	args := BindParams("sqlserver", map[string]any{"b": 2, "a": 1})
	assert.Equal(t, []any{sql.Named("a", 1), sql.Named("b", 2)}, args)

	args = BindParams("pgx", map[string]any{"a": 1})
	assert.Equal(t, []any{pgx.NamedArgs{"a": 1}}, args)
}

func TestSplitNamespace(t *testing.T) {
	db, coll, err := SplitNamespace("shop.orders.archive")
	require.NoError(t, err)
	assert.Equal(t, "shop", db)
	assert.Equal(t, "orders.archive", coll)

	for _, bad := range []string{"orders", ".orders", "shop."} {
		_, _, err := SplitNamespace(bad)
		assert.Error(t, err, bad)
	}
}

func TestConnectSQLite(t *testing.T) {
	c, err := ParseConn("local", "sqlite://"+filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)

	db, err := ConnectSQL(context.Background(), c)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Ping())

	_, err = ConnectSQL(context.Background(), Conn{ID: "m", Kind: KindMongo})
	assert.Error(t, err)
}
