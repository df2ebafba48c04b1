package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
	_ "modernc.org/sqlite"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/BartekS5/xfer/pkg/logger"
)

// Kind identifies the backend behind a connection URL.
type Kind string

const (
	KindSQLServer Kind = "sqlserver"
	KindPostgres  Kind = "postgres"
	KindMySQL     Kind = "mysql"
	KindSQLite    Kind = "sqlite"
	KindMongo     Kind = "mongo"
)

// Conn is a parsed connection definition.
type Conn struct {
	ID     string
	Kind   Kind
	Driver string // database/sql driver name; empty for mongo
	DSN    string
}

// ParseConn maps a connection URL onto a backend kind and driver DSN.
func ParseConn(id, raw string) (Conn, error) {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	c := Conn{ID: id}

	switch {
	case strings.HasPrefix(lower, "sqlserver://"):
		if _, err := msdsn.Parse(raw); err != nil {
			return Conn{}, fmt.Errorf("connection %s: mssql dsn: %w", id, err)
		}
		c.Kind, c.Driver, c.DSN = KindSQLServer, "sqlserver", raw
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		c.Kind, c.Driver, c.DSN = KindPostgres, "pgx", raw
	case strings.HasPrefix(lower, "mysql://"):
		c.Kind, c.Driver, c.DSN = KindMySQL, "mysql", raw[len("mysql://"):]
	case strings.HasPrefix(lower, "sqlite:"):
		c.Kind, c.Driver, c.DSN = KindSQLite, "sqlite", strings.TrimPrefix(raw[len("sqlite:"):], "//")
	case strings.HasPrefix(lower, "file:"):
		c.Kind, c.Driver, c.DSN = KindSQLite, "sqlite", raw
	case strings.HasPrefix(lower, "mongodb://"), strings.HasPrefix(lower, "mongodb+srv://"):
		c.Kind, c.DSN = KindMongo, raw
	default:
		return Conn{}, fmt.Errorf("connection %s: unsupported url scheme in %q", id, redact(raw))
	}
	if c.DSN == "" {
		return Conn{}, fmt.Errorf("connection %s: empty dsn", id)
	}
	return c, nil
}

// IsSQL reports whether the connection is served by database/sql.
func (c Conn) IsSQL() bool { return c.Driver != "" }

func ConnectSQL(ctx context.Context, c Conn) (*sql.DB, error) {
	if !c.IsSQL() {
		return nil, fmt.Errorf("connection %s is not a SQL connection", c.ID)
	}
	db, err := sql.Open(c.Driver, c.DSN)
	if err != nil {
		return nil, fmt.Errorf("error opening SQL database %s: %w", c.ID, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to SQL database %s (ping failed): %w", c.ID, err)
	}

	logger.Debugf("connected to %s database %s", c.Kind, c.ID)
	return db, nil
}

// ConnectPostgres opens a native pgx connection, used for COPY.
func ConnectPostgres(ctx context.Context, c Conn) (*pgx.Conn, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(connectCtx, c.DSN)
	if err != nil {
		return nil, fmt.Errorf("error connecting to PostgreSQL %s: %w", c.ID, err)
	}
	logger.Debugf("connected to postgres %s", c.ID)
	return conn, nil
}

func ConnectMongo(ctx context.Context, c Conn) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(c.DSN))
	if err != nil {
		return nil, fmt.Errorf("error creating MongoDB client %s: %w", c.ID, err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer disconnectCancel()
		_ = client.Disconnect(disconnectCtx)

		return nil, fmt.Errorf("error connecting to MongoDB %s (ping failed): %w", c.ID, err)
	}

	logger.Debugf("connected to mongo %s", c.ID)
	return client, nil
}

// BindParams converts named statement parameters into driver arguments.
// pgx binds a single NamedArgs value; other drivers take sql.Named in name
// order.
func BindParams(driver string, params map[string]any) []any {
	if len(params) == 0 {
		return nil
	}
	if driver == "pgx" {
		return []any{pgx.NamedArgs(params)}
	}
	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	sort.Strings(names)
	args := make([]any, 0, len(names))
	for _, n := range names {
		args = append(args, sql.Named(n, params[n]))
	}
	return args
}

// SplitNamespace splits "db.collection" for mongo targets.
func SplitNamespace(ns string) (string, string, error) {
	db, coll, ok := strings.Cut(ns, ".")
	if !ok || db == "" || coll == "" {
		return "", "", fmt.Errorf("mongo namespace %q must be <database>.<collection>", ns)
	}
	return db, coll, nil
}

func redact(raw string) string {
	if i := strings.Index(raw, "@"); i >= 0 {
		if j := strings.Index(raw, "://"); j >= 0 && j < i {
			return raw[:j+3] + "***" + raw[i:]
		}
	}
	return raw
}
