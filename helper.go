package ledgerxgo

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var Migrations embed.FS

// LocalHelper prepares a database for local runs and integration tests.
type LocalHelper struct {
	Conn     *pgx.Conn
	ConnStr  string
	SysAccts map[string]string
}

func NewLocalHelper(connStr string, sysAccts map[string]string) (*LocalHelper, error) {
	conn, err := pgx.Connect(context.Background(), connStr)
	if err != nil {
		return nil, err
	}
	roles := make(map[string]string, len(sysAccts))
	for k, v := range sysAccts {
		roles[strings.ToLower(k)] = v
	}
	return &LocalHelper{
		Conn:     conn,
		ConnStr:  connStr,
		SysAccts: roles,
	}, nil
}

// migrateURL swaps a postgres URL scheme for the one the pgx v5 migrate driver registers.
func migrateURL(connStr string) (string, error) {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(connStr, prefix) {
			return "pgx5://" + strings.TrimPrefix(connStr, prefix), nil
		}
	}
	return "", fmt.Errorf("migrations need a postgres:// URL connection string")
}

// InitDB applies all migrations and returns a teardown that drops everything again.
func (lh *LocalHelper) InitDB() (func(), error) {
	if err := lh.Migrate(); err != nil {
		return nil, err
	}
	return lh.teardownDB(), nil
}

func (lh *LocalHelper) Migrate() error {
	src, err := iofs.New(Migrations, "migrations")
	if err != nil {
		return err
	}
	dbURL, err := migrateURL(lh.ConnStr)
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (lh *LocalHelper) PrepareSystemAccounts() error {
	funcMap := template.FuncMap{
		"ToLower": strings.ToLower,
		"add":     func(a, b int) int { return a + b },
	}
	seedPath := filepath.Join("testdata", "seed_system_accounts.tmpl")
	bits, err := os.ReadFile(seedPath)
	if err != nil {
		return err
	}
	tmpl, err := template.New("seed_system_accounts").Funcs(funcMap).Parse(string(bits))
	if err != nil {
		return err
	}
	buf := new(bytes.Buffer)
	if err = tmpl.Execute(buf, lh.SysAccts); err != nil {
		return err
	}

	if _, err = lh.Conn.Exec(context.Background(), buf.String()); err != nil {
		return err
	}

	return err
}

func (lh *LocalHelper) teardownDB() func() {
	return func() {
		defer lh.Conn.Close(context.Background())

		tearSQLpath := filepath.Join("testdata", "teardown_db.sql")
		bits, err := os.ReadFile(tearSQLpath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "DB cleanup read teardown sql: %s", err.Error())
			return
		}
		if _, err = lh.Conn.Exec(context.Background(), string(bits)); err != nil {
			fmt.Fprintf(os.Stderr, "DB cleanup exec teardown sql: %s", err.Error())
			return
		}
	}
}
