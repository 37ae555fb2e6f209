package cannal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDDLParse(t *testing.T) {
	p := newDDLParser()
	cases := []struct {
		query string
		want  []ddlTarget
	}{
		{"CREATE TABLE t (id int primary key)", []ddlTarget{{DDLCreateTable, "shop", "t"}}},
		{"ALTER TABLE other.t ADD COLUMN c int", []ddlTarget{{DDLAlterTable, "other", "t"}}},
		{"DROP TABLE IF EXISTS a, crm.b", []ddlTarget{{DDLDropTable, "shop", "a"}, {DDLDropTable, "crm", "b"}}},
		{"RENAME TABLE a TO b", []ddlTarget{{DDLRenameTable, "shop", "a"}, {DDLRenameTable, "shop", "b"}}},
		{"TRUNCATE TABLE t", []ddlTarget{{DDLTruncateTable, "shop", "t"}}},
		{"CREATE INDEX idx_c ON t (c)", []ddlTarget{{DDLCreateIndex, "shop", "t"}}},
		{"DROP INDEX idx_c ON t", []ddlTarget{{DDLDropIndex, "shop", "t"}}},
		{"CREATE DATABASE crm", []ddlTarget{{DDLCreateDatabase, "crm", ""}}},
		{"DROP DATABASE IF EXISTS crm", []ddlTarget{{DDLDropDatabase, "crm", ""}}},
		{"ALTER DATABASE CHARACTER SET utf8mb4", []ddlTarget{{DDLAlterDatabase, "shop", ""}}},
		{"INSERT INTO t VALUES (1)", nil},
		{"BEGIN", nil},
		{"CREATE FOOBAR x", []ddlTarget{{kind: DDLUnknown, schema: "shop"}}},
		{"FROBNICATE everything", nil},
	}
	for _, c := range cases {
		t.Run(c.query, func(t *testing.T) {
			require.Equal(t, c.want, p.parse("shop", c.query))
		})
	}
}

func TestIsTransactionEnd(t *testing.T) {
	for _, q := range []string{"COMMIT", " commit ", "ROLLBACK", "XA COMMIT 'x'", "xa rollback 'x'"} {
		require.True(t, isTransactionEnd(q), q)
	}
	for _, q := range []string{"BEGIN", "XA START 'x'", "COMMITTED", "ROLLBACK TO SAVEPOINT s"} {
		require.False(t, isTransactionEnd(q), q)
	}
}
