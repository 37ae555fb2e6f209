package cannal

import (
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
)

const (
	DDLCreateTable    = "create_table"
	DDLAlterTable     = "alter_table"
	DDLDropTable      = "drop_table"
	DDLRenameTable    = "rename_table"
	DDLTruncateTable  = "truncate_table"
	DDLCreateIndex    = "create_index"
	DDLDropIndex      = "drop_index"
	DDLCreateDatabase = "create_database"
	DDLAlterDatabase  = "alter_database"
	DDLDropDatabase   = "drop_database"
	// DDLUnknown is a statement the parser rejected that still looks like DDL.
	DDLUnknown = "unknown"
)

type ddlTarget struct {
	kind   string
	schema string
	table  string
}

// ddlParser is not safe for concurrent use.
type ddlParser struct {
	p *parser.Parser
}

func newDDLParser() *ddlParser {
	return &ddlParser{p: parser.New()}
}

// parse returns the tables a query changes, or nil when it is not DDL.
// Tables without a schema belong to schema, the query's default database.
func (d *ddlParser) parse(schema, query string) []ddlTarget {
	stmts, _, err := d.p.Parse(query, "", "")
	if err != nil {
		return fallbackDDL(schema, query)
	}
	var targets []ddlTarget
	for _, stmt := range stmts {
		targets = append(targets, stmtTargets(schema, stmt)...)
	}
	return targets
}

func stmtTargets(schema string, stmt ast.StmtNode) []ddlTarget {
	table := func(kind string, tn *ast.TableName) ddlTarget {
		sc := tn.Schema.O
		if sc == "" {
			sc = schema
		}
		return ddlTarget{kind: kind, schema: sc, table: tn.Name.O}
	}
	db := func(kind, name string) ddlTarget {
		if name == "" {
			name = schema
		}
		return ddlTarget{kind: kind, schema: name}
	}

	switch n := stmt.(type) {
	case *ast.CreateTableStmt:
		return []ddlTarget{table(DDLCreateTable, n.Table)}
	case *ast.AlterTableStmt:
		return []ddlTarget{table(DDLAlterTable, n.Table)}
	case *ast.DropTableStmt:
		targets := make([]ddlTarget, 0, len(n.Tables))
		for _, tn := range n.Tables {
			targets = append(targets, table(DDLDropTable, tn))
		}
		return targets
	case *ast.RenameTableStmt:
		// 旧表和新表都需要通知
		targets := make([]ddlTarget, 0, 2*len(n.TableToTables))
		for _, tt := range n.TableToTables {
			targets = append(targets, table(DDLRenameTable, tt.OldTable), table(DDLRenameTable, tt.NewTable))
		}
		return targets
	case *ast.TruncateTableStmt:
		return []ddlTarget{table(DDLTruncateTable, n.Table)}
	case *ast.CreateIndexStmt:
		return []ddlTarget{table(DDLCreateIndex, n.Table)}
	case *ast.DropIndexStmt:
		return []ddlTarget{table(DDLDropIndex, n.Table)}
	case *ast.CreateDatabaseStmt:
		return []ddlTarget{db(DDLCreateDatabase, n.Name.O)}
	case *ast.AlterDatabaseStmt:
		return []ddlTarget{db(DDLAlterDatabase, n.Name.O)}
	case *ast.DropDatabaseStmt:
		return []ddlTarget{db(DDLDropDatabase, n.Name.O)}
	}
	return nil
}

// fallbackDDL classifies by the leading keyword only.
func fallbackDDL(schema, query string) []ddlTarget {
	up := strings.ToUpper(strings.TrimSpace(query))
	if strings.HasPrefix(up, "CREATE") ||
		strings.HasPrefix(up, "ALTER") ||
		strings.HasPrefix(up, "DROP") ||
		strings.HasPrefix(up, "RENAME") ||
		strings.HasPrefix(up, "TRUNCATE") {
		return []ddlTarget{{kind: DDLUnknown, schema: schema}}
	}
	return nil
}

// isTransactionEnd reports a statement that closes a transaction logged
// as a query, as non-transactional engines and XA do.
func isTransactionEnd(query string) bool {
	up := strings.ToUpper(strings.TrimSpace(query))
	return up == "COMMIT" || up == "ROLLBACK" ||
		strings.HasPrefix(up, "XA COMMIT") || strings.HasPrefix(up, "XA ROLLBACK")
}
