package syncdb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"go-canal/internal/model"

	"github.com/go-sql-driver/mysql"
	"github.com/pingcap/errors"
)

// ER_PARSE_ERROR, returned by servers that renamed SHOW MASTER STATUS
const erParseError = 1064

type MysqlDataSource struct {
	Db *sql.DB
}

func NewMysqlDataSource(db *sql.DB) *MysqlDataSource {
	return &MysqlDataSource{
		Db: db,
	}
}

func (m *MysqlDataSource) ListSchemas(ctx context.Context) ([]string, error) {
	query := `
		select schema_name
		from information_schema.schemata
		where schema_name not in ('information_schema', 'mysql', 'performance_schema', 'sys')
	`
	rows, err := m.Db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Trace(err)
	}

	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	schemas := make([]string, 0)
	for rows.Next() {
		var schema string
		if err := rows.Scan(&schema); err != nil {
			return nil, errors.Trace(err)
		}
		schemas = append(schemas, schema)
	}
	return schemas, errors.Trace(rows.Err())
}

func (m *MysqlDataSource) ListTables(ctx context.Context, schemas ...string) (map[string][]string, error) {
	query := `
		select table_schema, table_name
		from information_schema.tables
		where table_type = 'BASE TABLE'
		and table_schema not in ('information_schema', 'mysql', 'performance_schema', 'sys')
	`
	var args []interface{}
	if len(schemas) > 0 {
		placeholders := make([]string, len(schemas))
		for i, s := range schemas {
			placeholders[i] = "?"
			args = append(args, s)
		}
		query += fmt.Sprintf(" and table_schema in (%s)", strings.Join(placeholders, ","))
	}
	rows, err := m.Db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Trace(err)
	}

	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	tables := make(map[string][]string)
	for rows.Next() {
		var schema, table string
		if err := rows.Scan(&schema, &table); err != nil {
			return nil, errors.Trace(err)
		}
		tables[schema] = append(tables[schema], table)
	}
	return tables, errors.Trace(rows.Err())
}

func (m *MysqlDataSource) GetTableColumns(ctx context.Context, schema, table string) ([]ColumnInfo, error) {
	query := `
		select column_name, column_key from information_schema.columns
		where table_schema = ? and table_name = ?
		order by ordinal_position
	`
	rows, err := m.Db.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	cols := make([]ColumnInfo, 0)
	for rows.Next() {
		var name, key string
		if err := rows.Scan(&name, &key); err != nil {
			return nil, errors.Trace(err)
		}
		cols = append(cols, ColumnInfo{Name: name, PrimaryKey: key == "PRI"})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	if len(cols) == 0 {
		return nil, errors.Errorf("table %s.%s not found", schema, table)
	}
	return cols, nil
}

func (m *MysqlDataSource) MasterStatus(ctx context.Context) (*MasterStatus, error) {
	st, err := m.masterStatus(ctx, "show master status")
	if myErr, ok := errors.Cause(err).(*mysql.MySQLError); ok && myErr.Number == erParseError {
		// 8.4 以后改名
		st, err = m.masterStatus(ctx, "show binary log status")
	}
	return st, err
}

func (m *MysqlDataSource) masterStatus(ctx context.Context, query string) (*MasterStatus, error) {
	rows, err := m.Db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		return nil, errors.New("binary logging is not enabled")
	}
	// File, Position, Binlog_Do_DB, Binlog_Ignore_DB[, Executed_Gtid_Set]
	values := make([]sql.NullString, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, errors.Trace(err)
	}
	return parseMasterStatus(cols, values)
}

func parseMasterStatus(cols []string, values []sql.NullString) (*MasterStatus, error) {
	st := &MasterStatus{GTID: model.GTID{}}
	for i, col := range cols {
		v := values[i].String
		switch strings.ToLower(col) {
		case "file":
			st.File = v
		case "position":
			pos, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return nil, errors.Annotatef(err, "binlog position %q", v)
			}
			st.Position = uint32(pos)
		case "executed_gtid_set":
			gtid, err := model.ParseGTIDSet(strings.ReplaceAll(v, "\n", ""))
			if err != nil {
				return nil, err
			}
			st.GTID = gtid
		}
	}
	if st.File == "" {
		return nil, errors.New("master status has no file")
	}
	return st, nil
}

func (m *MysqlDataSource) BinlogChecksum(ctx context.Context) (string, error) {
	var v string
	err := m.Db.QueryRowContext(ctx, "select @@global.binlog_checksum").Scan(&v)
	return strings.ToUpper(v), errors.Trace(err)
}

func (m *MysqlDataSource) ServerID(ctx context.Context) (uint32, error) {
	var id uint32
	err := m.Db.QueryRowContext(ctx, "select @@server_id").Scan(&id)
	return id, errors.Trace(err)
}

func (m *MysqlDataSource) Close() error {
	return m.Db.Close()
}
