package model

import (
	"github.com/goccy/go-json"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

type Event struct {
	DataSource string                 `json:"data_source"`      // 数据源ID
	Schema     string                 `json:"schema"`           // schema name
	Table      string                 `json:"table"`            // table name
	Op         string                 `json:"op"`               // insert, update, delete
	Data       map[string]interface{} `json:"data,omitempty"`   // insert or update after data snapshot
	Before     map[string]interface{} `json:"before,omitempty"` // update or delete before data snapshot
	Ts         int64                  `json:"ts"`               // unix timestamp
	Pos        string                 `json:"pos"`              // position
	GTID       string                 `json:"gtid,omitempty"`   // 当前事务 GTID
}

func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
