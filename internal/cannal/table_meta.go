package cannal

import (
	"context"

	"go-canal/internal/model"

	"github.com/goccy/go-json"
	"github.com/pingcap/errors"
)

// DDLRecorder keeps the last DDL of every table in go_cdc_table_meta.
type DDLRecorder struct {
	NopHandler
	repo *model.MetaRepository
}

func NewDDLRecorder(repo *model.MetaRepository) *DDLRecorder {
	return &DDLRecorder{repo: repo}
}

func (r *DDLRecorder) OnDDL(_ context.Context, e *DDLChange) error {
	pos, err := json.Marshal(e.Position)
	if err != nil {
		return errors.Trace(err)
	}
	return r.repo.SaveOrUpdateTableMeta(e.DataSource, e.Schema, e.Table, string(pos), e.Query)
}
