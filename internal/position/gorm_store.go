package position

import (
	"context"

	"go-canal/internal/model"

	"github.com/goccy/go-json"
	"github.com/pingcap/errors"
	"gorm.io/gorm"
)

// GormStore saves entries as JSON in the go_cdc_meta table, one row per
// destination.
type GormStore struct {
	repo       *model.MetaRepository
	sourceType string
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{repo: model.NewMetaRepository(db), sourceType: "mysql"}
}

func (s *GormStore) Load(_ context.Context, destination string) (*Entry, error) {
	meta, err := s.repo.FindCDCMeta(destination)
	if errors.Cause(err) == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Annotatef(err, "load position %s", destination)
	}
	var e Entry
	if err := json.Unmarshal([]byte(meta.LastPos), &e); err != nil {
		return nil, errors.Annotatef(err, "decode position %s", destination)
	}
	return &e, nil
}

func (s *GormStore) Save(_ context.Context, destination string, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return errors.Trace(err)
	}
	return s.repo.SaveOrUpdateCDCMeta(destination, s.sourceType, string(b))
}
