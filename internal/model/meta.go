package model

import (
	"go-canal/internal/db"

	"github.com/pingcap/errors"
	"gorm.io/gorm"
)

type CDCMeta struct {
	ID             int64  `gorm:"column:id;primaryKey;autoIncrement:true;type:bigint;comment:CDC元数据ID"`
	DataSourceID   string `gorm:"column:data_source_id;type:varchar(50);comment:数据源ID;uniqueIndex:uniq_datasource_id"`
	DataSourceType string `gorm:"column:data_source_type;type:varchar(50);comment:数据源类型"`
	LastPos        string `gorm:"column:last_pos;type:json;comment:数据源CDC增量更新最新位置"`
}

func (CDCMeta) TableName() string {
	return "go_cdc_meta"
}

// TableMeta 记录每张表最近一次 DDL 的位点和语句
type TableMeta struct {
	ID           int64  `gorm:"column:id;primarykey;autoIncrement:true;columnType:bigint;comment:CDC同步表元数据ID"`
	DataSourceID string `gorm:"column:data_source_id;type:varchar(50);comment:数据源ID;uniqueIndex:uniq_table"`
	Sc           string `gorm:"column:sc;type:varchar(64);comment:数据库名;uniqueIndex:uniq_table"`
	Tb           string `gorm:"column:tb;type:varchar(64);comment:表名;uniqueIndex:uniq_table"`
	LastPos      string `gorm:"column:last_pos;type:json;comment:表最近一次DDL位置"`
	LastDDL      string `gorm:"column:last_ddl;type:text;comment:表最近一次DDL语句"`
}

func (TableMeta) TableName() string {
	return "go_cdc_table_meta"
}

func init() {
	db.AutoTable(&CDCMeta{})
	db.AutoTable(&TableMeta{})
}

// MetaRepository reads and writes the meta tables.
type MetaRepository struct {
	db *gorm.DB
}

func NewMetaRepository(db *gorm.DB) *MetaRepository {
	return &MetaRepository{db: db}
}

// FindCDCMeta returns gorm.ErrRecordNotFound when nothing was saved yet.
func (r *MetaRepository) FindCDCMeta(dataSourceID string) (*CDCMeta, error) {
	var meta CDCMeta
	err := r.db.Where("data_source_id = ?", dataSourceID).First(&meta).Error
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

func (r *MetaRepository) SaveOrUpdateCDCMeta(dataSourceID, dataSourceType, lastPos string) error {
	existing, err := r.FindCDCMeta(dataSourceID)
	if errors.Cause(err) == gorm.ErrRecordNotFound {
		// 不存在则插入
		meta := &CDCMeta{
			DataSourceID:   dataSourceID,
			DataSourceType: dataSourceType,
			LastPos:        lastPos,
		}
		return errors.Annotate(r.db.Create(meta).Error, "insert cdc meta")
	}
	if err != nil {
		return errors.Annotate(err, "query cdc meta")
	}
	// 存在则更新 LastPos
	err = r.db.Model(existing).Updates(map[string]interface{}{
		"last_pos":         lastPos,
		"data_source_type": dataSourceType,
	}).Error
	return errors.Annotate(err, "update cdc meta")
}

func (r *MetaRepository) FindTableMeta(dataSourceID, sc, tb string) (*TableMeta, error) {
	var meta TableMeta
	err := r.db.Where("sc = ? and tb = ? and data_source_id = ?", sc, tb, dataSourceID).First(&meta).Error
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

func (r *MetaRepository) SaveOrUpdateTableMeta(dataSourceID, sc, tb, lastPos, ddl string) error {
	existing, err := r.FindTableMeta(dataSourceID, sc, tb)
	if errors.Cause(err) == gorm.ErrRecordNotFound {
		meta := &TableMeta{
			DataSourceID: dataSourceID,
			Sc:           sc,
			Tb:           tb,
			LastPos:      lastPos,
			LastDDL:      ddl,
		}
		return errors.Annotate(r.db.Create(meta).Error, "insert table meta")
	}
	if err != nil {
		return errors.Annotate(err, "query table meta")
	}
	err = r.db.Model(existing).Updates(map[string]interface{}{
		"last_pos": lastPos,
		"last_ddl": ddl,
	}).Error
	return errors.Annotate(err, "update table meta")
}
