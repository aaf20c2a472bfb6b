package infrastructure

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewMySQL 打开数据库连接并迁移订单相关的表
func NewMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&OrderModel{},
		&OrderItemModel{},
		&RefundModel{},
		&ModificationRequestModel{},
	); err != nil {
		return nil, err
	}
	return db, nil
}
