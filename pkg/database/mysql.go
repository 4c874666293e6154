// Package database constructs the relational and cache store handles.
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"learnmate-go/internal/model"
	"learnmate-go/pkg/log"
)

// NewMySQL opens a MySQL connection, configures the pool and migrates the
// document registry table.
func NewMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&model.DocumentRecord{}); err != nil {
		return nil, fmt.Errorf("migrate document_records: %w", err)
	}

	log.Info("MySQL database connected successfully")
	return db, nil
}
