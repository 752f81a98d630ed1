package database

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/log"
)

// Init connects to postgres with dsn, checks the connection and migrates the
// sign tables into the wc schema.
func Init(dsn string) (*gorm.DB, error) {
	cli, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: "wc.",
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect to pg")
	}

	db, err := cli.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get pg conn")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "ping to pg")
	}
	log.Info("Connected to postgres...")

	if err := cli.Exec("CREATE SCHEMA IF NOT EXISTS wc").Error; err != nil {
		return nil, errors.Wrap(err, "create schema")
	}
	err = cli.AutoMigrate(
		&KVRecord{},
		&LifecycleEvent{},
	)
	if err != nil {
		return nil, errors.Wrap(err, "autoMigrate tables")
	}
	return cli, nil
}

func Close(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
