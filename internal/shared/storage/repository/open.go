package repository

import (
	"fmt"

	postgresdriver "nervix-hub/internal/shared/storage/driver/postgres"
	sqlitedriver "nervix-hub/internal/shared/storage/driver/sqlite"
)

// NewSQLite 打开 SQLite 存储并完成自动建表
func NewSQLite(dsn string) (*Store, error) {
	db, err := sqlitedriver.Open(dsn)
	if err != nil {
		return nil, err
	}
	dialect := sqlitedriver.NewDialect()
	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite auto-migrate failed: %w", err)
	}
	return NewStore(db, dialect), nil
}

// NewPostgres 打开 PostgreSQL 存储并完成自动建表
func NewPostgres(databaseURL string) (*Store, error) {
	db, err := postgresdriver.Open(databaseURL)
	if err != nil {
		return nil, err
	}
	dialect := postgresdriver.NewDialect()
	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres auto-migrate failed: %w", err)
	}
	return NewStore(db, dialect), nil
}
