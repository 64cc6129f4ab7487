// Package repository 数据库无关的业务逻辑存储层
//
// 通过 dbutil.Dialect 接口屏蔽不同数据库的 SQL 差异，
// 所有 SQL 以 PostgreSQL 风格编写，运行时由 Dialect.Rebind() 转换。
//
// 带版本列的实体更新采用 "WHERE id = $N AND version = $M" 条件写，
// 命中 0 行时返回 storage.ErrConflict。
package repository

import (
	"database/sql"
	"encoding/json"
	"strconv"

	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage/dbutil"
)

// Store 通用存储实现
// 实现了 storage.PersistentStore 接口
type Store struct {
	db      *sql.DB
	dialect dbutil.Dialect
}

// NewStore 创建通用存储
func NewStore(db *sql.DB, dialect dbutil.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// DB 返回底层数据库连接（仅用于测试）
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect 返回当前方言
func (s *Store) Dialect() dbutil.Dialect {
	return s.dialect
}

// rebind 快捷方法：将 PG 风格 SQL 转换为当前方言
func (s *Store) rebind(query string) string {
	return s.dialect.Rebind(query)
}

// now 返回当前时间戳 SQL 表达式
func (s *Store) now() string {
	return s.dialect.CurrentTimestamp()
}

// placeholder 生成 PG 风格占位符 $N（动态条件拼接用）
func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// marshalStrings 序列化字符串切片为 JSON 列值（nil 存为 '[]'）
func marshalStrings(items []string) []byte {
	if items == nil {
		return []byte("[]")
	}
	data, _ := json.Marshal(items)
	return data
}

// unmarshalStrings 反序列化 JSON 列值为字符串切片
func unmarshalStrings(data []byte) []string {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	var items []string
	json.Unmarshal(data, &items)
	return items
}

// marshalRoles 序列化角色切片为 JSON 列值（nil 存为 '[]'）
func marshalRoles(roles []model.AgentRole) []byte {
	if roles == nil {
		return []byte("[]")
	}
	data, _ := json.Marshal(roles)
	return data
}

// unmarshalRoles 反序列化 JSON 列值为角色切片
func unmarshalRoles(data []byte) []model.AgentRole {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	var roles []model.AgentRole
	json.Unmarshal(data, &roles)
	return roles
}
