// Package repository 知识包与审计记录相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
)

const packageColumns = `id, owner_id, name, description, domain, root_hash, module_count, test_count,
	proficiency, audit_status, quality_score, fair_market_value, listed, listing_price,
	audit_expires_at, total_trades, version, created_at, updated_at`

// CreatePackage 创建知识包
func (s *Store) CreatePackage(ctx context.Context, pkg *model.KnowledgePackage) error {
	query := s.rebind(`
		INSERT INTO knowledge_packages (id, owner_id, name, description, domain, root_hash,
			module_count, test_count, proficiency, audit_status, quality_score, fair_market_value,
			listed, listing_price, audit_expires_at, total_trades, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`)
	_, err := s.db.ExecContext(ctx, query,
		pkg.ID, pkg.OwnerID, pkg.Name, pkg.Description, pkg.Domain, pkg.RootHash,
		pkg.ModuleCount, pkg.TestCount, pkg.Proficiency, pkg.AuditStatus, pkg.QualityScore,
		pkg.FairMarketValue, pkg.Listed, pkg.ListingPrice, pkg.AuditExpiresAt, pkg.TotalTrades,
		pkg.Version, pkg.CreatedAt, pkg.UpdatedAt)
	return err
}

// scanPackage 辅助函数：从数据库行扫描 KnowledgePackage
func scanPackage(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.KnowledgePackage, error) {
	pkg := &model.KnowledgePackage{}
	err := scanner.Scan(
		&pkg.ID, &pkg.OwnerID, &pkg.Name, &pkg.Description, &pkg.Domain, &pkg.RootHash,
		&pkg.ModuleCount, &pkg.TestCount, &pkg.Proficiency, &pkg.AuditStatus, &pkg.QualityScore,
		&pkg.FairMarketValue, &pkg.Listed, &pkg.ListingPrice, &pkg.AuditExpiresAt, &pkg.TotalTrades,
		&pkg.Version, &pkg.CreatedAt, &pkg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

// GetPackage 获取知识包
func (s *Store) GetPackage(ctx context.Context, id string) (*model.KnowledgePackage, error) {
	query := s.rebind(`SELECT ` + packageColumns + ` FROM knowledge_packages WHERE id = $1`)
	pkg, err := scanPackage(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

// ListPackages 按条件列出知识包
func (s *Store) ListPackages(ctx context.Context, filter storage.PackageFilter) ([]*model.KnowledgePackage, error) {
	query := `SELECT ` + packageColumns + ` FROM knowledge_packages`
	var conditions []string
	var args []interface{}

	appendCond := func(cond string, arg interface{}) {
		conditions = append(conditions, strings.Replace(cond, "?", placeholder(len(args)+1), 1))
		args = append(args, arg)
	}

	if filter.OwnerID != "" {
		appendCond("owner_id = ?", filter.OwnerID)
	}
	if filter.AuditStatus != "" {
		appendCond("audit_status = ?", filter.AuditStatus)
	}
	if filter.OnlyListed {
		conditions = append(conditions, "listed = "+s.dialect.BooleanLiteral(true))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET " + placeholder(len(args)+1)
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pkgs []*model.KnowledgePackage
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, rows.Err()
}

// UpdatePackage 版本守护的全量更新
func (s *Store) UpdatePackage(ctx context.Context, pkg *model.KnowledgePackage) error {
	query := s.rebind(`
		UPDATE knowledge_packages SET owner_id = $1, name = $2, description = $3, domain = $4,
			root_hash = $5, module_count = $6, test_count = $7, proficiency = $8,
			audit_status = $9, quality_score = $10, fair_market_value = $11,
			listed = $12, listing_price = $13, audit_expires_at = $14, total_trades = $15,
			version = version + 1, updated_at = ` + s.now() + `
		WHERE id = $16 AND version = $17
	`)
	result, err := s.db.ExecContext(ctx, query,
		pkg.OwnerID, pkg.Name, pkg.Description, pkg.Domain,
		pkg.RootHash, pkg.ModuleCount, pkg.TestCount, pkg.Proficiency,
		pkg.AuditStatus, pkg.QualityScore, pkg.FairMarketValue,
		pkg.Listed, pkg.ListingPrice, pkg.AuditExpiresAt, pkg.TotalTrades,
		pkg.ID, pkg.Version)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrConflict
	}
	pkg.Version++
	return nil
}

// MarkPackageInReview 原子地将 pending 置为 in_review
// 已不在 pending 状态时返回 ErrConflict，防止并发重复审计
func (s *Store) MarkPackageInReview(ctx context.Context, id string) error {
	query := s.rebind(`
		UPDATE knowledge_packages SET audit_status = 'in_review', updated_at = ` + s.now() + `
		WHERE id = $1 AND audit_status = 'pending'
	`)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrConflict
	}
	return nil
}

// ListPackagesWithExpiredAudit 列出审计已过期但仍上架的知识包
func (s *Store) ListPackagesWithExpiredAudit(ctx context.Context, now time.Time) ([]*model.KnowledgePackage, error) {
	query := s.rebind(`SELECT ` + packageColumns + ` FROM knowledge_packages
		WHERE listed = ` + s.dialect.BooleanLiteral(true) + ` AND audit_expires_at IS NOT NULL AND audit_expires_at < $1
		ORDER BY id ASC`)
	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pkgs []*model.KnowledgePackage
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, rows.Err()
}

// DeletePackage 删除知识包（级联删除审计记录）
func (s *Store) DeletePackage(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM knowledge_audits WHERE package_id = $1`), id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM knowledge_packages WHERE id = $1`), id); err != nil {
		return err
	}
	return tx.Commit()
}

// ============================================================================
// 审计记录
// ============================================================================

const auditColumns = `id, package_id, auditor_id, checks, quality_score, verdict,
	fair_market_value, findings, recommendations, expires_at, created_at`

// CreateAudit 创建审计记录
func (s *Store) CreateAudit(ctx context.Context, audit *model.KnowledgeAudit) error {
	checksJSON, _ := json.Marshal(audit.Checks)
	query := s.rebind(`
		INSERT INTO knowledge_audits (id, package_id, auditor_id, checks, quality_score, verdict,
			fair_market_value, findings, recommendations, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`)
	_, err := s.db.ExecContext(ctx, query,
		audit.ID, audit.PackageID, audit.AuditorID, checksJSON, audit.QualityScore, audit.Verdict,
		audit.FairMarketValue, marshalStrings(audit.Findings), marshalStrings(audit.Recommendations),
		audit.ExpiresAt, audit.CreatedAt)
	return err
}

// scanAudit 辅助函数：从数据库行扫描 KnowledgeAudit
func scanAudit(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.KnowledgeAudit, error) {
	audit := &model.KnowledgeAudit{}
	var checksJSON, findingsJSON, recsJSON []byte
	err := scanner.Scan(
		&audit.ID, &audit.PackageID, &audit.AuditorID, &checksJSON, &audit.QualityScore, &audit.Verdict,
		&audit.FairMarketValue, &findingsJSON, &recsJSON, &audit.ExpiresAt, &audit.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(checksJSON) > 0 && string(checksJSON) != "null" {
		json.Unmarshal(checksJSON, &audit.Checks)
	}
	audit.Findings = unmarshalStrings(findingsJSON)
	audit.Recommendations = unmarshalStrings(recsJSON)
	return audit, nil
}

// GetAudit 获取审计记录
func (s *Store) GetAudit(ctx context.Context, id string) (*model.KnowledgeAudit, error) {
	query := s.rebind(`SELECT ` + auditColumns + ` FROM knowledge_audits WHERE id = $1`)
	audit, err := scanAudit(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return audit, nil
}

// GetLatestAuditByPackage 获取知识包最新一次审计
func (s *Store) GetLatestAuditByPackage(ctx context.Context, packageID string) (*model.KnowledgeAudit, error) {
	query := s.rebind(`SELECT ` + auditColumns + ` FROM knowledge_audits
		WHERE package_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`)
	audit, err := scanAudit(s.db.QueryRowContext(ctx, query, packageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return audit, nil
}

// ListAuditsByAuditor 列出审计员经手的审计记录
func (s *Store) ListAuditsByAuditor(ctx context.Context, auditorID string, limit int) ([]*model.KnowledgeAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.rebind(`SELECT ` + auditColumns + ` FROM knowledge_audits
		WHERE auditor_id = $1 ORDER BY created_at DESC LIMIT $2`)
	rows, err := s.db.QueryContext(ctx, query, auditorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []*model.KnowledgeAudit
	for rows.Next() {
		audit, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		audits = append(audits, audit)
	}
	return audits, rows.Err()
}
