// Package repository 易货交易相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
)

const barterColumns = `id, status, fee_status, proposer_id, responder_id,
	offered_package_id, requested_package_id, offered_fmv, requested_fmv,
	fmv_difference_percent, fairness_acked, per_side_fee_ton,
	proposer_fee_tx_hash, responder_fee_tx_hash, proposer_verified, responder_verified,
	deadline, completed_at, version, created_at, updated_at`

// CreateBarter 创建易货交易
func (s *Store) CreateBarter(ctx context.Context, barter *model.BarterTransaction) error {
	query := s.rebind(`
		INSERT INTO barter_transactions (id, status, fee_status, proposer_id, responder_id,
			offered_package_id, requested_package_id, offered_fmv, requested_fmv,
			fmv_difference_percent, fairness_acked, per_side_fee_ton,
			proposer_fee_tx_hash, responder_fee_tx_hash, proposer_verified, responder_verified,
			deadline, completed_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`)
	_, err := s.db.ExecContext(ctx, query,
		barter.ID, barter.Status, barter.FeeStatus, barter.ProposerID, barter.ResponderID,
		barter.OfferedPackageID, barter.RequestedPackageID, barter.OfferedFMV, barter.RequestedFMV,
		barter.FMVDifferencePercent, barter.FairnessAcked, barter.PerSideFeeTON,
		barter.ProposerFeeTxHash, barter.ResponderFeeTxHash, barter.ProposerVerified, barter.ResponderVerified,
		barter.Deadline, barter.CompletedAt, barter.Version, barter.CreatedAt, barter.UpdatedAt)
	return err
}

// scanBarter 辅助函数：从数据库行扫描 BarterTransaction
func scanBarter(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.BarterTransaction, error) {
	barter := &model.BarterTransaction{}
	err := scanner.Scan(
		&barter.ID, &barter.Status, &barter.FeeStatus, &barter.ProposerID, &barter.ResponderID,
		&barter.OfferedPackageID, &barter.RequestedPackageID, &barter.OfferedFMV, &barter.RequestedFMV,
		&barter.FMVDifferencePercent, &barter.FairnessAcked, &barter.PerSideFeeTON,
		&barter.ProposerFeeTxHash, &barter.ResponderFeeTxHash, &barter.ProposerVerified, &barter.ResponderVerified,
		&barter.Deadline, &barter.CompletedAt, &barter.Version, &barter.CreatedAt, &barter.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return barter, nil
}

// GetBarter 获取易货交易
func (s *Store) GetBarter(ctx context.Context, id string) (*model.BarterTransaction, error) {
	query := s.rebind(`SELECT ` + barterColumns + ` FROM barter_transactions WHERE id = $1`)
	barter, err := scanBarter(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return barter, nil
}

// ListBarters 按条件列出易货交易
func (s *Store) ListBarters(ctx context.Context, filter storage.BarterFilter) ([]*model.BarterTransaction, error) {
	query := `SELECT ` + barterColumns + ` FROM barter_transactions`
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, "status = "+placeholder(len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.PartyID != "" {
		p1 := placeholder(len(args) + 1)
		p2 := placeholder(len(args) + 2)
		conditions = append(conditions, "(proposer_id = "+p1+" OR responder_id = "+p2+")")
		args = append(args, filter.PartyID, filter.PartyID)
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

	var barters []*model.BarterTransaction
	for rows.Next() {
		barter, err := scanBarter(rows)
		if err != nil {
			return nil, err
		}
		barters = append(barters, barter)
	}
	return barters, rows.Err()
}

// UpdateBarter 版本守护的全量更新
func (s *Store) UpdateBarter(ctx context.Context, barter *model.BarterTransaction) error {
	query := s.rebind(`
		UPDATE barter_transactions SET status = $1, fee_status = $2, requested_package_id = $3,
			offered_fmv = $4, requested_fmv = $5, fmv_difference_percent = $6, fairness_acked = $7,
			per_side_fee_ton = $8, proposer_fee_tx_hash = $9, responder_fee_tx_hash = $10,
			proposer_verified = $11, responder_verified = $12, deadline = $13, completed_at = $14,
			version = version + 1, updated_at = ` + s.now() + `
		WHERE id = $15 AND version = $16
	`)
	result, err := s.db.ExecContext(ctx, query,
		barter.Status, barter.FeeStatus, barter.RequestedPackageID,
		barter.OfferedFMV, barter.RequestedFMV, barter.FMVDifferencePercent, barter.FairnessAcked,
		barter.PerSideFeeTON, barter.ProposerFeeTxHash, barter.ResponderFeeTxHash,
		barter.ProposerVerified, barter.ResponderVerified, barter.Deadline, barter.CompletedAt,
		barter.ID, barter.Version)
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
	barter.Version++
	return nil
}

// ListExpiredBarters 列出已过截止时间且未到终态的交易
func (s *Store) ListExpiredBarters(ctx context.Context, now time.Time, limit int) ([]*model.BarterTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.rebind(`SELECT ` + barterColumns + ` FROM barter_transactions
		WHERE deadline < $1 AND status IN ('proposed', 'countered', 'accepted', 'fee_locked', 'verifying')
		ORDER BY deadline ASC LIMIT $2`)
	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var barters []*model.BarterTransaction
	for rows.Next() {
		barter, err := scanBarter(rows)
		if err != nil {
			return nil, err
		}
		barters = append(barters, barter)
	}
	return barters, rows.Err()
}
