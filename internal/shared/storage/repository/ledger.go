// Package repository 账本相关的存储操作
//
// 账本条目不可变：只有 INSERT 与 SELECT，没有 UPDATE/DELETE。
package repository

import (
	"context"
	"strings"

	"nervix-hub/internal/shared/credit"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
)

const ledgerColumns = `id, type, from_agent_id, to_agent_id, amount, fee,
	balance_after_from, balance_after_to, ref_id, memo, created_at`

// CreateLedgerEntry 追加账本条目
func (s *Store) CreateLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	query := s.rebind(`
		INSERT INTO ledger_entries (id, type, from_agent_id, to_agent_id, amount, fee,
			balance_after_from, balance_after_to, ref_id, memo, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`)
	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.Type, entry.FromAgentID, entry.ToAgentID, entry.Amount, entry.Fee,
		entry.BalanceAfterFrom, entry.BalanceAfterTo, entry.RefID, entry.Memo, entry.CreatedAt)
	return err
}

// ListLedgerEntries 按条件列出账本条目
func (s *Store) ListLedgerEntries(ctx context.Context, filter storage.LedgerFilter) ([]*model.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries`
	var conditions []string
	var args []interface{}

	if filter.AgentID != "" {
		p1 := placeholder(len(args) + 1)
		p2 := placeholder(len(args) + 2)
		conditions = append(conditions, "(from_agent_id = "+p1+" OR to_agent_id = "+p2+")")
		args = append(args, filter.AgentID, filter.AgentID)
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = "+placeholder(len(args)+1))
		args = append(args, filter.Type)
	}
	if filter.RefID != "" {
		conditions = append(conditions, "ref_id = "+placeholder(len(args)+1))
		args = append(args, filter.RefID)
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

	var entries []*model.LedgerEntry
	for rows.Next() {
		entry := &model.LedgerEntry{}
		err := rows.Scan(
			&entry.ID, &entry.Type, &entry.FromAgentID, &entry.ToAgentID, &entry.Amount, &entry.Fee,
			&entry.BalanceAfterFrom, &entry.BalanceAfterTo, &entry.RefID, &entry.Memo, &entry.CreatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SumLedgerByAgent 返回该 Agent 的账本净流入（收入减支出），用于对账
// 金额以 6 位小数字符串存储，求和在应用侧以定点小数计算，避免浮点误差
func (s *Store) SumLedgerByAgent(ctx context.Context, agentID string) (string, error) {
	query := s.rebind(`SELECT amount, from_agent_id, to_agent_id FROM ledger_entries
		WHERE from_agent_id = $1 OR to_agent_id = $2`)
	rows, err := s.db.QueryContext(ctx, query, agentID, agentID)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	net := credit.Zero()
	for rows.Next() {
		var amountStr string
		var fromID, toID *string
		if err := rows.Scan(&amountStr, &fromID, &toID); err != nil {
			return "", err
		}
		amount, err := credit.Parse(amountStr)
		if err != nil {
			return "", err
		}
		if toID != nil && *toID == agentID {
			net = net.Add(amount)
		}
		if fromID != nil && *fromID == agentID {
			net = net.Sub(amount)
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return credit.Format(net), nil
}
