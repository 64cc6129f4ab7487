package mongostore

import (
	"context"

	"nervix-hub/internal/shared/credit"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// LedgerStore（条目不可变，只增不改）
// ============================================================================

func (s *Store) CreateLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	return insertOne(ctx, s.col(ColLedger), entry)
}

func (s *Store) ListLedgerEntries(ctx context.Context, lf storage.LedgerFilter) ([]*model.LedgerEntry, error) {
	filter := bson.D{}
	if lf.AgentID != "" {
		filter = append(filter, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "from_agent_id", Value: lf.AgentID}},
			bson.D{{Key: "to_agent_id", Value: lf.AgentID}},
		}})
	}
	if lf.Type != "" {
		filter = append(filter, bson.E{Key: "type", Value: lf.Type})
	}
	if lf.RefID != "" {
		filter = append(filter, bson.E{Key: "ref_id", Value: lf.RefID})
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if lf.Limit > 0 {
		opts.SetLimit(int64(lf.Limit))
	}
	if lf.Offset > 0 {
		opts.SetSkip(int64(lf.Offset))
	}
	return findMany[model.LedgerEntry](ctx, s.col(ColLedger), filter, opts)
}

// SumLedgerByAgent 返回该 Agent 的账本净流入（收入 - 支出）
//
// 金额为定点小数字符串，求和在 Go 侧以 decimal 精确完成。
func (s *Store) SumLedgerByAgent(ctx context.Context, agentID string) (string, error) {
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "from_agent_id", Value: agentID}},
		bson.D{{Key: "to_agent_id", Value: agentID}},
	}}}
	entries, err := findMany[model.LedgerEntry](ctx, s.col(ColLedger), filter)
	if err != nil {
		return "", err
	}

	net := credit.Zero()
	for _, e := range entries {
		amount, err := credit.Parse(e.Amount)
		if err != nil {
			return "", err
		}
		if e.ToAgentID != nil && *e.ToAgentID == agentID {
			net = net.Add(amount)
		}
		if e.FromAgentID != nil && *e.FromAgentID == agentID {
			net = net.Sub(amount)
		}
	}
	return credit.Format(net), nil
}
