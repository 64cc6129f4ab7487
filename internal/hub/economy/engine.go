// Package economy 信用点经济引擎
//
// 负责余额变动的所有路径：注册赠送、任务托管与结算、点对点转账、
// 托管退还。每次余额变动都伴随账本条目，保证任意时刻
// Agent 余额 == 该 Agent 的账本净流入。
//
// 余额更新采用乐观锁：读取-计算-条件写，冲突时经 storage.WithRetry
// 重读重算。重试域严格限定在单个实体的一次条件写内——跨实体的
// 转账/分账顺序推进，已提交的扣减绝不因后续冲突而重放；后续步骤
// 失败时对已提交的扣减做反向补偿。手续费统一归集到金库账户。
package economy

import (
	"context"
	"errors"
	"time"

	"nervix-hub/internal/hub/events"
	"nervix-hub/internal/shared/credit"
	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
	"nervix-hub/pkg/logging"
)

// Engine 经济引擎
type Engine struct {
	store    storage.PersistentStore
	schedule credit.Schedule
	events   *events.Recorder
	log      *logging.Logger
}

// NewEngine 创建经济引擎
func NewEngine(store storage.PersistentStore, recorder *events.Recorder, schedule credit.Schedule) *Engine {
	return &Engine{
		store:    store,
		schedule: schedule,
		events:   recorder,
		log:      logging.Default("economy"),
	}
}

// Schedule 返回当前费率表
func (e *Engine) Schedule() credit.Schedule {
	return e.schedule
}

// ============================================================================
// 金库
// ============================================================================

// EnsureTreasury 确保金库账户存在（幂等，服务启动时调用）
func (e *Engine) EnsureTreasury(ctx context.Context) error {
	existing, err := e.store.GetAgent(ctx, model.TreasuryAgentID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	now := time.Now().UTC()
	treasury := &model.Agent{
		ID:                 model.TreasuryAgentID,
		Name:               "nervix-treasury",
		DisplayName:        "Platform Treasury",
		Roles:              []model.AgentRole{model.RoleOrchestrator},
		Status:             model.AgentStatusActive,
		CreditBalance:      "0.000000",
		TotalCreditsEarned: "0.000000",
		TotalCreditsSpent:  "0.000000",
		MaxConcurrentTasks: 0,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.store.CreateAgent(ctx, treasury); err != nil {
		// 并发启动时另一实例可能已创建
		if errors.Is(err, storage.ErrDuplicate) {
			return nil
		}
		return err
	}
	e.log.Info("Treasury account created", "agent_id", model.TreasuryAgentID)
	return nil
}

// ============================================================================
// 转账
// ============================================================================

// TransferResult 一次转账的结果
type TransferResult struct {
	// EntryID 转出账本条目 ID（另两条以它为 RefID）
	EntryID string `json:"entry_id"`

	// Amount 转账总额（发送方扣减额）
	Amount string `json:"amount"`

	// Fee 平台手续费
	Fee string `json:"fee"`

	// Net 接收方实收额
	Net string `json:"net"`

	// FromBalance 发送方变动后余额
	FromBalance string `json:"from_balance"`

	// ToBalance 接收方变动后余额
	ToBalance string `json:"to_balance"`
}

// Transfer 点对点转账
//
// 发送方扣减全额，接收方收到扣除手续费后的净额，手续费记入金库。
// 产生三条账本条目：transfer_out / transfer_in / platform_fee。
//
// 三个实体按扣减 → 入账 → 归集的顺序各自条件写；任一后续步骤
// 失败时反向补偿已提交的变动，发送方绝不被重复扣减。
func (e *Engine) Transfer(ctx context.Context, fromID, toID, amountStr, memo string) (*TransferResult, error) {
	if fromID == toID {
		return nil, errdefs.Invalidf("cannot transfer to self")
	}
	amount, err := credit.ParsePositive(amountStr)
	if err != nil {
		return nil, err
	}

	from, err := e.store.GetAgent(ctx, fromID)
	if err != nil {
		return nil, err
	}
	if from == nil {
		return nil, errdefs.NotFoundf("sender %s", fromID)
	}
	to, err := e.store.GetAgent(ctx, toID)
	if err != nil {
		return nil, err
	}
	if to == nil {
		return nil, errdefs.NotFoundf("recipient %s", toID)
	}

	fee, err := e.schedule.Transfer(amount, from.FeeDiscount)
	if err != nil {
		return nil, err
	}
	// 本金低于手续费下限时净额为负，拒绝而非入负账
	if fee.Net.IsNegative() {
		return nil, errdefs.Invalidf("transfer amount %s does not cover the minimum fee %s",
			credit.Format(amount), credit.Format(fee.Fee))
	}

	fromBalance, err := e.debitChecked(ctx, fromID, amount)
	if err != nil {
		return nil, err
	}
	toBalance, err := e.creditByID(ctx, toID, fee.Net)
	if err != nil {
		e.compensateDebit(ctx, fromID, amount)
		return nil, err
	}
	if err := e.creditTreasury(ctx, fee.Fee); err != nil {
		e.compensateCredit(ctx, toID, fee.Net)
		e.compensateDebit(ctx, fromID, amount)
		return nil, err
	}

	now := time.Now().UTC()
	out := &model.LedgerEntry{
		ID:               model.NewID(model.PrefixLedger),
		Type:             model.TxnTransferOut,
		FromAgentID:      &fromID,
		Amount:           credit.Format(amount),
		Fee:              credit.Format(fee.Fee),
		BalanceAfterFrom: &fromBalance,
		Memo:             memo,
		CreatedAt:        now,
	}
	in := &model.LedgerEntry{
		ID:             model.NewID(model.PrefixLedger),
		Type:           model.TxnTransferIn,
		ToAgentID:      &toID,
		Amount:         credit.Format(fee.Net),
		Fee:            "0.000000",
		BalanceAfterTo: &toBalance,
		RefID:          out.ID,
		Memo:           memo,
		CreatedAt:      now,
	}
	treasuryID := model.TreasuryAgentID
	feeEntry := &model.LedgerEntry{
		ID:        model.NewID(model.PrefixLedger),
		Type:      model.TxnPlatformFee,
		ToAgentID: &treasuryID,
		Amount:    credit.Format(fee.Fee),
		Fee:       "0.000000",
		RefID:     out.ID,
		Memo:      "transfer fee",
		CreatedAt: now,
	}
	if err := e.appendLedger(ctx, out, in, feeEntry); err != nil {
		return nil, err
	}

	result := &TransferResult{
		EntryID:     out.ID,
		Amount:      credit.Format(amount),
		Fee:         credit.Format(fee.Fee),
		Net:         credit.Format(fee.Net),
		FromBalance: fromBalance,
		ToBalance:   toBalance,
	}

	e.events.Record(ctx, model.EventTransfer, fromID, result.EntryID, result)
	e.log.Info("Transfer completed",
		"from", fromID, "to", toID, "amount", result.Amount, "fee", result.Fee)
	return result, nil
}

// ============================================================================
// 任务托管与结算
// ============================================================================

// EscrowReward 托管任务悬赏：从发布方余额扣减并记账
func (e *Engine) EscrowReward(ctx context.Context, requesterID, taskID, rewardStr string) error {
	reward, err := credit.ParsePositive(rewardStr)
	if err != nil {
		return err
	}

	after, err := e.debitChecked(ctx, requesterID, reward)
	if err != nil {
		return err
	}

	return e.appendLedger(ctx, &model.LedgerEntry{
		ID:               model.NewID(model.PrefixLedger),
		Type:             model.TxnTaskEscrow,
		FromAgentID:      &requesterID,
		Amount:           credit.Format(reward),
		Fee:              "0.000000",
		BalanceAfterFrom: &after,
		RefID:            taskID,
		Memo:             "reward escrow",
		CreatedAt:        time.Now().UTC(),
	})
}

// RefundEscrow 退还托管悬赏（任务取消或重试耗尽时）
func (e *Engine) RefundEscrow(ctx context.Context, requesterID, taskID, rewardStr, memo string) error {
	reward, err := credit.ParsePositive(rewardStr)
	if err != nil {
		return err
	}

	after, err := e.creditByID(ctx, requesterID, reward)
	if err != nil {
		return err
	}

	return e.appendLedger(ctx, &model.LedgerEntry{
		ID:             model.NewID(model.PrefixLedger),
		Type:           model.TxnEscrowRefund,
		ToAgentID:      &requesterID,
		Amount:         credit.Format(reward),
		Fee:            "0.000000",
		BalanceAfterTo: &after,
		RefID:          taskID,
		Memo:           memo,
		CreatedAt:      time.Now().UTC(),
	})
}

// SettleReward 结算任务悬赏：净额记入承接方，手续费记入金库
//
// 悬赏在任务创建时已托管，这里只做分账。承接方入账与金库归集
// 各自条件写，金库失败时反向补偿承接方。返回费用分解供调用方记录。
func (e *Engine) SettleReward(ctx context.Context, assigneeID, taskID, rewardStr string) (*credit.Breakdown, error) {
	reward, err := credit.ParsePositive(rewardStr)
	if err != nil {
		return nil, err
	}

	assignee, err := e.store.GetAgent(ctx, assigneeID)
	if err != nil {
		return nil, err
	}
	if assignee == nil {
		return nil, errdefs.NotFoundf("assignee %s", assigneeID)
	}

	breakdown, err := e.schedule.TaskSettlement(reward, assignee.FeeDiscount)
	if err != nil {
		return nil, err
	}
	if breakdown.Net.IsNegative() {
		return nil, errdefs.Invalidf("task reward %s does not cover the minimum fee %s",
			credit.Format(reward), credit.Format(breakdown.Fee))
	}

	after, err := e.creditByID(ctx, assigneeID, breakdown.Net)
	if err != nil {
		return nil, err
	}
	if err := e.creditTreasury(ctx, breakdown.Fee); err != nil {
		e.compensateCredit(ctx, assigneeID, breakdown.Net)
		return nil, err
	}

	now := time.Now().UTC()
	rewardEntry := &model.LedgerEntry{
		ID:             model.NewID(model.PrefixLedger),
		Type:           model.TxnTaskReward,
		ToAgentID:      &assigneeID,
		Amount:         credit.Format(breakdown.Net),
		Fee:            credit.Format(breakdown.Fee),
		BalanceAfterTo: &after,
		RefID:          taskID,
		Memo:           "task settlement",
		CreatedAt:      now,
	}
	treasuryID := model.TreasuryAgentID
	feeEntry := &model.LedgerEntry{
		ID:        model.NewID(model.PrefixLedger),
		Type:      model.TxnPlatformFee,
		ToAgentID: &treasuryID,
		Amount:    credit.Format(breakdown.Fee),
		Fee:       "0.000000",
		RefID:     taskID,
		Memo:      "task settlement fee",
		CreatedAt: now,
	}
	if err := e.appendLedger(ctx, rewardEntry, feeEntry); err != nil {
		return nil, err
	}
	return &breakdown, nil
}

// GrantInitialBalance 发放注册赠送的初始余额并记账
//
// Agent 在创建时余额已写为 InitialCreditBalance，这里只补账本条目。
func (e *Engine) GrantInitialBalance(ctx context.Context, agentID string) error {
	balance := model.InitialCreditBalance
	return e.store.CreateLedgerEntry(ctx, &model.LedgerEntry{
		ID:             model.NewID(model.PrefixLedger),
		Type:           model.TxnEnrollmentGrant,
		ToAgentID:      &agentID,
		Amount:         model.InitialCreditBalance,
		Fee:            "0.000000",
		BalanceAfterTo: &balance,
		Memo:           "enrollment grant",
		CreatedAt:      time.Now().UTC(),
	})
}

// RecordBarterFee TON 计价的易货手续费账外记录
//
// 金额列记 0（不参与信用点对账），费用列记 TON 数额。
func (e *Engine) RecordBarterFee(ctx context.Context, payerID, barterID, feeTON, memo string) error {
	return e.store.CreateLedgerEntry(ctx, &model.LedgerEntry{
		ID:          model.NewID(model.PrefixLedger),
		Type:        model.TxnBarterFee,
		FromAgentID: &payerID,
		Amount:      "0.000000",
		Fee:         feeTON,
		RefID:       barterID,
		Memo:        memo,
		CreatedAt:   time.Now().UTC(),
	})
}

// ============================================================================
// 查询与对账
// ============================================================================

// Balance 查询 Agent 当前余额
func (e *Engine) Balance(ctx context.Context, agentID string) (string, error) {
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return "", err
	}
	if agent == nil {
		return "", errdefs.NotFoundf("agent %s", agentID)
	}
	return agent.CreditBalance, nil
}

// History 查询 Agent 的账本流水（最新在前）
func (e *Engine) History(ctx context.Context, agentID string, limit, offset int) ([]*model.LedgerEntry, error) {
	return e.store.ListLedgerEntries(ctx, storage.LedgerFilter{
		AgentID: agentID,
		Limit:   limit,
		Offset:  offset,
	})
}

// Reconciliation 一次对账的结果
type Reconciliation struct {
	AgentID    string `json:"agent_id"`
	Balance    string `json:"balance"`
	LedgerNet  string `json:"ledger_net"`
	Consistent bool   `json:"consistent"`
}

// Reconcile 核对 Agent 余额与账本净流入是否一致
func (e *Engine) Reconcile(ctx context.Context, agentID string) (*Reconciliation, error) {
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, errdefs.NotFoundf("agent %s", agentID)
	}

	net, err := e.store.SumLedgerByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	balance, err := credit.Parse(agent.CreditBalance)
	if err != nil {
		return nil, err
	}
	netAmount, err := credit.Parse(net)
	if err != nil {
		return nil, err
	}

	rec := &Reconciliation{
		AgentID:    agentID,
		Balance:    credit.Format(balance),
		LedgerNet:  credit.Format(netAmount),
		Consistent: balance.Equal(netAmount),
	}
	if !rec.Consistent {
		e.log.Warn("Ledger reconciliation mismatch",
			"agent_id", agentID, "balance", rec.Balance, "ledger_net", rec.LedgerNet)
	}
	return rec, nil
}

// Stats 经济总览
type Stats struct {
	TotalSupply     string                    `json:"total_supply"`
	TreasuryBalance string                    `json:"treasury_balance"`
	TotalVolume     string                    `json:"total_volume"`
	AgentsByStatus  map[model.AgentStatus]int `json:"agents_by_status"`
}

// EconomyStats 汇总流通总量、金库余额与累计交易量
// 交易量取各 Agent 累计支出之和，每笔流转只计一次
func (e *Engine) EconomyStats(ctx context.Context) (*Stats, error) {
	agents, err := e.store.ListAgents(ctx, storage.AgentFilter{})
	if err != nil {
		return nil, err
	}

	supply, volume, treasury := credit.Zero(), credit.Zero(), credit.Zero()
	for _, a := range agents {
		balance, err := credit.Parse(a.CreditBalance)
		if err != nil {
			return nil, err
		}
		supply = supply.Add(balance)
		if a.ID == model.TreasuryAgentID {
			treasury = balance
			continue
		}
		spent, err := credit.Parse(a.TotalCreditsSpent)
		if err != nil {
			return nil, err
		}
		volume = volume.Add(spent)
	}

	counts, err := e.store.CountAgentsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalSupply:     credit.Format(supply),
		TreasuryBalance: credit.Format(treasury),
		TotalVolume:     credit.Format(volume),
		AgentsByStatus:  counts,
	}, nil
}

// ============================================================================
// 余额写入
// ============================================================================

// debitChecked 扣减 Agent 余额并累计支出，返回变动后余额
//
// 余额检查与扣减在同一次读取-条件写内完成，版本冲突时整体
// 重读重试；重试域只覆盖这一个实体。
func (e *Engine) debitChecked(ctx context.Context, agentID string, amount credit.Amount) (string, error) {
	var after string
	err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		agent, err := e.store.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}
		if agent == nil {
			return errdefs.NotFoundf("agent %s", agentID)
		}

		balance, err := credit.Parse(agent.CreditBalance)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return errdefs.ErrInsufficientBalance
		}
		spent, err := credit.Parse(agent.TotalCreditsSpent)
		if err != nil {
			return err
		}

		agent.CreditBalance = credit.Format(balance.Sub(amount))
		agent.TotalCreditsSpent = credit.Format(spent.Add(amount))
		if err := e.store.UpdateAgent(ctx, agent); err != nil {
			return err
		}
		after = agent.CreditBalance
		return nil
	})
	return after, err
}

// creditByID 增加 Agent 余额并累计收入，返回变动后余额
func (e *Engine) creditByID(ctx context.Context, agentID string, amount credit.Amount) (string, error) {
	var after string
	err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		agent, err := e.store.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}
		if agent == nil {
			return errdefs.NotFoundf("agent %s", agentID)
		}

		balance, err := credit.Parse(agent.CreditBalance)
		if err != nil {
			return err
		}
		earned, err := credit.Parse(agent.TotalCreditsEarned)
		if err != nil {
			return err
		}

		agent.CreditBalance = credit.Format(balance.Add(amount))
		agent.TotalCreditsEarned = credit.Format(earned.Add(amount))
		if err := e.store.UpdateAgent(ctx, agent); err != nil {
			return err
		}
		after = agent.CreditBalance
		return nil
	})
	return after, err
}

// creditTreasury 将手续费记入金库
func (e *Engine) creditTreasury(ctx context.Context, fee credit.Amount) error {
	if fee.IsZero() {
		return nil
	}
	_, err := e.creditByID(ctx, model.TreasuryAgentID, fee)
	return err
}

// compensateDebit 反向补偿一次已提交的扣减（余额加回、累计支出扣回）
//
// 只在跨实体序列的后续步骤失败时调用；补偿本身失败时留给对账暴露。
func (e *Engine) compensateDebit(ctx context.Context, agentID string, amount credit.Amount) {
	err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		agent, err := e.store.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}
		if agent == nil {
			return errdefs.NotFoundf("agent %s", agentID)
		}

		balance, err := credit.Parse(agent.CreditBalance)
		if err != nil {
			return err
		}
		spent, err := credit.Parse(agent.TotalCreditsSpent)
		if err != nil {
			return err
		}

		agent.CreditBalance = credit.Format(balance.Add(amount))
		agent.TotalCreditsSpent = credit.Format(spent.Sub(amount))
		return e.store.UpdateAgent(ctx, agent)
	})
	if err != nil {
		e.log.Error("Failed to compensate debit, ledger reconciliation required",
			"agent_id", agentID, "amount", credit.Format(amount), "error", err.Error())
	}
}

// compensateCredit 反向补偿一次已提交的入账
func (e *Engine) compensateCredit(ctx context.Context, agentID string, amount credit.Amount) {
	err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		agent, err := e.store.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}
		if agent == nil {
			return errdefs.NotFoundf("agent %s", agentID)
		}

		balance, err := credit.Parse(agent.CreditBalance)
		if err != nil {
			return err
		}
		earned, err := credit.Parse(agent.TotalCreditsEarned)
		if err != nil {
			return err
		}

		agent.CreditBalance = credit.Format(balance.Sub(amount))
		agent.TotalCreditsEarned = credit.Format(earned.Sub(amount))
		return e.store.UpdateAgent(ctx, agent)
	})
	if err != nil {
		e.log.Error("Failed to compensate credit, ledger reconciliation required",
			"agent_id", agentID, "amount", credit.Format(amount), "error", err.Error())
	}
}

// appendLedger 依次写入账本条目（条目不可变，写入不会冲突）
//
// 写入失败意味着存储整体故障：余额已提交而条目缺失，由 Reconcile
// 暴露差额，错误原样上抛。
func (e *Engine) appendLedger(ctx context.Context, entries ...*model.LedgerEntry) error {
	for _, entry := range entries {
		if err := e.store.CreateLedgerEntry(ctx, entry); err != nil {
			e.log.Error("Failed to append ledger entry",
				"entry_id", entry.ID, "type", string(entry.Type), "error", err.Error())
			return err
		}
	}
	return nil
}
