package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"backsim/internal/backtest"
	"backsim/internal/engine"
	storemodel "backsim/internal/store/model"
)

type runModel = storemodel.RunModel
type orderModel = storemodel.OrderModel
type tradeModel = storemodel.TradeModel
type snapshotModel = storemodel.SnapshotModel
type skipModel = storemodel.SkipModel

// GormStore 基于 Gorm + SQLite 持久化回测结果。
type GormStore struct {
	db *gorm.DB
}

var _ backtest.ResultStore = (*GormStore)(nil)

// NewGormStore 打开（必要时创建）结果库并完成迁移。
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 结果库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&runModel{},
		&orderModel{},
		&tradeModel{},
		&snapshotModel{},
		&skipModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --------------------------- Run ------------------------------------

func (s *GormStore) InsertRun(ctx context.Context, run backtest.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	model, err := newRunModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "message", "config_json", "updated_at"}),
		}).
		Create(&model).Error
}

func (s *GormStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	payload := map[string]interface{}{
		"status":     status,
		"message":    message,
		"updated_at": time.Now().UnixMilli(),
	}
	if status == backtest.RunStatusDone || status == backtest.RunStatusFailed {
		payload["completed_at"] = time.Now().UnixMilli()
	}
	res := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(payload)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CompleteRun 在一个事务里落结果、订单、成交与资金曲线。
func (s *GormStore) CompleteRun(ctx context.Context, id string, result *engine.BacktestResult, orders []*engine.Order, trades []engine.Trade, snapshots []backtest.Snapshot, skips []engine.BarSkip) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if result == nil {
		return fmt.Errorf("result 不能为空")
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&runModel{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":       backtest.RunStatusDone,
			"message":      "",
			"result_json":  datatypes.JSON(resultJSON),
			"total_return": result.TotalReturn,
			"max_drawdown": result.MaxDrawdown,
			"sharpe_ratio": result.SharpeRatio,
			"win_rate":     result.WinRate,
			"total_trades": result.TotalTrades,
			"updated_at":   now,
			"completed_at": now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if len(orders) > 0 {
			models := make([]orderModel, 0, len(orders))
			for _, o := range orders {
				if o == nil {
					continue
				}
				models = append(models, newOrderModel(id, o))
			}
			if err := tx.CreateInBatches(&models, 200).Error; err != nil {
				return err
			}
		}
		if len(trades) > 0 {
			models := make([]tradeModel, 0, len(trades))
			for _, t := range trades {
				models = append(models, newTradeModel(id, t))
			}
			if err := tx.CreateInBatches(&models, 200).Error; err != nil {
				return err
			}
		}
		if len(snapshots) > 0 {
			models := make([]snapshotModel, 0, len(snapshots))
			for _, sn := range snapshots {
				models = append(models, snapshotModel{
					RunID:    id,
					TS:       sn.TS,
					Equity:   sn.Equity,
					Cash:     sn.Cash,
					Drawdown: sn.Drawdown,
					Status:   sn.Status,
				})
			}
			if err := tx.CreateInBatches(&models, 500).Error; err != nil {
				return err
			}
		}
		if len(skips) > 0 {
			models := make([]skipModel, 0, len(skips))
			for _, sk := range skips {
				models = append(models, skipModel{
					RunID:  id,
					TS:     sk.TS,
					Symbol: sk.Symbol,
					Status: string(sk.Status),
				})
			}
			if err := tx.CreateInBatches(&models, 500).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) GetRun(ctx context.Context, id string) (backtest.Run, error) {
	if s == nil || s.db == nil {
		return backtest.Run{}, fmt.Errorf("gorm store 未初始化")
	}
	var model runModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return backtest.Run{}, fmt.Errorf("run %s 不存在", id)
		}
		return backtest.Run{}, err
	}
	return runModelToRun(model)
}

func (s *GormStore) ListRuns(ctx context.Context, limit int) ([]backtest.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []runModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]backtest.Run, 0, len(models))
	for _, m := range models {
		run, err := runModelToRun(m)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// --------------------------- Detail Lists ------------------------------------

func (s *GormStore) ListOrders(ctx context.Context, runID string, limit int) ([]engine.Order, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 2000 {
		limit = 200
	}
	var models []orderModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]engine.Order, 0, len(models))
	for _, m := range models {
		out = append(out, orderModelToOrder(m))
	}
	return out, nil
}

func (s *GormStore) ListTrades(ctx context.Context, runID string, limit int) ([]engine.Trade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 2000 {
		limit = 200
	}
	var models []tradeModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("ts ASC, id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]engine.Trade, 0, len(models))
	for _, m := range models {
		out = append(out, tradeModelToTrade(m))
	}
	return out, nil
}

func (s *GormStore) ListSnapshots(ctx context.Context, runID string, limit int) ([]backtest.Snapshot, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 10000 {
		limit = 2000
	}
	var models []snapshotModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("ts ASC, id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]backtest.Snapshot, 0, len(models))
	for _, m := range models {
		out = append(out, backtest.Snapshot{
			ID:       m.ID,
			RunID:    m.RunID,
			TS:       m.TS,
			Equity:   m.Equity,
			Cash:     m.Cash,
			Drawdown: m.Drawdown,
			Status:   m.Status,
		})
	}
	return out, nil
}

func (s *GormStore) ListSkips(ctx context.Context, runID string, limit int) ([]engine.BarSkip, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}
	var models []skipModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("ts ASC, id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]engine.BarSkip, 0, len(models))
	for _, m := range models {
		out = append(out, engine.BarSkip{
			TS:     m.TS,
			Symbol: m.Symbol,
			Status: engine.MarketStatus(m.Status),
		})
	}
	return out, nil
}

// --------------------------- Model Helpers ------------------------------------

func newRunModel(run backtest.Run) (runModel, error) {
	cfgJSON, err := run.MarshalConfig()
	if err != nil {
		return runModel{}, err
	}
	resultJSON, err := run.MarshalResult()
	if err != nil {
		return runModel{}, err
	}
	now := time.Now().UnixMilli()
	model := runModel{
		ID:            run.ID,
		Symbol:        strings.ToUpper(strings.TrimSpace(run.Symbol)),
		Strategy:      run.Strategy,
		Status:        run.Status,
		StartTS:       run.StartTS,
		EndTS:         run.EndTS,
		Timeframe:     run.Timeframe,
		Message:       run.Message,
		ConfigJSON:    datatypes.JSON(cfgJSON),
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
	if len(resultJSON) > 0 {
		model.ResultJSON = datatypes.JSON(resultJSON)
	}
	if !run.CreatedAt.IsZero() {
		model.CreatedAtUnix = run.CreatedAt.UnixMilli()
	}
	return model, nil
}

func runModelToRun(m runModel) (backtest.Run, error) {
	run := backtest.Run{
		ID:        m.ID,
		Symbol:    m.Symbol,
		Strategy:  m.Strategy,
		Status:    m.Status,
		StartTS:   m.StartTS,
		EndTS:     m.EndTS,
		Timeframe: m.Timeframe,
		Message:   m.Message,
		CreatedAt: millisToTime(m.CreatedAtUnix),
		UpdatedAt: millisToTime(m.UpdatedAtUnix),
	}
	if m.CompletedUnix > 0 {
		run.CompletedAt = millisToTime(m.CompletedUnix)
	}
	if len(m.ConfigJSON) > 0 {
		if err := json.Unmarshal(m.ConfigJSON, &run.Config); err != nil {
			return backtest.Run{}, fmt.Errorf("config_json 解析失败: %w", err)
		}
	}
	if len(m.ResultJSON) > 0 {
		var result engine.BacktestResult
		if err := json.Unmarshal(m.ResultJSON, &result); err != nil {
			return backtest.Run{}, fmt.Errorf("result_json 解析失败: %w", err)
		}
		run.Result = &result
	}
	return run, nil
}

func newOrderModel(runID string, o *engine.Order) orderModel {
	return orderModel{
		RunID:         runID,
		OrderID:       o.ID,
		Symbol:        o.Symbol,
		Side:          string(o.Side),
		Type:          string(o.Type),
		Status:        string(o.Status),
		Quantity:      o.Quantity,
		Price:         o.Price,
		StopPrice:     o.StopPrice,
		FilledQty:     o.FilledQuantity,
		FilledPrice:   o.FilledPrice,
		Commission:    o.Commission,
		Slippage:      o.Slippage,
		Note:          o.Note,
		CreatedAtUnix: o.CreatedAt.UnixMilli(),
	}
}

func orderModelToOrder(m orderModel) engine.Order {
	return engine.Order{
		ID:             m.OrderID,
		CreatedAt:      millisToTime(m.CreatedAtUnix),
		Symbol:         m.Symbol,
		Side:           engine.Side(m.Side),
		Type:           engine.OrderType(m.Type),
		Status:         engine.OrderStatus(m.Status),
		Quantity:       m.Quantity,
		Price:          m.Price,
		StopPrice:      m.StopPrice,
		FilledQuantity: m.FilledQty,
		FilledPrice:    m.FilledPrice,
		Commission:     m.Commission,
		Slippage:       m.Slippage,
		Note:           m.Note,
	}
}

func newTradeModel(runID string, t engine.Trade) tradeModel {
	return tradeModel{
		RunID:      runID,
		TradeID:    t.ID,
		OrderID:    t.OrderID,
		Symbol:     t.Symbol,
		Side:       string(t.Side),
		Quantity:   t.Quantity,
		Price:      t.Price,
		Commission: t.Commission,
		Slippage:   t.Slippage,
		TotalCost:  t.TotalCost,
		Timestamp:  t.Timestamp.UnixMilli(),
	}
}

func tradeModelToTrade(m tradeModel) engine.Trade {
	return engine.Trade{
		ID:         m.TradeID,
		OrderID:    m.OrderID,
		Timestamp:  millisToTime(m.Timestamp),
		Symbol:     m.Symbol,
		Side:       engine.Side(m.Side),
		Quantity:   m.Quantity,
		Price:      m.Price,
		Commission: m.Commission,
		Slippage:   m.Slippage,
		TotalCost:  m.TotalCost,
	}
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
