package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SQLiteRepository 为 OrderRepository 的 SQLite 实现。
type SQLiteRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ OrderRepository = (*SQLiteRepository)(nil)

// NewOrderRepository 初始化订单仓储，创建所需表结构。
func NewOrderRepository(store *Store, logger *zap.Logger) (*SQLiteRepository, error) {
	if store == nil {
		return nil, errors.New("store: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	repo := &SQLiteRepository{
		db:     store.DB(),
		logger: logger,
	}
	if err := repo.initSchema(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *SQLiteRepository) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_order_id TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL,
			account_id TEXT NOT NULL DEFAULT '',
			broker TEXT NOT NULL,
			venue TEXT NOT NULL,
			venue_order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			time_in_force TEXT NOT NULL DEFAULT '',
			quantity REAL NOT NULL,
			limit_price REAL,
			status TEXT NOT NULL,
			filled_quantity REAL NOT NULL DEFAULT 0,
			average_price REAL,
			mode TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			notes TEXT NOT NULL DEFAULT '',
			submitted_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (broker, venue_order_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_account_symbol ON orders(account_id, symbol);`,
		`CREATE TABLE IF NOT EXISTS order_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			quantity REAL NOT NULL,
			price REAL NOT NULL,
			executed_at INTEGER NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_order_executions_order ON order_executions(order_id);`,
		`CREATE INDEX IF NOT EXISTS idx_order_executions_time ON order_executions(executed_at);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_order_executions_cancel ON order_executions(order_id) WHERE kind = 'cancel';`,
		`CREATE TABLE IF NOT EXISTS simulated_executions (
			id TEXT PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			account_id TEXT NOT NULL DEFAULT '',
			broker TEXT NOT NULL,
			venue TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			quantity REAL NOT NULL,
			price REAL NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			executed_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_simulated_executions_time ON simulated_executions(executed_at);`,
	}

	for _, stmt := range schema {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: 初始化表结构失败: %w", err)
		}
	}
	return nil
}

// CreateOrder 在单个事务内写入订单与成交。
func (r *SQLiteRepository) CreateOrder(ctx context.Context, order *Order) (err error) {
	if order == nil {
		return errors.New("store: order 不能为空")
	}

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	tags, err := encodeTags(order.Tags)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, execErr := tx.ExecContext(ctx,
		`INSERT INTO orders (client_order_id, correlation_id, account_id, broker, venue, venue_order_id, symbol, side,
			order_type, time_in_force, quantity, limit_price, status, filled_quantity, average_price, mode, tags, notes,
			submitted_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ClientOrderID, order.CorrelationID, order.AccountID, order.Broker, order.Venue, order.VenueOrderID,
		order.Symbol, order.Side, order.OrderType, order.TimeInForce, order.Quantity, nullFloat(order.LimitPrice),
		order.Status, order.FilledQuantity, nullFloat(order.AveragePrice), order.Mode, tags, order.Notes,
		order.SubmittedAt.UnixNano(), order.CreatedAt.UnixNano(), order.UpdatedAt.UnixNano(),
	)
	if execErr != nil {
		err = fmt.Errorf("store: 写入订单失败: %w", execErr)
		return err
	}
	orderID, idErr := res.LastInsertId()
	if idErr != nil {
		err = fmt.Errorf("store: 读取订单 ID 失败: %w", idErr)
		return err
	}

	for i := range order.Executions {
		exec := &order.Executions[i]
		exec.OrderID = orderID
		if exec.Kind == "" {
			exec.Kind = ExecutionKindFill
		}
		if exec.CreatedAt.IsZero() {
			exec.CreatedAt = now
		}
		if insErr := insertExecution(ctx, tx, exec); insErr != nil {
			err = insErr
			return err
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		err = fmt.Errorf("store: 提交事务失败: %w", commitErr)
		return err
	}

	order.ID = orderID
	return nil
}

// LoadOrder 根据券商与场所订单号读取订单及成交。
func (r *SQLiteRepository) LoadOrder(ctx context.Context, broker, venueOrderID string) (Order, error) {
	row := r.db.QueryRowContext(ctx, selectOrderSQL+` WHERE broker = ? AND venue_order_id = ?`, broker, venueOrderID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("store: 查询订单失败: %w", err)
	}

	execs, err := r.loadExecutions(ctx, order.ID)
	if err != nil {
		return Order{}, err
	}
	order.Executions = execs
	return order, nil
}

// RecordCancellation 在事务内检查既有撤单记录，没有时写入新增成交、撤单审计并更新订单状态。
func (r *SQLiteRepository) RecordCancellation(ctx context.Context, orderID int64, c Cancellation) (recorded bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var existing int
	if scanErr := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM order_executions WHERE order_id = ? AND kind = ?`, orderID, ExecutionKindCancel,
	).Scan(&existing); scanErr != nil {
		err = fmt.Errorf("store: 查询撤单记录失败: %w", scanErr)
		return false, err
	}
	if existing > 0 {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Warn("回滚撤单事务失败", zap.Error(rbErr))
		}
		return false, nil
	}

	now := time.Now().UTC()
	res, execErr := tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, filled_quantity = ?, average_price = COALESCE(?, average_price), updated_at = ?
		 WHERE id = ?`,
		c.Status, c.FilledQuantity, nullFloat(c.AveragePrice), now.UnixNano(), orderID)
	if execErr != nil {
		err = fmt.Errorf("store: 更新订单状态失败: %w", execErr)
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ErrNotFound
		return false, err
	}

	for i := range c.Fills {
		fill := c.Fills[i]
		fill.OrderID = orderID
		fill.Kind = ExecutionKindFill
		if fill.CreatedAt.IsZero() {
			fill.CreatedAt = now
		}
		if insErr := insertExecution(ctx, tx, &fill); insErr != nil {
			err = insErr
			return false, err
		}
	}

	audit := c.Audit
	audit.OrderID = orderID
	audit.Kind = ExecutionKindCancel
	audit.Quantity = 0
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = now
	}
	if audit.ExecutedAt.IsZero() {
		audit.ExecutedAt = now
	}
	if insErr := insertExecution(ctx, tx, &audit); insErr != nil {
		err = insErr
		return false, err
	}

	if commitErr := tx.Commit(); commitErr != nil {
		err = fmt.Errorf("store: 提交事务失败: %w", commitErr)
		return false, err
	}
	return true, nil
}

// ListOrders 按过滤条件分页列出订单，按提交时间倒序。
func (r *SQLiteRepository) ListOrders(ctx context.Context, filter Filter) ([]Order, error) {
	filter = filter.normalized()
	where, args := buildWhere(filter, "submitted_at", "")

	query := selectOrderSQL + where + ` ORDER BY submitted_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: 查询订单列表失败: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0, filter.Limit)
	for rows.Next() {
		order, scanErr := scanOrder(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("store: 解析订单失败: %w", scanErr)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 读取订单失败: %w", err)
	}
	// 先关闭游标，内存库只有一个连接
	rows.Close()

	for i := range orders {
		execs, execErr := r.loadExecutions(ctx, orders[i].ID)
		if execErr != nil {
			return nil, execErr
		}
		orders[i].Executions = execs
	}
	return orders, nil
}

// ListExecutions 按过滤条件分页列出成交，按成交时间倒序。
func (r *SQLiteRepository) ListExecutions(ctx context.Context, filter Filter) ([]ExecutionView, error) {
	filter = filter.normalized()
	where, args := buildWhere(filter, "e.executed_at", "o.")

	query := `SELECT e.id, e.order_id, e.kind, e.quantity, e.price, e.executed_at, e.notes, e.created_at,
			o.account_id, o.broker, o.venue, o.venue_order_id, o.symbol, o.side, o.tags
		FROM order_executions e JOIN orders o ON o.id = e.order_id` + where +
		` ORDER BY e.executed_at DESC, e.id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: 查询成交列表失败: %w", err)
	}
	defer rows.Close()

	views := make([]ExecutionView, 0, filter.Limit)
	for rows.Next() {
		var (
			v          ExecutionView
			executedAt int64
			createdAt  int64
			tags       string
		)
		if scanErr := rows.Scan(&v.ID, &v.OrderID, &v.Kind, &v.Quantity, &v.Price, &executedAt, &v.Notes, &createdAt,
			&v.AccountID, &v.Broker, &v.Venue, &v.VenueOrderID, &v.Symbol, &v.Side, &tags); scanErr != nil {
			return nil, fmt.Errorf("store: 解析成交失败: %w", scanErr)
		}
		v.ExecutedAt = fromNanos(executedAt)
		v.CreatedAt = fromNanos(createdAt)
		v.Tags = decodeTags(tags)
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 读取成交失败: %w", err)
	}
	return views, nil
}

// LedgerFills 按成交时间正序返回全部真实成交。
func (r *SQLiteRepository) LedgerFills(ctx context.Context) ([]LedgerFill, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT o.account_id, o.symbol, o.side, e.quantity, e.price, e.executed_at
		 FROM order_executions e JOIN orders o ON o.id = e.order_id
		 WHERE e.kind = ? AND e.quantity > 0
		 ORDER BY e.executed_at ASC, e.id ASC`, ExecutionKindFill)
	if err != nil {
		return nil, fmt.Errorf("store: 查询成交流水失败: %w", err)
	}
	return scanLedger(rows)
}

// CreateSimulated 写入一条模拟成交。
func (r *SQLiteRepository) CreateSimulated(ctx context.Context, exec *SimulatedExecution) error {
	if exec == nil {
		return errors.New("store: simulated execution 不能为空")
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}
	tags, err := encodeTags(exec.Tags)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO simulated_executions (id, correlation_id, account_id, broker, venue, symbol, side, order_type,
			quantity, price, tags, executed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.CorrelationID, exec.AccountID, exec.Broker, exec.Venue, exec.Symbol, exec.Side, exec.OrderType,
		exec.Quantity, exec.Price, tags, exec.ExecutedAt.UnixNano(), exec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: 写入模拟成交失败: %w", err)
	}
	return nil
}

// LoadSimulated 读取单条模拟成交。
func (r *SQLiteRepository) LoadSimulated(ctx context.Context, id string) (SimulatedExecution, error) {
	row := r.db.QueryRowContext(ctx, selectSimulatedSQL+` WHERE id = ?`, id)
	exec, err := scanSimulated(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SimulatedExecution{}, ErrNotFound
		}
		return SimulatedExecution{}, fmt.Errorf("store: 查询模拟成交失败: %w", err)
	}
	return exec, nil
}

// ListSimulated 按过滤条件分页列出模拟成交。
func (r *SQLiteRepository) ListSimulated(ctx context.Context, filter Filter) ([]SimulatedExecution, error) {
	filter = filter.normalized()
	where, args := buildWhere(filter, "executed_at", "")

	query := selectSimulatedSQL + where + ` ORDER BY executed_at DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: 查询模拟成交列表失败: %w", err)
	}
	defer rows.Close()

	execs := make([]SimulatedExecution, 0, filter.Limit)
	for rows.Next() {
		exec, scanErr := scanSimulated(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("store: 解析模拟成交失败: %w", scanErr)
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 读取模拟成交失败: %w", err)
	}
	return execs, nil
}

// SimulatedFills 按成交时间正序返回全部模拟成交。
func (r *SQLiteRepository) SimulatedFills(ctx context.Context) ([]LedgerFill, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT account_id, symbol, side, quantity, price, executed_at
		 FROM simulated_executions ORDER BY executed_at ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: 查询模拟成交流水失败: %w", err)
	}
	return scanLedger(rows)
}

const selectOrderSQL = `SELECT id, client_order_id, correlation_id, account_id, broker, venue, venue_order_id, symbol, side,
	order_type, time_in_force, quantity, limit_price, status, filled_quantity, average_price, mode, tags, notes,
	submitted_at, created_at, updated_at FROM orders`

const selectSimulatedSQL = `SELECT id, correlation_id, account_id, broker, venue, symbol, side, order_type,
	quantity, price, tags, executed_at, created_at FROM simulated_executions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var (
		o           Order
		limitPrice  sql.NullFloat64
		avgPrice    sql.NullFloat64
		tags        string
		submittedAt int64
		createdAt   int64
		updatedAt   int64
	)
	if err := row.Scan(&o.ID, &o.ClientOrderID, &o.CorrelationID, &o.AccountID, &o.Broker, &o.Venue, &o.VenueOrderID,
		&o.Symbol, &o.Side, &o.OrderType, &o.TimeInForce, &o.Quantity, &limitPrice, &o.Status, &o.FilledQuantity,
		&avgPrice, &o.Mode, &tags, &o.Notes, &submittedAt, &createdAt, &updatedAt); err != nil {
		return Order{}, err
	}
	o.LimitPrice = floatPtr(limitPrice)
	o.AveragePrice = floatPtr(avgPrice)
	o.Tags = decodeTags(tags)
	o.SubmittedAt = fromNanos(submittedAt)
	o.CreatedAt = fromNanos(createdAt)
	o.UpdatedAt = fromNanos(updatedAt)
	return o, nil
}

func scanSimulated(row rowScanner) (SimulatedExecution, error) {
	var (
		e          SimulatedExecution
		tags       string
		executedAt int64
		createdAt  int64
	)
	if err := row.Scan(&e.ID, &e.CorrelationID, &e.AccountID, &e.Broker, &e.Venue, &e.Symbol, &e.Side, &e.OrderType,
		&e.Quantity, &e.Price, &tags, &executedAt, &createdAt); err != nil {
		return SimulatedExecution{}, err
	}
	e.Tags = decodeTags(tags)
	e.ExecutedAt = fromNanos(executedAt)
	e.CreatedAt = fromNanos(createdAt)
	return e, nil
}

func scanLedger(rows *sql.Rows) ([]LedgerFill, error) {
	defer rows.Close()

	fills := make([]LedgerFill, 0)
	for rows.Next() {
		var (
			f          LedgerFill
			executedAt int64
		)
		if err := rows.Scan(&f.AccountID, &f.Symbol, &f.Side, &f.Quantity, &f.Price, &executedAt); err != nil {
			return nil, fmt.Errorf("store: 解析成交流水失败: %w", err)
		}
		f.ExecutedAt = fromNanos(executedAt)
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 读取成交流水失败: %w", err)
	}
	return fills, nil
}

func (r *SQLiteRepository) loadExecutions(ctx context.Context, orderID int64) ([]Execution, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_id, kind, quantity, price, executed_at, notes, created_at
		 FROM order_executions WHERE order_id = ? ORDER BY executed_at ASC, id ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("store: 查询订单成交失败: %w", err)
	}
	defer rows.Close()

	execs := make([]Execution, 0)
	for rows.Next() {
		var (
			e          Execution
			executedAt int64
			createdAt  int64
		)
		if scanErr := rows.Scan(&e.ID, &e.OrderID, &e.Kind, &e.Quantity, &e.Price, &executedAt, &e.Notes, &createdAt); scanErr != nil {
			return nil, fmt.Errorf("store: 解析订单成交失败: %w", scanErr)
		}
		e.ExecutedAt = fromNanos(executedAt)
		e.CreatedAt = fromNanos(createdAt)
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 读取订单成交失败: %w", err)
	}
	return execs, nil
}

func insertExecution(ctx context.Context, tx *sql.Tx, exec *Execution) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO order_executions (order_id, kind, quantity, price, executed_at, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exec.OrderID, exec.Kind, exec.Quantity, exec.Price, exec.ExecutedAt.UnixNano(), exec.Notes, exec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: 写入成交失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: 读取成交 ID 失败: %w", err)
	}
	exec.ID = id
	return nil
}

func buildWhere(f Filter, timeColumn, prefix string) (string, []any) {
	clauses := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if f.AccountID != "" {
		clauses = append(clauses, prefix+"account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Broker != "" {
		clauses = append(clauses, "LOWER("+prefix+"broker) = LOWER(?)")
		args = append(args, f.Broker)
	}
	if f.Symbol != "" {
		clauses = append(clauses, "UPPER("+prefix+"symbol) = UPPER(?)")
		args = append(args, f.Symbol)
	}
	if f.Tag != "" {
		clauses = append(clauses, prefix+`tags LIKE ? ESCAPE '\'`)
		args = append(args, tagPattern(f.Tag))
	}
	if f.Strategy != "" {
		clauses = append(clauses, prefix+`tags LIKE ? ESCAPE '\'`)
		args = append(args, tagPattern(StrategyTag(f.Strategy)))
	}
	if !f.From.IsZero() {
		clauses = append(clauses, timeColumn+" >= ?")
		args = append(args, f.From.UnixNano())
	}
	if !f.To.IsZero() {
		clauses = append(clauses, timeColumn+" <= ?")
		args = append(args, f.To.UnixNano())
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// tagPattern 匹配 JSON 数组中的完整标签，标签内的通配符按字面量处理。
func tagPattern(tag string) string {
	encoded, _ := json.Marshal(tag)
	return "%" + likeEscaper.Replace(string(encoded)) + "%"
}

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("store: 序列化标签失败: %w", err)
	}
	return string(raw), nil
}

func decodeTags(raw string) []string {
	var tags []string
	if raw == "" {
		return tags
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func fromNanos(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}
