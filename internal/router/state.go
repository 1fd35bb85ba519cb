package router

import (
	"fmt"
	"strings"
	"sync"

	"trade-router/internal/execution"
)

// Mode 为路由器执行模式。
type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeLive    Mode = "live"
	ModeDryRun  Mode = "dry_run"
)

// ParseMode 解析模式，大小写不敏感。
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModeSandbox, ModeLive, ModeDryRun:
		return m, nil
	}
	return "", fmt.Errorf("router: 未知模式 %q", raw)
}

// Environment 返回模式对应的适配器环境，dry_run 按沙盒环境解析券商。
func (m Mode) Environment() execution.Environment {
	if m == ModeLive {
		return execution.EnvLive
	}
	return execution.EnvSandbox
}

// Snapshot 为路由器状态的只读副本。
type Snapshot struct {
	Mode               Mode    `json:"mode"`
	DailyNotionalLimit float64 `json:"daily_notional_limit"`
	DailyNotional      float64 `json:"daily_notional"`
}

// StateUpdate 为 PUT /state 的部分更新，nil 字段保持不变。
type StateUpdate struct {
	Mode               *Mode
	DailyNotionalLimit *float64
	// ResetDailyNotional 清零当日计数，由外部定时任务或管理员在换日时调用。
	ResetDailyNotional bool
}

type reservation struct {
	epoch  uint64
	amount float64
}

// state 持有模式与当日名义价值计数，所有读改写都在同一把锁内完成。
type state struct {
	mu    sync.Mutex
	mode  Mode
	limit float64
	used  float64
	// epoch 每次清零加一，清零前的预占不再回写
	epoch uint64
	// held 为挂单仍占用的预占，撤单或成交时结算
	held map[string]reservation
}

func newState(mode Mode, limit float64) *state {
	return &state{mode: mode, limit: limit, held: make(map[string]reservation)}
}

func (s *state) snapshotLocked() Snapshot {
	return Snapshot{Mode: s.mode, DailyNotionalLimit: s.limit, DailyNotional: s.used}
}

func (s *state) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *state) currentMode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *state) apply(update StateUpdate) (before, after Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before = s.snapshotLocked()
	if update.Mode != nil {
		s.mode = *update.Mode
	}
	if update.DailyNotionalLimit != nil {
		s.limit = *update.DailyNotionalLimit
	}
	if update.ResetDailyNotional {
		s.used = 0
		s.epoch++
		s.held = make(map[string]reservation)
	}
	after = s.snapshotLocked()
	return before, after
}

// reserve 检查并占用额度，检查与占用在同一临界区内。
func (s *state) reserve(amount float64) (reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && s.used+amount > s.limit {
		return reservation{}, &DailyLimitError{Limit: s.limit, Used: s.used, Requested: amount}
	}
	s.used += amount
	return reservation{epoch: s.epoch, amount: amount}, nil
}

// settle 用成交名义价值替换预占额度。
func (s *state) settle(r reservation, actual float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.epoch != s.epoch {
		return
	}
	s.used += actual - r.amount
	if s.used < 0 {
		s.used = 0
	}
}

// release 场所调用失败时退回额度。
func (s *state) release(r reservation) {
	s.settle(r, 0)
}

// hold 挂单保留预占，直到撤单时按实际成交结算。
func (s *state) hold(key string, r reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.epoch != s.epoch {
		return
	}
	s.held[key] = r
}

// take 取出挂单预占，同一订单只会被取出一次。
func (s *state) take(key string) (reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.held[key]
	if ok {
		delete(s.held, key)
	}
	return r, ok
}

// consume 计入没有预占的成交，不做上限检查，成交已在场所发生。
func (s *state) consume(amount float64) {
	if amount <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used += amount
}

func holdKey(broker, venueOrderID string) string {
	return broker + "\x00" + venueOrderID
}
