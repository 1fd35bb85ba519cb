package risk

import (
	"sync"
	"time"
)

// AlertEntry 为内存中保存的一条预警。
type AlertEntry struct {
	Signal
	AccountID string    `json:"account_id,omitempty"`
	Broker    string    `json:"broker"`
	Symbol    string    `json:"symbol"`
	At        time.Time `json:"at"`
}

// AlertLog 为定长环形缓冲，满后覆盖最旧记录。
type AlertLog struct {
	mu      sync.Mutex
	entries []AlertEntry
	next    int
	full    bool
}

// NewAlertLog 创建预警缓冲。
func NewAlertLog(capacity int) *AlertLog {
	if capacity <= 0 {
		capacity = 256
	}
	return &AlertLog{entries: make([]AlertEntry, capacity)}
}

// Add 追加预警。
func (l *AlertLog) Add(accountID, broker, symbol string, at time.Time, signals []Signal) {
	if l == nil {
		return
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range signals {
		l.entries[l.next] = AlertEntry{Signal: s, AccountID: accountID, Broker: broker, Symbol: symbol, At: at}
		l.next = (l.next + 1) % len(l.entries)
		if l.next == 0 {
			l.full = true
		}
	}
}

// List 按时间倒序返回，limit<=0 返回全部。
func (l *AlertLog) List(limit int) []AlertEntry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = len(l.entries)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]AlertEntry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (l.next - 1 - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}
