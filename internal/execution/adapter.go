package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownBroker 表示注册表中不存在该券商。
	ErrUnknownBroker = errors.New("execution: unknown broker")
	// ErrOrderNotFound 表示场所侧找不到订单。
	ErrOrderNotFound = errors.New("execution: order not found")
)

// Adapter 将内部订单翻译为场所调用，并把场所响应归一化为 ExecutionReport。
type Adapter interface {
	Name() string
	Venue() string
	// PlaceOrder refPrice 为路由器确定的参考价，场所未报均价时兜底。
	PlaceOrder(ctx context.Context, intent OrderIntent, refPrice float64) (ExecutionReport, error)
	CancelOrder(ctx context.Context, venueOrderID, symbol string) (ExecutionReport, error)
}

// Environment 区分场所的测试环境与生产环境。
type Environment string

const (
	EnvSandbox Environment = "sandbox"
	EnvLive    Environment = "live"
)

type registryKey struct {
	broker string
	env    Environment
}

// Registry 按券商名与环境保存适配器，启动时注册，运行期只读。
type Registry struct {
	mu       sync.RWMutex
	adapters map[registryKey]Adapter
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[registryKey]Adapter)}
}

// Register 注册适配器，重复注册返回错误。
func (r *Registry) Register(env Environment, adapter Adapter) error {
	if adapter == nil {
		return errors.New("execution: adapter 不能为空")
	}
	key := registryKey{broker: adapter.Name(), env: env}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[key]; exists {
		return fmt.Errorf("execution: %s/%s 已注册", key.broker, env)
	}
	r.adapters[key] = adapter
	return nil
}

// Lookup 查找适配器。
func (r *Registry) Lookup(broker string, env Environment) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[registryKey{broker: broker, env: env}]
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnknownBroker, broker, env)
	}
	return adapter, nil
}

// Brokers 返回已注册的券商名，去重排序。
func (r *Registry) Brokers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.adapters))
	names := make([]string, 0, len(r.adapters))
	for key := range r.adapters {
		if _, ok := seen[key.broker]; ok {
			continue
		}
		seen[key.broker] = struct{}{}
		names = append(names, key.broker)
	}
	sort.Strings(names)
	return names
}
