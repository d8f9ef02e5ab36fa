package throttle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryBudget is a process-local BudgetStore.
type MemoryBudget struct {
	mu  sync.Mutex
	b   Budget
	set bool
}

func NewMemoryBudget() *MemoryBudget {
	return &MemoryBudget{}
}

func (m *MemoryBudget) Get(ctx context.Context) (Budget, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.b, m.set, nil
}

func (m *MemoryBudget) Set(ctx context.Context, b Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.b = b
	m.set = true
	return nil
}

const budgetKey = "throttle:error_budget"

// RedisBudget shares the error budget across every process of a
// deployment. The key expires at the provider's reset deadline, so a
// stale budget relaxes on its own.
type RedisBudget struct {
	client *redis.Client
}

func NewRedisBudget(client *redis.Client) *RedisBudget {
	return &RedisBudget{client: client}
}

func (r *RedisBudget) Get(ctx context.Context) (Budget, bool, error) {
	data, err := r.client.Get(ctx, budgetKey).Result()
	if errors.Is(err, redis.Nil) {
		return Budget{}, false, nil
	}
	if err != nil {
		return Budget{}, false, fmt.Errorf("failed to get error budget: %w", err)
	}

	var b Budget
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return Budget{}, false, fmt.Errorf("failed to unmarshal error budget: %w", err)
	}
	return b, true, nil
}

func (r *RedisBudget) Set(ctx context.Context, b Budget) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal error budget: %w", err)
	}

	ttl := time.Until(b.ResetAt)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, budgetKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set error budget: %w", err)
	}
	return nil
}
