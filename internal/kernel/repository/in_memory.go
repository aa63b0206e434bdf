package repository

import (
	"context"
	"sort"
	"sync"
)

type InMemoryExecutionRepository struct {
	executions map[string]Execution
	lock       sync.RWMutex
}

func NewInMemoryExecutionRepository() *InMemoryExecutionRepository {
	return &InMemoryExecutionRepository{executions: map[string]Execution{}}
}

func (r *InMemoryExecutionRepository) Setup(context.Context) error {
	return nil
}

func (r *InMemoryExecutionRepository) Upsert(_ context.Context, execution *Execution) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.executions[execution.ExecutionId] = *execution
	return nil
}

func (r *InMemoryExecutionRepository) Get(_ context.Context, executionId string) (*Execution, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	execution, ok := r.executions[executionId]
	if !ok {
		return nil, nil
	}
	return &execution, nil
}

func (r *InMemoryExecutionRepository) List(_ context.Context, limit int) ([]*Execution, error) {
	r.lock.RLock()
	executions := make([]*Execution, 0, len(r.executions))
	for _, execution := range r.executions {
		execution := execution
		executions = append(executions, &execution)
	}
	r.lock.RUnlock()

	sort.Slice(executions, func(i, j int) bool {
		if !executions[i].Created.Equal(executions[j].Created) {
			return executions[i].Created.After(executions[j].Created)
		}
		return executions[i].ExecutionId > executions[j].ExecutionId
	})
	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}
	return executions, nil
}

func (r *InMemoryExecutionRepository) HealthCheck(context.Context) (bool, error) {
	return true, nil
}
