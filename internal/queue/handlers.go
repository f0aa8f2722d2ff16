package queue

import (
	"sort"

	"github.com/hibiken/asynq"
)

// HandlersRegistry collects the task handlers a worker process serves.
type HandlersRegistry struct {
	mux   *asynq.ServeMux
	types []string
}

func NewHandlersRegistry() *HandlersRegistry {
	return &HandlersRegistry{
		mux: asynq.NewServeMux(),
	}
}

func (r *HandlersRegistry) Register(taskType string, handler asynq.Handler) {
	r.mux.Handle(taskType, handler)
	r.types = append(r.types, taskType)
}

func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	return r.mux
}

// Types lists the registered task types, sorted.
func (r *HandlersRegistry) Types() []string {
	out := append([]string(nil), r.types...)
	sort.Strings(out)
	return out
}
