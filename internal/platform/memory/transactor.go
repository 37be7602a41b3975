package memory

import (
	"context"
	"sync"

	"github.com/phrazzld/learnflow/internal/store"
)

// Transactor serializes units of work. The memory stores ignore the nil
// transaction handed to fn. Writes made through the context fn receives are
// recorded and undone in reverse order when fn fails or panics.
type Transactor struct {
	mu sync.Mutex
}

var _ store.Transactor = (*Transactor)(nil)

type undoKey struct{}

type undoLog struct {
	mu    sync.Mutex
	steps []func()
}

// onRollback registers undo with the unit of work carried by ctx, if any.
func onRollback(ctx context.Context, undo func()) {
	log, ok := ctx.Value(undoKey{}).(*undoLog)
	if !ok {
		return
	}
	log.mu.Lock()
	log.steps = append(log.steps, undo)
	log.mu.Unlock()
}

func (l *undoLog) rollback() {
	l.mu.Lock()
	steps := l.steps
	l.steps = nil
	l.mu.Unlock()
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
}

// RunInTx implements store.Transactor.
func (t *Transactor) RunInTx(ctx context.Context, fn store.TxFn) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	log := &undoLog{}
	defer func() {
		if p := recover(); p != nil {
			log.rollback()
			panic(p)
		}
		if err != nil {
			log.rollback()
		}
	}()
	return fn(context.WithValue(ctx, undoKey{}, log), nil)
}
