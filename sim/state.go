package sim

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-daq/control"
	"github.com/arloliu/go-daq/logger"
)

// StateChangeHandler is invoked when the simulated daq changes state.
//
// Note: the handler is invoked in a blocking mode while the state lock is held. It must not
// call back into the Link.
type StateChangeHandler func(prevState control.State, newState control.State)

// stateMgr holds the state of the simulated control process and notifies waiters and handlers
// of every change.
type stateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []StateChangeHandler
}

func newStateMgr(l logger.Logger, handlers ...StateChangeHandler) *stateMgr {
	sm := &stateMgr{
		logger:   l,
		handlers: append([]StateChangeHandler(nil), handlers...),
	}
	sm.state.Store(uint32(control.Disconnected))
	sm.cond = sync.NewCond(&sm.mu)

	return sm
}

func (sm *stateMgr) State() control.State {
	return control.State(sm.state.Load())
}

func (sm *stateMgr) addHandler(handlers ...StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.handlers = append(sm.handlers, handlers...)
}

// waitState waits until the state is state or ctx is done.
func (sm *stateMgr) waitState(ctx context.Context, state control.State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		sm.cond.Broadcast()
	})
	defer stopFunc()

	for sm.State() != state {
		if ctx.Err() != nil {
			sm.logger.Debug("wait sim state receive ctx done", "cur_state", sm.State(), "desired_state", state)
			return ctx.Err()
		}
		sm.cond.Wait()
	}

	return nil
}

// to moves to state, a no-op when already there.
func (sm *stateMgr) to(state control.State) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cur := sm.State()
	if cur == state {
		return
	}

	sm.state.Store(uint32(state))
	sm.logger.Debug("sim state changed", "prev_state", cur, "new_state", state)

	for _, handler := range sm.handlers {
		handler(cur, state)
	}
	sm.cond.Broadcast()
}
