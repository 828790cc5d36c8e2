package status

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusResolve(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		require := require.New(t)

		st := New("kickoff")
		require.False(st.IsDone())
		require.False(st.Success())
		require.Equal("kickoff(pending)", st.String())
		require.NotEmpty(st.ID())

		require.True(st.Succeed())
		require.True(st.IsDone())
		require.True(st.Success())
		require.NoError(st.Err())
		require.NoError(st.Wait(time.Second))
		require.Equal("kickoff(succeeded)", st.String())
	})

	t.Run("failure wraps cause", func(t *testing.T) {
		require := require.New(t)

		cause := errors.New("begin rejected")
		st := New("kickoff")
		require.True(st.Fail(cause))

		err := st.Wait(time.Second)
		require.ErrorIs(err, ErrOperationFailed)
		require.ErrorIs(err, cause)
		require.NotErrorIs(err, ErrOperationTimedOut)
		require.Equal(cause, st.Err())
		require.Equal("kickoff(failed)", st.String())
	})

	t.Run("failure without cause", func(t *testing.T) {
		require := require.New(t)

		st := New("complete")
		require.True(st.Resolve(false))
		require.ErrorIs(st.Wait(time.Second), ErrOperationFailed)
		require.NoError(st.Err())
	})

	t.Run("first resolution wins", func(t *testing.T) {
		require := require.New(t)

		st := New("kickoff")
		require.True(st.Succeed())
		require.False(st.Fail(errors.New("late")))
		require.False(st.Resolve(false))
		require.True(st.Success())
		require.NoError(st.Wait(0))
	})

	t.Run("constructors", func(t *testing.T) {
		require := require.New(t)

		require.True(Succeeded("x").Success())
		failed := Failed("y", context.Canceled)
		require.True(failed.IsDone())
		require.ErrorIs(failed.Wait(0), context.Canceled)
	})
}

func TestStatusWaitTimeout(t *testing.T) {
	require := require.New(t)

	st := New("kickoff")
	begin := time.Now()
	err := st.Wait(50 * time.Millisecond)
	require.ErrorIs(err, ErrOperationTimedOut)
	require.NotErrorIs(err, ErrOperationFailed)
	require.WithinDuration(begin.Add(50*time.Millisecond), time.Now(), 40*time.Millisecond)

	// still resolvable after a timed out wait
	require.True(st.Succeed())
	require.NoError(st.Wait(50 * time.Millisecond))
}

func TestStatusWaitContextCanceled(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New("kickoff").WaitContext(ctx)
	require.ErrorIs(err, context.Canceled)
}

func TestStatusWaitFromOtherGoroutine(t *testing.T) {
	require := require.New(t)

	st := New("complete")
	go func() {
		time.Sleep(20 * time.Millisecond)
		st.Succeed()
	}()

	require.NoError(st.Wait(time.Second))
}

func TestStatusCallbacks(t *testing.T) {
	t.Run("registered before resolution", func(t *testing.T) {
		require := require.New(t)

		st := New("kickoff")
		var order []int
		for i := range 3 {
			st.AddCallback(func(s *Status) {
				require.Same(st, s)
				order = append(order, i)
			})
		}
		require.Empty(order)

		st.Succeed()
		require.Equal([]int{0, 1, 2}, order)

		st.Fail(errors.New("ignored"))
		require.Equal([]int{0, 1, 2}, order)
	})

	t.Run("registered after resolution", func(t *testing.T) {
		require := require.New(t)

		st := Succeeded("kickoff")
		count := 0
		st.AddCallback(func(*Status) { count++ })
		require.Equal(1, count)
	})

	t.Run("registered while resolving runs after earlier callbacks", func(t *testing.T) {
		require := require.New(t)

		st := New("kickoff")
		release := make(chan struct{})
		var order []int
		st.AddCallback(func(*Status) {
			<-release
			order = append(order, 1)
		})

		go st.Succeed()
		require.Eventually(st.Success, time.Second, time.Millisecond)

		// queued behind the blocked callback, not run here
		st.AddCallback(func(*Status) { order = append(order, 2) })
		require.False(st.IsDone())

		close(release)
		require.NoError(st.Wait(time.Second))
		require.Equal([]int{1, 2}, order)
	})

	t.Run("registered from a callback", func(t *testing.T) {
		require := require.New(t)

		st := New("complete")
		var order []int
		st.AddCallback(func(s *Status) {
			s.AddCallback(func(*Status) { order = append(order, 3) })
			order = append(order, 1)
		})
		st.AddCallback(func(*Status) { order = append(order, 2) })

		require.True(st.Succeed())
		require.Equal([]int{1, 2, 3}, order)
	})

	t.Run("callbacks happen before wait returns", func(t *testing.T) {
		require := require.New(t)

		st := New("complete")
		var fired atomic.Bool
		st.AddCallback(func(*Status) {
			time.Sleep(20 * time.Millisecond)
			fired.Store(true)
		})

		go st.Succeed()
		require.NoError(st.Wait(time.Second))
		require.True(fired.Load())
	})

	t.Run("concurrent registration fires exactly once", func(t *testing.T) {
		require := require.New(t)

		st := New("kickoff")
		var count atomic.Int32
		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				st.AddCallback(func(*Status) { count.Add(1) })
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Succeed()
		}()
		wg.Wait()

		require.NoError(st.Wait(time.Second))
		require.Equal(int32(50), count.Load())
	})

	t.Run("nil callback ignored", func(t *testing.T) {
		st := New("kickoff")
		st.AddCallback(nil)
		require.True(t, st.Succeed())
	})
}
