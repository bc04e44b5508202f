package internal

import "sync"

// DoneChan is closed exactly once to signal completion of a background task.
type DoneChan chan struct{}

// DoneFunc starts the shutdown of a task and returns the channel that
// closes once the task has fully stopped.
type DoneFunc func() DoneChan

func wrapWaitGroup(wg *sync.WaitGroup) DoneChan {
	ret := make(DoneChan)
	go func() {
		wg.Wait()
		close(ret)
	}()
	return ret
}

// WrapWaitGroup returns a DoneChan that closes once wg.Wait returns,
// for packages outside internal that need to compose a WaitGroup into
// a DoneFunc for LifecycleBase.TryStop.
func WrapWaitGroup(wg *sync.WaitGroup) DoneChan {
	return wrapWaitGroup(wg)
}

// Combine returns a channel that closes once both inputs have closed.
func Combine(first DoneChan, second DoneChan) DoneChan {
	ret := make(DoneChan)
	go func() {
		<-first
		<-second
		close(ret)
	}()
	return ret
}
