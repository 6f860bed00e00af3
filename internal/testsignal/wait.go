package testsignal

import "time"

const waitTimeout = 3 * time.Second

func waitOrTimeout[T any](c <-chan T) T {
	select {
	case val := <-c:
		return val
	case <-time.After(waitTimeout):
		panic("testsignal: timed out waiting for signal")
	}
}
