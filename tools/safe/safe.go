package safe

import (
	"fmt"

	"RelayCore/logger"
)

// Go starts a goroutine that recovers from panics so one bad handler
// cannot take down the whole gateway process.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v", r)
			}
		}()
		f()
	}()
}

// MustNotNil panics if v is nil; used to enforce required wiring at startup.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
}
