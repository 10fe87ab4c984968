// Package guard forces test mode on import so package tests can never start
// real runtime side effects.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("INVENTORY_TEST_MODE") == "" {
			_ = os.Setenv("INVENTORY_TEST_MODE", "1")
		}
	})
}
