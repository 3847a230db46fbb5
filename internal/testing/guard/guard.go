// Package guard switches binaries into test mode when imported from tests, so
// calling main() returns instead of dialling Postgres and Redis.
package guard

import "os"

func init() {
	if os.Getenv("ODYSSEY_TEST_MODE") == "" {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
	}
}
