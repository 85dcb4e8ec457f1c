package shared

import "fmt"

// SweepLockKey is the redis key guarding the reconciliation sweep so that
// overlapping scheduled runs cannot repair the same accounts concurrently.
func SweepLockKey() string {
	return "ledger:reconcile:sweep:lock"
}

// AccountCacheKey builds the redis key for a cached account snapshot.
func AccountCacheKey(code string) string {
	return fmt.Sprintf("ledger:account:%s", code)
}
