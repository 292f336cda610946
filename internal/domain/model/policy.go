package model

import (
	"fmt"
	"strings"
)

// StalePolicy decides what a caller does when the entry is stale and another
// caller's refresh for the same pair is already running.
type StalePolicy int

const (
	// StalePolicyServeStale returns the stale entry at once and lets the
	// running refresh update the cache for later callers.
	StalePolicyServeStale StalePolicy = iota
	// StalePolicyWait blocks until the running refresh finishes.
	StalePolicyWait
)

var stalePolicyNames = map[StalePolicy]string{
	StalePolicyServeStale: "serve-stale",
	StalePolicyWait:       "wait",
}

// ParseStalePolicy is case-insensitive; an empty string means the default.
func ParseStalePolicy(s string) (StalePolicy, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return StalePolicyServeStale, nil
	}
	for policy, n := range stalePolicyNames {
		if n == name {
			return policy, nil
		}
	}
	return StalePolicyServeStale, fmt.Errorf("unknown stale policy %q", s)
}

func (p StalePolicy) String() string {
	if name, ok := stalePolicyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("StalePolicy(%d)", int(p))
}
