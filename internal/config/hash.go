package config

import (
	"encoding/json"
	"hash/fnv"
)

// hashJSON fingerprints v by its JSON encoding. 0 means "unknown" and never
// compares equal to a real fingerprint in practice.
func hashJSON(v any) uint64 {
	b, err := json.Marshal(v)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	return hashJSON(cfg)
}

// HashTask fingerprints a task definition. Reconciliation rebuilds a
// registered task only when this changes.
func HashTask(t TaskConfig) uint64 { return hashJSON(t) }
