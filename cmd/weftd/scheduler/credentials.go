package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// collectCredentialIDs walks a resolved node configuration and gathers every
// credential reference: a "credential_id" key, or any key ending in
// "_credential_id", holding an integer id (or its string form). Returned ids
// are deduplicated and sorted.
func collectCredentialIDs(config map[string]any) []int {
	seen := make(map[int]bool)
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			for k, val := range t {
				if isCredentialKey(k) {
					if id, ok := credentialID(val); ok {
						seen[id] = true
						continue
					}
				}
				walk(val)
			}
		case []any:
			for _, item := range t {
				walk(item)
			}
		}
	}
	walk(config)

	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func isCredentialKey(k string) bool {
	return k == "credential_id" || strings.HasSuffix(k, "_credential_id")
}

func credentialID(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), t == float64(int(t))
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	}
	return 0, false
}

// fetchCredentials resolves each id to its decrypted field map. Failures are
// config errors: the reference itself is broken and retrying the node would
// not fix it. Credential values are never logged.
func (s *Scheduler) fetchCredentials(ctx context.Context, nodeID string, ids []int) (map[int]map[string]string, error) {
	if s.credentials == nil {
		return nil, &ConfigError{NodeID: nodeID, Err: fmt.Errorf("configuration references credentials but no credential source is configured")}
	}
	out := make(map[int]map[string]string, len(ids))
	for _, id := range ids {
		fields, err := s.credentials.Get(ctx, id)
		if err != nil {
			return nil, &ConfigError{NodeID: nodeID, Err: fmt.Errorf("failed to resolve credential %d: %w", id, err)}
		}
		out[id] = fields
	}
	return out, nil
}
