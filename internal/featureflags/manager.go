// Package featureflags evaluates runtime feature toggles from FEATURE_FLAGS.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// Known flags.
const (
	// AnonymousVoting lets signed-out callers vote by client IP.
	AnonymousVoting = "anonymous_voting"
	// LiveResults enables the websocket tally stream.
	LiveResults = "live_results"
	// Trending enables the trending polls listing.
	Trending = "trending"
)

// defaults apply when FEATURE_FLAGS does not mention a known flag.
var defaults = map[string]string{
	AnonymousVoting: "on",
	LiveResults:     "on",
	Trending:        "on",
}

// Manager evaluates feature flags defined in a simple key=value list.
// Example: "anonymous_voting=on,trending=25%,live_results=off"
type Manager struct {
	flags map[string]string
}

// NewManager creates a feature-flag manager from a comma-separated config string.
func NewManager(raw string) *Manager {
	out := make(map[string]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}

	return &Manager{flags: out}
}

// Enabled returns whether a flag is enabled for a given user.
// Supported values:
// - on/true/1
// - off/false/0
// - N% (deterministic user rollout, e.g. 25%)
func (m *Manager) Enabled(name string, userID uint) bool {
	subject := ""
	if userID != 0 {
		subject = strconv.FormatUint(uint64(userID), 10)
	}
	return m.EnabledFor(name, subject)
}

// EnabledFor is Enabled with an arbitrary rollout subject such as a voter key.
// An empty subject is outside every partial rollout.
func (m *Manager) EnabledFor(name, subject string) bool {
	if m == nil {
		return false
	}

	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pctRaw, isPct := strings.CutSuffix(value, "%")
	if !isPct {
		return false
	}
	pct, err := strconv.Atoi(pctRaw)
	if err != nil || pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	if subject == "" {
		return false
	}
	return rolloutBucket(name, subject) < pct
}

// Raw returns a copy of configured flags.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}
	return out
}

// Snapshot returns evaluated flag status for one user.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name, subject string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fmt.Sprintf("%s:%s", normalize(name), subject)))
	return int(h.Sum32() % 100)
}
