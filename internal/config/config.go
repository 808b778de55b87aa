// Package config loads the Jobmon core's layered configuration (spec
// §6): compiled-in defaults, a YAML file, then `JOBMON__SECTION__KEY`
// environment variables merged over both, using gopkg.in/yaml.v3 for
// both the file decode and the final round-trip.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the fully merged, typed configuration every Jobmon binary
// loads at startup.
type Config struct {
	DB struct {
		SQLAlchemyDatabaseURI string `yaml:"sqlalchemy_database_uri"`
		PoolSize              int    `yaml:"pool_size"`
		MaxOverflow           int    `yaml:"max_overflow"`
		PoolTimeoutSeconds    int    `yaml:"pool_timeout_seconds"`
	} `yaml:"db"`

	Auth struct {
		Enabled    bool     `yaml:"enabled"`
		AdminUsers []string `yaml:"admin_users"`
	} `yaml:"auth"`

	Reaper struct {
		PollIntervalMinutes   int `yaml:"poll_interval_minutes"`
		GracePeriodMultiplier int `yaml:"grace_period_multiplier"`
	} `yaml:"reaper"`

	Distributor struct {
		StartupTimeoutSeconds int `yaml:"startup_timeout_seconds"`
	} `yaml:"distributor"`

	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

// defaults returns the tree merged underneath everything else.
func defaults() map[string]any {
	return map[string]any{
		"db": map[string]any{
			"pool_size":            5,
			"max_overflow":         10,
			"pool_timeout_seconds": 30,
		},
		"auth": map[string]any{
			"enabled": true,
		},
		"reaper": map[string]any{
			"poll_interval_minutes":   5,
			"grace_period_multiplier": 2,
		},
		"distributor": map[string]any{
			"startup_timeout_seconds": 60,
		},
		"log": map[string]any{
			"level": "info",
			"json":  true,
		},
	}
}

// Load builds the merged Config: defaults ⊕ file (if path is
// non-empty and exists) ⊕ environment.
func Load(path string) (*Config, error) {
	tree := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config file %q: %w", path, err)
		}
		var fileTree map[string]any
		if err := yaml.Unmarshal(data, &fileTree); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
		tree = mergeMaps(tree, fileTree)
	}

	type envAssignment struct {
		path  []string
		value any
	}
	var assignments []envAssignment
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "JOBMON__") {
			continue
		}
		path := strings.Split(strings.TrimPrefix(key, "JOBMON__"), "__")
		for i := range path {
			path[i] = strings.ToLower(path[i])
		}
		assignments = append(assignments, envAssignment{path: path, value: coerce(value)})
	}
	// os.Environ() has no defined order, so a scalar/nested conflict
	// (JOBMON__AUTH vs JOBMON__AUTH__ENABLED) must not depend on which
	// one it happens to enumerate second. Applying shallow paths before
	// deep ones makes the nested assignment always win, deterministically.
	sort.SliceStable(assignments, func(i, j int) bool {
		return len(assignments[i].path) < len(assignments[j].path)
	})
	for _, a := range assignments {
		tree = setPath(tree, a.path, a.value)
	}

	// Round-trip through YAML node marshaling: this is what keeps
	// "integers MUST remain integers" true after the map[string]any
	// merge above, rather than every merged scalar ending up a string.
	out, err := yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("marshal merged config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(out, &cfg); err != nil {
		return nil, fmt.Errorf("decode merged config: %w", err)
	}
	return &cfg, nil
}

// mergeMaps merges override onto base, recursing into nested maps and
// otherwise letting override win.
func mergeMaps(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if existing, ok := out[k]; ok {
			if existingMap, ok1 := existing.(map[string]any); ok1 {
				if overrideMap, ok2 := v.(map[string]any); ok2 {
					out[k] = mergeMaps(existingMap, overrideMap)
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}

// setPath writes value at the nested path inside tree, promoting a
// primitive scalar that conflicts with a nested assignment to a
// single-key mapping first — spec §6's rule that the nested
// assignment always wins.
func setPath(tree map[string]any, path []string, value any) map[string]any {
	if len(path) == 0 {
		return tree
	}
	key := path[0]
	if len(path) == 1 {
		tree[key] = value
		return tree
	}

	existing, ok := tree[key]
	sub, isMap := existing.(map[string]any)
	if !ok || !isMap {
		// A scalar (or absent key) in the way of a nested assignment:
		// promote it to an empty mapping so the nested write can land.
		sub = map[string]any{}
	}
	tree[key] = setPath(sub, path[1:], value)
	return tree
}

// coerce parses an environment-variable string value into a bool, int,
// float, or string, matching how YAML itself would have typed the same
// literal in a file: only true/false spellings become bools, so "1"
// and "0" stay integers.
func coerce(s string) any {
	switch s {
	case "true", "True", "TRUE":
		return true
	case "false", "False", "FALSE":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
