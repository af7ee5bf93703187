package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
)

// Feature names.
const (
	FeatureWelcomeBonus = "progression.welcome_bonus" // grant the one-time welcome XP
	FeatureStreakBonus  = "progression.streak_bonus"  // award XP at streak milestones
	FeatureEvents       = "progression.events"        // publish domain events
	FeatureRedisLock    = "progression.redis_lock"    // take the cross-instance user lock
)

// Feature is one toggle. Rollout is the share of users (0-100) that see it;
// Pilots always see it regardless of Rollout.
type Feature struct {
	Name        string
	Description string
	Rollout     int
	Pilots      map[string]struct{}
}

// On reports whether the feature is on for anyone at all.
func (f Feature) On() bool { return f.Rollout > 0 || len(f.Pilots) > 0 }

// FeatureFlags holds the process's toggles. It is read-only after loading.
type FeatureFlags struct {
	features map[string]*Feature
}

var defaultFeatures = []Feature{
	{Name: FeatureWelcomeBonus, Description: "Grant the welcome bonus on first sign-in", Rollout: 100},
	{Name: FeatureStreakBonus, Description: "Award bonus XP at streak milestones", Rollout: 100},
	{Name: FeatureEvents, Description: "Publish progression events after commit", Rollout: 100},
	// Off until Redis is provisioned everywhere.
	{Name: FeatureRedisLock, Description: "Serialize users across instances with a Redis lock", Rollout: 0},
}

// NewFeatureFlags returns the built-in defaults without reading the environment.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature, len(defaultFeatures))}
	for _, f := range defaultFeatures {
		f := f // per-iteration copy (go.mod targets 1.21 loop semantics)
		ff.features[f.Name] = &f
	}
	return ff
}

// LoadFeatureFlags applies environment overrides to the defaults:
//
//	FEATURE_PROGRESSION_STREAK_BONUS=false       off for everyone
//	FEATURE_PROGRESSION_WELCOME_BONUS=25         25% of users
//	FEATURE_PROGRESSION_STREAK_BONUS_USERS=a,b   always on for a and b
//
// Malformed values are ignored and the default stays.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	for name, f := range ff.features {
		key := envKey(name)
		if p, ok := parseRollout(os.Getenv(key)); ok {
			f.Rollout = p
		}
		for _, id := range getEnvList(key + "_USERS") {
			if f.Pilots == nil {
				f.Pilots = make(map[string]struct{})
			}
			f.Pilots[id] = struct{}{}
		}
	}
	return ff
}

// "progression.streak_bonus" -> "FEATURE_PROGRESSION_STREAK_BONUS"
func envKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

func parseRollout(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	if b, err := strconv.ParseBool(v); err == nil {
		if b {
			return 100, true
		}
		return 0, true
	}
	p, err := strconv.Atoi(v)
	if err != nil || p < 0 || p > 100 {
		return 0, false
	}
	return p, true
}

// IsEnabled evaluates name for userID. An empty userID asks whether the
// feature is on at all, which is how process-wide toggles are read.
func (ff *FeatureFlags) IsEnabled(name, userID string) bool {
	f, ok := ff.features[name]
	if !ok {
		return false
	}
	if userID == "" {
		return f.On()
	}
	if _, ok := f.Pilots[userID]; ok {
		return true
	}
	switch {
	case f.Rollout >= 100:
		return true
	case f.Rollout <= 0:
		return false
	}
	return bucket(name, userID) < f.Rollout
}

// Enabled is IsEnabled without a user.
func (ff *FeatureFlags) Enabled(name string) bool {
	return ff.IsEnabled(name, "")
}

// ForUser returns a predicate evaluating name per user.
func (ff *FeatureFlags) ForUser(name string) func(userID string) bool {
	return func(userID string) bool { return ff.IsEnabled(name, userID) }
}

// bucket places a user in [0,100) per feature so rollouts are independent
// and a user keeps its bucket across restarts.
func bucket(name, userID string) int {
	h := fnv.New32a()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	return int(h.Sum32() % 100)
}
