// Package progression contains the domain model of the user progression engine.
//
// The package defines:
//
//   - Entities: Profile (the per-user aggregate) and Streak
//   - Static configuration: LevelCurve and LevelDefinition
//   - Value objects: Source, GuardKey, GuardRecord, StreakMilestones
//   - Repository ports: Store, Tx, UserLocker
//
// # Invariants
//
// A profile's CurrentLevel is derived state. It is only ever written by
// Profile.ApplyXP and Profile.SyncLevel, which ask the LevelCurve, so after
// any write the level equals LevelCurve.LevelFor(TotalXP). A level stored
// under a previous curve is corrected on the user's next write. TotalXP never decreases; a reset destroys the
// profile and creates a new one.
//
// # Level resolution
//
// A single award may cross several thresholds. ApplyXP resolves both ends
// with LevelFor and grants LevelCurve.RewardsBetween the two:
//
//	curve, _ := NewLevelCurve(defs)
//	profile := NewProfile("user-1", time.Now())
//	progress, err := profile.ApplyXP(curve, 150, nil)
//	// progress.FromLevel == 0, progress.ToLevel == 2
//	// progress.Rewards holds the unlocks of level 1 and level 2
//
// # Persistence
//
// Everything that must be atomic for one user runs inside
// Store.RunInTransaction. Guard records and the profile are written through
// the same Tx, so either both are committed or neither is.
//
// The package has no infrastructure dependencies; adapters live under
// internal/infrastructure.
package progression
