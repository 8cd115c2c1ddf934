package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CheckCompatibility checks if the engine version satisfies a strategy's
// declared minimum engine version.
//
// Compatibility rules:
//   - If either version is "main" (development build), the check is skipped
//   - Major versions must match exactly
//   - The engine's minor.patch must be at least the strategy's requirement
func CheckCompatibility(engineVersion, requiredVersion string) error {
	engineVersion = strings.TrimPrefix(engineVersion, "v")
	requiredVersion = strings.TrimPrefix(requiredVersion, "v")

	// Skip version check for "main" (development builds)
	if engineVersion == "main" || requiredVersion == "main" || requiredVersion == "" {
		return nil
	}

	engineSemver, err := semver.NewVersion(engineVersion)
	if err != nil {
		return fmt.Errorf("invalid engine version '%s': %w", engineVersion, err)
	}

	requiredSemver, err := semver.NewVersion(requiredVersion)
	if err != nil {
		return fmt.Errorf("invalid required version '%s': %w", requiredVersion, err)
	}

	if engineSemver.Major() != requiredSemver.Major() {
		return fmt.Errorf("major version mismatch: engine is %d.x.x but strategy requires %d.x.x",
			engineSemver.Major(), requiredSemver.Major())
	}

	if engineSemver.LessThan(requiredSemver) {
		return fmt.Errorf("engine version %s is older than the strategy's required %s",
			engineSemver, requiredSemver)
	}

	return nil
}
