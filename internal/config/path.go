package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// EnvConfigPath overrides config discovery when --config is not given.
const EnvConfigPath = "STOCKLISTEN_CONFIG"

// ResolvePath picks the config file: explicit flag, then $STOCKLISTEN_CONFIG,
// then $XDG_CONFIG_HOME/stocklisten/config.jsonc, then ~/.config.
func ResolvePath(explicit string) (string, error) {
	for _, candidate := range []string{explicit, os.Getenv(EnvConfigPath)} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			return candidate, nil
		}
	}

	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New("unable to resolve user home for config fallback")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "stocklisten", "config.jsonc"), nil
}
