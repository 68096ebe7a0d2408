package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references in s. Every referenced variable
// must be set; "$$" yields a literal "$".
func expandEnv(s string) (string, error) {
	const dollar = "\x00STORYJOBS_DOLLAR\x00"
	s = strings.ReplaceAll(s, "$$", dollar)

	var missing []string
	for _, m := range envRef.FindAllStringSubmatch(s, -1) {
		if _, ok := os.LookupEnv(m[1]); !ok && !slices.Contains(missing, m[1]) {
			missing = append(missing, m[1])
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return "", fmt.Errorf("unset environment variables: %s", strings.Join(missing, ", "))
	}

	s = envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
	return strings.ReplaceAll(s, dollar, "$"), nil
}

// expandEndpoints resolves environment references in every endpoint URL.
func expandEndpoints(endpoints map[string]string) error {
	for name, raw := range endpoints {
		url, err := expandEnv(raw)
		if err != nil {
			return fmt.Errorf("%w: endpoints.%s: %w", ErrInvalidConfig, name, err)
		}
		endpoints[name] = url
	}
	return nil
}
