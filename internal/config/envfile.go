package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// envFileKeys are the variables outside the BUTLER_ namespace an env file
// may set: the provider keys Load falls back to.
var envFileKeys = map[string]bool{
	"OPENAI_API_KEY":     true,
	"OPENROUTER_API_KEY": true,
}

// EnvFilePath returns the env file Butler reads: BUTLER_ENV_FILE when set,
// otherwise "env" in the Butler config directory.
func EnvFilePath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("BUTLER_ENV_FILE")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			explicit = filepath.Join(home, explicit[1:])
		}
		return filepath.Abs(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, "env"), nil
}

// LoadEnvFile applies the env file to the process environment and returns
// the keys it set. Variables already present are never overridden, keys
// Butler does not read are skipped, and a missing file is not an error.
func LoadEnvFile() ([]string, error) {
	path, err := EnvFilePath()
	if err != nil {
		return nil, err
	}
	keys, err := applyEnvFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return keys, err
}

func applyEnvFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var set, malformed []string
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			malformed = append(malformed, strconv.Itoa(n))
			continue
		}
		if key == "BUTLER_ENV_FILE" || (!strings.HasPrefix(key, "BUTLER_") && !envFileKeys[key]) {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, envValue(val)); err != nil {
			return set, fmt.Errorf("%s:%d: %w", path, n, err)
		}
		set = append(set, key)
	}
	if err := sc.Err(); err != nil {
		return set, fmt.Errorf("read %s: %w", path, err)
	}
	if len(malformed) > 0 {
		return set, fmt.Errorf("%s: malformed lines %s", path, strings.Join(malformed, ", "))
	}
	return set, nil
}

// envValue strips matching quotes, or a trailing " # comment" from an
// unquoted value.
func envValue(raw string) string {
	v := strings.TrimSpace(raw)
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	if i := strings.Index(v, " #"); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v
}
