//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.connectmytask.taskui"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "taskui")
	}
	return "taskui-data"
}

func tokenStoreHint() string {
	return " (stored in macOS Keychain, service: " + keychainService + ", account: " + keychainAccount + ")"
}

// defaultsBackend keeps settings in the user's defaults database under the
// app's domain.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return defaultsBackend{domain: defaultsDomain}
}

// errNoDefault is what `defaults` reports (exit 1) for a missing key.
var errNoDefault = errors.New("no such default")

func (b defaultsBackend) run(verb, key string, args ...string) (string, error) {
	argv := append([]string{verb, b.domain, key}, args...)
	out, err := exec.Command("defaults", argv...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && verb != "write" {
			return "", errNoDefault
		}
		return "", fmt.Errorf("defaults %s %s: %w (%s)", verb, key, err, text)
	}
	return text, nil
}

func (b defaultsBackend) GetString(key string) (string, bool, error) {
	s, err := b.run("read", key)
	switch {
	case errors.Is(err, errNoDefault):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return s, true, nil
}

func (b defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %q is not an integer", key, s)
	}
	return n, true, nil
}

func (b defaultsBackend) SetString(key, val string) error {
	_, err := b.run("write", key, "-string", val)
	return err
}

func (b defaultsBackend) SetInt(key string, val int) error {
	_, err := b.run("write", key, "-int", strconv.Itoa(val))
	return err
}

// Delete removes key; deleting an unset key is not an error.
func (b defaultsBackend) Delete(key string) error {
	if _, err := b.run("delete", key); err != nil && !errors.Is(err, errNoDefault) {
		return err
	}
	return nil
}
