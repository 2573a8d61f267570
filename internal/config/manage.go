package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Value sources reported by ShowAll.
const (
	SourceDefault = "default"
	SourceFile    = "file"
	SourceEnv     = "env"
)

// KeyInfo is one non-secret setting as shown by `paperqa config show`.
type KeyInfo struct {
	Key    string
	Type   string
	EnvVar string
	Value  string
	Source string
}

// ShowAll lists every non-secret setting of cfg and where its value came from.
func ShowAll(cfg Config) []KeyInfo {
	return showAll(cfg, newFileBackend(configFilePath()))
}

func showAll(cfg Config, b ConfigBackend) []KeyInfo {
	out := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		if s.secret {
			continue
		}
		src := SourceDefault
		if _, ok, _ := b.GetString(s.key); ok {
			src = SourceFile
		}
		if os.Getenv(s.env) != "" {
			src = SourceEnv
		}
		out = append(out, KeyInfo{
			Key:    s.key,
			Type:   typeName(s.typ),
			EnvVar: s.env,
			Value:  fmt.Sprint(s.extract(cfg)),
			Source: src,
		})
	}
	return out
}

func lookup(key string) (keySpec, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, s := range specs {
		if s.key == key {
			return s, nil
		}
	}
	return keySpec{}, fmt.Errorf("unknown config key %q (see `paperqa config show`)", key)
}

// SetKey validates value against the key's type and persists it to the
// config file.
func SetKey(key, value string) error {
	return setKey(newFileBackend(configFilePath()), key, value)
}

func setKey(b ConfigBackend, key, value string) error {
	s, err := lookup(key)
	if err != nil {
		return err
	}
	if s.secret {
		return fmt.Errorf("%s is a secret and is only read from %s", s.key, s.env)
	}

	switch s.typ {
	case kString:
		return b.SetString(s.key, value)
	case kInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s expects an integer, got %q", s.key, value)
		}
		return b.SetInt(s.key, n)
	}
	if _, err := parseValue(s.typ, value); err != nil {
		return fmt.Errorf("%s expects a %s, got %q: %w", s.key, typeName(s.typ), value, err)
	}
	return b.SetString(s.key, value)
}

// UnsetKey drops key from the config file so the default applies again.
func UnsetKey(key string) error {
	return unsetKey(newFileBackend(configFilePath()), key)
}

func unsetKey(b ConfigBackend, key string) error {
	s, err := lookup(key)
	if err != nil {
		return err
	}
	return b.Delete(s.key)
}

// ValidKeys returns the names accepted by SetKey.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
