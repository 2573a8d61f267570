package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ConfigBackend abstracts config storage.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// fileBackend stores config as nested YAML, read and written through viper.
type fileBackend struct {
	path string
	v    *viper.Viper
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path}
	b.load()
	return b
}

func (b *fileBackend) load() {
	b.v = viper.New()
	b.v.SetConfigFile(b.path)
	b.v.SetConfigType("yaml")
	if err := b.v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", b.path, err)
		}
	}
}

func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := b.v.WriteConfigAs(b.path); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return os.Chmod(b.path, 0o600)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	if !b.v.IsSet(key) {
		return "", false, nil
	}
	s, err := cast.ToStringE(b.v.Get(key))
	if err != nil {
		return "", true, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return s, true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	if !b.v.IsSet(key) {
		return 0, false, nil
	}
	i, err := cast.ToIntE(b.v.Get(key))
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b *fileBackend) SetString(key, val string) error {
	b.v.Set(key, val)
	return b.save()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.v.Set(key, val)
	return b.save()
}

// Delete removes key by rewriting the file without it. viper has no unset,
// so the remaining settings are copied into a fresh instance.
func (b *fileBackend) Delete(key string) error {
	fresh := viper.New()
	fresh.SetConfigType("yaml")
	for _, k := range b.v.AllKeys() {
		if k != key {
			fresh.Set(k, b.v.Get(k))
		}
	}
	b.v = fresh
	return b.save()
}
