// Package config wraps viper for taskwire's layered configuration.
// Precedence: command-line flags (applied by the caller) > environment
// variables (TASKWIRE_*) > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	mu      sync.RWMutex
	v       *viper.Viper
	onceErr error
	once    sync.Once
)

// Initialize loads configuration from file and environment. Looks for
// taskwire.yaml in the working directory, then $XDG_CONFIG_HOME/taskwire
// (or ~/.config/taskwire). A missing file is not an error.
func Initialize() error {
	once.Do(func() {
		vp := viper.New()
		vp.SetConfigName("taskwire")
		vp.SetConfigType("yaml")
		vp.AddConfigPath(".")
		if cfgDir, err := os.UserConfigDir(); err == nil {
			vp.AddConfigPath(filepath.Join(cfgDir, "taskwire"))
		}

		vp.SetEnvPrefix("TASKWIRE")
		vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
		vp.AutomaticEnv()

		setDefaults(vp)

		if err := vp.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				onceErr = fmt.Errorf("failed to read config file: %w", err)
				return
			}
		}

		mu.Lock()
		v = vp
		mu.Unlock()
	})
	return onceErr
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("socket", "")
	vp.SetDefault("db", "")
	vp.SetDefault("actor", "")
	vp.SetDefault("http-addr", "")
	vp.SetDefault("log-file", "")
	vp.SetDefault("log-level", "info")
	vp.SetDefault("idempotency-ttl", "1h")
}

// Watch re-reads the config file when it changes on disk and invokes
// onChange after each successful reload. No-op if no file was loaded.
func Watch(logger *slog.Logger, onChange func()) {
	mu.RLock()
	vp := v
	mu.RUnlock()
	if vp == nil || vp.ConfigFileUsed() == "" {
		return
	}
	vp.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("config file reloaded", "file", e.Name, "op", e.Op.String())
		if onChange != nil {
			onChange()
		}
	})
	vp.WatchConfig()
}

// GetString returns a string config value
func GetString(key string) string {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool returns a boolean config value
func GetBool(key string) bool {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt returns an integer config value
func GetInt(key string) int {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration returns a duration config value
func GetDuration(key string) time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}
