// Package config loads the declarative configuration document that
// describes every supervised program plus the ambient daemon concerns
// (environment, logging, persistence, metrics).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/kael-dev/sentryd/internal/detector"
	"github.com/kael-dev/sentryd/internal/proc"
)

// Config is the root of the configuration document.
type Config struct {
	UseOSEnv          bool     `mapstructure:"use_os_env"`
	EnvFiles          []string `mapstructure:"env_files"`
	Env               []string `mapstructure:"env"`
	ProgramsDirectory string   `mapstructure:"programs_directory"`

	Programs []proc.Spec `mapstructure:"programs"`

	Store   *StoreConfig   `mapstructure:"store"`
	History *HistoryConfig `mapstructure:"history"`
	Metrics *MetricsConfig `mapstructure:"metrics"`
	Log     *LogConfig     `mapstructure:"log"`
	Server  *ServerConfig  `mapstructure:"server"`

	// Specs is Programs plus anything discovered under ProgramsDirectory,
	// with per-spec and global log defaults applied. GlobalEnv is the merged
	// use_os_env/env_files/env composition, ready for internal/env.
	Specs     []proc.Spec
	GlobalEnv []string

	configPath string
}

type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type HistoryConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Sinks   []string `mapstructure:"sinks"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Dir        string `mapstructure:"dir"`
	File       string `mapstructure:"file"`
	Stdout     string `mapstructure:"stdout"`
	Stderr     string `mapstructure:"stderr"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

// Load parses configPath and returns a fully resolved Config: inline
// [[programs]] merged with one-file-per-program documents under
// programs_directory, global env computed, and log defaults applied.
func Load(configPath string) (*Config, error) {
	cfg := &Config{configPath: configPath}
	if err := parseFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	for i := range cfg.Programs {
		if err := finishSpec(&cfg.Programs[i], configPath); err != nil {
			return nil, err
		}
	}
	cfg.Specs = append(cfg.Specs, cfg.Programs...)

	dir := cfg.ProgramsDirectory
	if dir == "" {
		dir = "programs"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(configPath), dir)
	}
	extra, err := loadProgramsDir(dir, configPath)
	if err != nil {
		return nil, fmt.Errorf("load programs directory %s: %w", dir, err)
	}
	cfg.Specs = append(cfg.Specs, extra...)

	for i := range cfg.Specs {
		cfg.Specs[i] = cfg.Specs[i].WithDefaults()
	}

	globalEnv, err := computeGlobalEnv(cfg.UseOSEnv, cfg.EnvFiles, cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("compute global env: %w", err)
	}
	cfg.GlobalEnv = globalEnv

	if cfg.Log != nil {
		applyGlobalLogDefaults(cfg)
	}

	if err := validateNames(cfg.Specs); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadSpecs is the thin entry point wired as supervisor.ConfigLoader: it
// reloads configPath and returns only the declared program specs.
func LoadSpecs(configPath string) ([]proc.Spec, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg.Specs, nil
}

func validateNames(specs []proc.Spec) error {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("program requires a name")
		}
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("program %q requires a command", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate program name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

func finishSpec(sp *proc.Spec, configPath string) error {
	_ = configPath
	return convertDetectors(sp)
}

// convertDetectors turns the decoded DetectorConfig entries into live
// detector.Detector implementations.
func convertDetectors(sp *proc.Spec) error {
	if len(sp.DetectorConfigs) == 0 {
		return nil
	}
	sp.Detectors = make([]detector.Detector, len(sp.DetectorConfigs))
	for i, dc := range sp.DetectorConfigs {
		switch dc.Type {
		case "pidfile":
			if dc.Path == "" {
				return fmt.Errorf("program %s: pidfile detector requires path", sp.Name)
			}
			sp.Detectors[i] = &detector.PIDFileDetector{PIDFile: dc.Path}
		case "command":
			if dc.Command == "" {
				return fmt.Errorf("program %s: command detector requires command", sp.Name)
			}
			sp.Detectors[i] = &detector.CommandDetector{Command: dc.Command}
		default:
			return fmt.Errorf("program %s: unknown detector type %q", sp.Name, dc.Type)
		}
	}
	return nil
}

func parseFile(path string, out interface{}) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(mapstructure.StringToTimeDurationHookFunc(), intOrIntSliceHook),
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(v.AllSettings())
}

// loadProgramsDir loads one proc.Spec per supported file under dir, as a
// supplement to the inline [[programs]] entries. Absent dir is not an error.
func loadProgramsDir(dir, configPath string) ([]proc.Spec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	exts := map[string]struct{}{".toml": {}, ".yaml": {}, ".yml": {}, ".json": {}}

	var specs []proc.Spec
	for _, de := range entries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		if _, ok := exts[strings.ToLower(filepath.Ext(de.Name()))]; !ok {
			continue
		}
		full := filepath.Join(dir, de.Name())
		var sp proc.Spec
		if err := parseFile(full, &sp); err != nil {
			return nil, err
		}
		if err := finishSpec(&sp, configPath); err != nil {
			return nil, fmt.Errorf("%s: %w", full, err)
		}
		specs = append(specs, sp)
	}
	return specs, nil
}

// computeGlobalEnv composes use_os_env -> env_files (in order) -> env,
// later entries overriding earlier ones, and returns a sorted KEY=VALUE
// slice suitable for folding into internal/env.Env via WithSet.
func computeGlobalEnv(useOSEnv bool, envFiles, env []string) ([]string, error) {
	m := make(map[string]string)
	if useOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, f := range envFiles {
		fileEnv, err := loadEnvFile(f)
		if err != nil {
			return nil, err
		}
		for k, v := range fileEnv {
			m[k] = v
		}
	}
	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}

func loadEnvFile(path string) (map[string]string, error) {
	// #nosec G304
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	out := make(map[string]string)
	for i, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid env line at %s:%d: %s", path, i+1, line)
		}
		k := strings.TrimSpace(line[:idx])
		v := strings.TrimSpace(line[idx+1:])
		if len(v) >= 2 && ((v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'')) {
			v = v[1 : len(v)-1]
		}
		out[k] = v
	}
	return out, nil
}

// applyGlobalLogDefaults fills each spec's Log.File from the [log] block
// when the spec left all of its own path fields blank.
func applyGlobalLogDefaults(cfg *Config) {
	baseDir := filepath.Dir(cfg.configPath)
	makeAbs := func(p string) string {
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Clean(filepath.Join(baseDir, p))
	}
	globalDir := makeAbs(cfg.Log.Dir)
	globalStdout := makeAbs(cfg.Log.Stdout)
	globalStderr := makeAbs(cfg.Log.Stderr)

	for i := range cfg.Specs {
		sp := &cfg.Specs[i]
		noPathsSet := sp.Log.File.Dir == "" && sp.Log.File.StdoutPath == "" && sp.Log.File.StderrPath == ""
		if noPathsSet {
			sp.Log.File.StdoutPath = globalStdout
			sp.Log.File.StderrPath = globalStderr
			if sp.Log.File.StdoutPath == "" && sp.Log.File.StderrPath == "" {
				sp.Log.File.Dir = globalDir
			}
			sp.Log.File.Compress = cfg.Log.Compress
		}
		if sp.Log.File.MaxSizeMB == 0 && cfg.Log.MaxSizeMB > 0 {
			sp.Log.File.MaxSizeMB = cfg.Log.MaxSizeMB
		}
		if sp.Log.File.MaxBackups == 0 && cfg.Log.MaxBackups > 0 {
			sp.Log.File.MaxBackups = cfg.Log.MaxBackups
		}
		if sp.Log.File.MaxAgeDays == 0 && cfg.Log.MaxAgeDays > 0 {
			sp.Log.File.MaxAgeDays = cfg.Log.MaxAgeDays
		}
	}
}

// intOrIntSliceHook lets expected_exit_codes be written as either a bare
// integer or a list of integers in the configuration document.
func intOrIntSliceHook(from reflect.Kind, to reflect.Kind, data interface{}) (interface{}, error) {
	if to != reflect.Slice {
		return data, nil
	}
	switch from {
	case reflect.Int, reflect.Int32, reflect.Int64, reflect.Float64:
		return []interface{}{data}, nil
	default:
		return data, nil
	}
}
