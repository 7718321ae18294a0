package harness

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgeutils/chanterelle/internal/config"
	"github.com/spf13/viper"
)

// ConfigSpec describes one synthesized test configuration: a TOML template,
// override fragments merged over it in order, and an optional directory of
// data files the application expects to find next to its config.
type ConfigSpec struct {
	Template  string
	Fragments []string
	DataDir   string
}

// DefaultTemplate renders the base configuration template for a database URL
// and plugin list, mirroring what production deployments look like.
func DefaultTemplate(databaseURL string, plugins []string) string {
	quoted := make([]string, len(plugins))
	for i, p := range plugins {
		quoted[i] = fmt.Sprintf("%q", p)
	}
	return fmt.Sprintf(`[github]
client_id = "aaa"
client_secret = "bbb"

[database]
database_url = %q

[session]
secret = "eWrkA6xpa7LTSSYUwZEEVoOU62501Ucf9lmLcgzTj1I="
https_only = false

[plugins]
enabled = [%s]
`, databaseURL, strings.Join(quoted, ", "))
}

// EnvContext holds every piece of process-wide state a synthesized config
// mutated, so that all of it can be restored at teardown. It is constructed
// per test and threaded explicitly instead of living in globals.
type EnvContext struct {
	// ScratchDir is the isolated working directory the test runs in.
	ScratchDir string
	// ConfigPath is the absolute path of the synthesized config file.
	ConfigPath string

	prevDir    string
	prevEnv    string
	prevEnvSet bool
	restored   bool
}

// SynthesizeConfig materializes a configuration file from spec inside a
// fresh scratch directory, switches the working directory there, points
// CHANTERELLE_CONFIG_FILE at the file, and copies the spec's data files in.
// Callers own the returned EnvContext and must call Restore at teardown on
// every exit path.
func SynthesizeConfig(spec ConfigSpec) (*EnvContext, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(strings.NewReader(spec.Template)); err != nil {
		return nil, fmt.Errorf("%w: parse template: %v", ErrConfigWrite, err)
	}
	for i, frag := range spec.Fragments {
		if err := v.MergeConfig(strings.NewReader(frag)); err != nil {
			return nil, fmt.Errorf("%w: merge fragment %d: %v", ErrConfigWrite, i, err)
		}
	}

	scratch, err := os.MkdirTemp("", "chanterelle-test-")
	if err != nil {
		return nil, fmt.Errorf("%w: create scratch directory: %v", ErrConfigWrite, err)
	}

	env := &EnvContext{
		ScratchDir: scratch,
		ConfigPath: filepath.Join(scratch, "config.toml"),
	}
	fail := func(err error) (*EnvContext, error) {
		_ = os.RemoveAll(scratch)
		return nil, err
	}

	if err := v.WriteConfigAs(env.ConfigPath); err != nil {
		return fail(fmt.Errorf("%w: write %s: %v", ErrConfigWrite, env.ConfigPath, err))
	}

	if spec.DataDir != "" {
		if err := copyDataFiles(spec.DataDir, scratch); err != nil {
			return fail(fmt.Errorf("%w: copy data files: %v", ErrConfigWrite, err))
		}
	}

	env.prevDir, err = os.Getwd()
	if err != nil {
		return fail(fmt.Errorf("%w: resolve working directory: %v", ErrConfigWrite, err))
	}
	if err := os.Chdir(scratch); err != nil {
		return fail(fmt.Errorf("%w: enter scratch directory: %v", ErrConfigWrite, err))
	}

	env.prevEnv, env.prevEnvSet = os.LookupEnv(config.EnvConfigFile)
	if err := os.Setenv(config.EnvConfigFile, env.ConfigPath); err != nil {
		_ = os.Chdir(env.prevDir)
		return fail(fmt.Errorf("%w: set %s: %v", ErrConfigWrite, config.EnvConfigFile, err))
	}
	return env, nil
}

// Restore undoes every process-wide mutation: working directory, environment
// variable, and the scratch directory itself. Idempotent.
func (e *EnvContext) Restore() error {
	if e == nil || e.restored {
		return nil
	}
	e.restored = true

	var errs []error
	if err := os.Chdir(e.prevDir); err != nil {
		errs = append(errs, fmt.Errorf("restore working directory: %w", err))
	}
	if e.prevEnvSet {
		if err := os.Setenv(config.EnvConfigFile, e.prevEnv); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", config.EnvConfigFile, err))
		}
	} else if err := os.Unsetenv(config.EnvConfigFile); err != nil {
		errs = append(errs, fmt.Errorf("unset %s: %w", config.EnvConfigFile, err))
	}
	if err := os.RemoveAll(e.ScratchDir); err != nil {
		errs = append(errs, fmt.Errorf("remove scratch directory: %w", err))
	}
	return errors.Join(errs...)
}

// copyDataFiles copies the regular files at the top level of src into dst,
// so relative paths used by the application resolve against test-only files.
func copyDataFiles(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
