// Command paludis is a thin front end over the resolution core: it loads
// repository profiles and a policy bundle from TOML, resolves the given
// targets, and prints the resulting merge list. It performs no builds and
// mutates nothing.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	toml "github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/negril/paludis/deplist"
	"github.com/negril/paludis/name"
	"github.com/negril/paludis/repository"
)

// Config is one full execution, with output streams injected so tests
// can capture them.
type Config struct {
	Args           []string
	Stdout, Stderr io.Writer
}

func main() {
	c := &Config{
		Args:   os.Args[1:],
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	os.Exit(c.Run())
}

type rawConfig struct {
	AcceptKeywords []string `toml:"accept_keywords"`
	AcceptLicenses []string `toml:"accept_licenses"`
	Repositories   []string `toml:"repositories"`
	CachePath      string   `toml:"cache_path"`

	Sets map[string]string `toml:"sets"`

	Options deplist.RawOptions `toml:"options"`
}

// Run executes a configuration and returns an exit code.
func (c *Config) Run() int {
	fs := flag.NewFlagSet("paludis", flag.ContinueOnError)
	fs.SetOutput(c.Stderr)
	configPath := fs.StringP("config", "c", "", "path to the TOML configuration")
	trace := fs.Bool("trace", false, "print resolution trace output")
	if err := fs.Parse(c.Args); err != nil {
		return 2
	}

	targets := fs.Args()
	if *configPath == "" || len(targets) == 0 {
		fmt.Fprintln(c.Stderr, "usage: paludis -c <config.toml> [--trace] <target>...")
		return 2
	}

	if err := c.run(*configPath, targets, *trace); err != nil {
		fmt.Fprintf(c.Stderr, "paludis: %s\n", err)
		return 1
	}
	return 0
}

func (c *Config) run(configPath string, targets []string, trace bool) error {
	f, err := os.Open(configPath)
	if err != nil {
		return errors.Wrap(err, "opening configuration")
	}
	defer f.Close()

	var raw rawConfig
	if err := toml.NewDecoder(f).Decode(&raw); err != nil {
		return errors.Wrap(err, "decoding configuration")
	}

	opts, err := deplist.ParseOptions(raw.Options)
	if err != nil {
		return err
	}

	env, cleanup, err := buildEnvironment(raw)
	if err != nil {
		return err
	}
	defer cleanup()

	d := deplist.New(env, opts)
	if trace {
		d.SetTraceLogger(log.New(c.Stderr, "", 0))
	}

	for _, target := range targets {
		if err := d.AddTarget(target); err != nil {
			return errors.Wrapf(err, "resolving %q", target)
		}
	}

	for _, e := range d.Entries() {
		fmt.Fprintln(c.Stdout, e)
	}
	for _, w := range d.Warnings() {
		fmt.Fprintf(c.Stderr, "warning: %s\n", w)
	}
	if d.HasErrors() {
		return errors.New("plan contains masked or blocked entries")
	}
	return nil
}

func buildEnvironment(raw rawConfig) (*repository.DefaultEnvironment, func(), error) {
	cleanup := func() {}

	var cache *repository.MetadataCache
	if raw.CachePath != "" {
		var err error
		cache, err = repository.OpenMetadataCache(raw.CachePath)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() { cache.Close() }
	}

	var repos []repository.Repository
	for _, path := range raw.Repositories {
		rf, err := os.Open(path)
		if err != nil {
			return nil, cleanup, errors.Wrapf(err, "opening repository profile %q", path)
		}
		r, err := repository.LoadFakeRepository(rf)
		rf.Close()
		if err != nil {
			return nil, cleanup, errors.Wrapf(err, "loading repository profile %q", path)
		}
		if cache != nil && r.InstalledRoot() == "" {
			repos = append(repos, repository.NewCachingRepository(r, cache))
		} else {
			repos = append(repos, r)
		}
	}
	if len(repos) == 0 {
		return nil, cleanup, errors.New("no repositories configured")
	}

	config := repository.EnvironmentConfig{Sets: raw.Sets}
	for _, k := range raw.AcceptKeywords {
		kn, err := name.NewKeywordName(k)
		if err != nil {
			return nil, cleanup, err
		}
		config.AcceptedKeywords = append(config.AcceptedKeywords, kn)
	}
	config.AcceptedLicenses = raw.AcceptLicenses

	db := repository.NewPackageDatabase(repos...)
	return repository.NewDefaultEnvironment(db, config), cleanup, nil
}
