// Package fleet loads a YAML cluster config describing a set of Bolt stub
// scripts and the ports they should each listen on — the stub launcher's
// multi-port mode, useful for simulating a causal cluster's members (one
// script per core/read-replica) from a single boltstub invocation.
package fleet

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nornic-labs/boltkit/pkg/script"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML document shape: a list of members, each
// naming a script file and, optionally, the port it should listen on
// (falling back to the script's own PORT directive, then the service's
// auto-assigned sequence, if omitted).
type Config struct {
	Members []Member `yaml:"members"`
}

// Member is one script entry in a fleet config.
type Member struct {
	Name   string `yaml:"name"`
	Script string `yaml:"script"`
	Port   int    `yaml:"port"`
}

// Load parses a fleet YAML document and loads every member's script file,
// resolving relative script paths against the current working directory.
func Load(r io.Reader) ([]*script.Script, error) {
	return LoadRelativeTo(r, ".")
}

// LoadRelativeTo is Load, but resolves each member's Script path relative
// to baseDir instead of the current working directory.
func LoadRelativeTo(r io.Reader, baseDir string) ([]*script.Script, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("fleet: parsing config: %w", err)
	}
	if len(cfg.Members) == 0 {
		return nil, fmt.Errorf("fleet: config has no members")
	}

	scripts := make([]*script.Script, 0, len(cfg.Members))
	for _, m := range cfg.Members {
		if m.Script == "" {
			return nil, fmt.Errorf("fleet: member %q has no script path", m.Name)
		}
		path := m.Script
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("fleet: opening member %q script %s: %w", m.Name, path, err)
		}
		sc, err := script.Load(f, path)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("fleet: loading member %q script %s: %w", m.Name, path, err)
		}
		if m.Port != 0 {
			sc.Port = m.Port
		}
		scripts = append(scripts, sc)
	}
	return scripts, nil
}
