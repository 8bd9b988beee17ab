package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/Auditware/radar/internal/model"
)

// CargoManifest is the subset of Cargo.toml radar reads.
type CargoManifest struct {
	Package struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
		Edition string `toml:"edition"`
	} `toml:"package"`
	Dependencies map[string]any `toml:"dependencies"`
	Workspace    struct {
		Members []string `toml:"members"`
	} `toml:"workspace"`
}

// Dialect infers the framework from the crate's dependencies.
func (m *CargoManifest) Dialect() (model.Dialect, bool) {
	if m == nil {
		return "", false
	}
	_, anchor := m.Dependencies["anchor-lang"]
	_, stylus := m.Dependencies["stylus-sdk"]
	switch {
	case anchor && !stylus:
		return model.DialectAnchor, true
	case stylus && !anchor:
		return model.DialectStylus, true
	}
	return "", false
}

func LoadCargo(path string) (*CargoManifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m CargoManifest
	if err := toml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// AnchorManifest is the subset of Anchor.toml radar reads.
type AnchorManifest struct {
	Provider struct {
		Cluster string `toml:"cluster"`
		Wallet  string `toml:"wallet"`
	} `toml:"provider"`
	// Programs maps cluster → program name → program id.
	Programs map[string]map[string]string `toml:"programs"`
	Workspace struct {
		Members []string `toml:"members"`
	} `toml:"workspace"`
}

// ProgramNames lists every program declared for any cluster.
func (m *AnchorManifest) ProgramNames() []string {
	seen := map[string]bool{}
	var out []string
	for _, progs := range m.Programs {
		for name := range progs {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out
}

func LoadAnchor(path string) (*AnchorManifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m AnchorManifest
	if err := toml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// manifests caches the nearest Cargo.toml lookup per directory.
type manifests struct {
	root  string
	byDir map[string]*CargoManifest
	errs  map[string]error
}

func newManifests(root string) *manifests {
	return &manifests{root: root, byDir: map[string]*CargoManifest{}, errs: map[string]error{}}
}

// nearest returns the closest Cargo.toml at or above dir, stopping at root.
func (m *manifests) nearest(dir string) (*CargoManifest, error) {
	if c, ok := m.byDir[dir]; ok {
		return c, m.errs[dir]
	}
	var (
		c   *CargoManifest
		err error
	)
	candidate := filepath.Join(dir, "Cargo.toml")
	if _, statErr := os.Stat(candidate); statErr == nil {
		c, err = LoadCargo(candidate)
	} else if parent := filepath.Dir(dir); parent != dir && within(m.root, parent) {
		c, err = m.nearest(parent)
	}
	m.byDir[dir] = c
	m.errs[dir] = err
	return c, err
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !startsWithParent(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
