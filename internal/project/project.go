package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/Auditware/radar/internal/model"
)

type Options struct {
	// Dialect forces every file to one dialect instead of detecting it.
	Dialect model.Dialect
	// Exclude holds directory names or slash-separated globs relative to the root.
	Exclude []string
	Logger  hclog.Logger
}

var (
	anchorMarkers = []*regexp.Regexp{
		regexp.MustCompile(`\banchor_lang\b`),
		regexp.MustCompile(`#\[program\]`),
		regexp.MustCompile(`#\[derive\([^)]*\bAccounts\b`),
		regexp.MustCompile(`\bContext<`),
		regexp.MustCompile(`\bsolana_program\b`),
	}
	stylusMarkers = []*regexp.Regexp{
		regexp.MustCompile(`\bstylus_sdk\b`),
		regexp.MustCompile(`#\[(storage|entrypoint|public|external)\]`),
		regexp.MustCompile(`\bsol_storage!`),
		regexp.MustCompile(`\bmsg::sender\(\)`),
	}
)

// DetectDialect scores source text against each dialect's markers.
func DetectDialect(text []byte) (model.Dialect, bool) {
	score := func(markers []*regexp.Regexp) int {
		n := 0
		for _, m := range markers {
			if m.Match(text) {
				n++
			}
		}
		return n
	}
	a, s := score(anchorMarkers), score(stylusMarkers)
	switch {
	case a > s:
		return model.DialectAnchor, true
	case s > a:
		return model.DialectStylus, true
	}
	return "", false
}

// Discover collects the Rust sources under root (a file or a directory).
// Unreadable files are returned as read errors; files whose dialect cannot
// be determined are skipped.
func Discover(root string, opts Options) ([]model.SourceUnit, []model.ScanError, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, err
	}
	base := root
	if !info.IsDir() {
		base = filepath.Dir(root)
	}
	mf := newManifests(absOr(base))

	var paths []string
	if !info.IsDir() {
		paths = []string{root}
	} else {
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if p == root {
					return err
				}
				logger.Warn("walk failed", "path", p, "error", err)
				return nil
			}
			rel, _ := filepath.Rel(root, p)
			if d.IsDir() {
				if p != root && excluded(filepath.ToSlash(rel), d.Name(), opts.Exclude) {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(p) == ".rs" && !excluded(filepath.ToSlash(rel), d.Name(), opts.Exclude) {
				paths = append(paths, p)
			}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}
	sort.Strings(paths)

	var (
		units []model.SourceUnit
		errs  []model.ScanError
	)
	for _, p := range paths {
		text, err := os.ReadFile(p)
		if err != nil {
			errs = append(errs, model.ScanError{Kind: model.ErrorKindRead, File: p, Message: err.Error()})
			continue
		}
		manifest, merr := mf.nearest(absOr(filepath.Dir(p)))
		if merr != nil {
			logger.Warn("manifest unreadable", "file", p, "error", merr)
		}
		d := opts.Dialect
		if d == "" {
			var ok bool
			if d, ok = DetectDialect(text); !ok {
				if d, ok = manifest.Dialect(); !ok {
					logger.Debug("no dialect markers, skipping", "file", p)
					continue
				}
			}
		}
		u := model.SourceUnit{Path: p, Dialect: d, Text: text}
		if manifest != nil {
			u.Program = manifest.Package.Name
		}
		units = append(units, u)
	}
	logger.Debug("discovered sources", "root", root, "units", len(units), "unreadable", len(errs))
	return units, errs, nil
}

// ReadUnit loads a single file with an explicit or detected dialect.
func ReadUnit(p string, forced model.Dialect) (model.SourceUnit, error) {
	text, err := os.ReadFile(p)
	if err != nil {
		return model.SourceUnit{}, err
	}
	d := forced
	if d == "" {
		var ok bool
		if d, ok = DetectDialect(text); !ok {
			return model.SourceUnit{}, fmt.Errorf("%s: cannot tell whether this is an anchor or stylus source; pass --dialect", p)
		}
	}
	return model.SourceUnit{Path: p, Dialect: d, Text: text}, nil
}

func excluded(rel, name string, patterns []string) bool {
	for _, pat := range patterns {
		pat = strings.TrimSuffix(filepath.ToSlash(pat), "/")
		if pat == name || pat == rel || strings.HasPrefix(rel, pat+"/") {
			return true
		}
		if ok, err := path.Match(pat, rel); err == nil && ok {
			return true
		}
		if ok, err := path.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}

func absOr(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return p
}

// ErrNoSources is returned by callers that require at least one unit.
var ErrNoSources = errors.New("no anchor or stylus sources found")
