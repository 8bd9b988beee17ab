package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Auditware/radar/internal/model"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDetectDialect(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want model.Dialect
		ok   bool
	}{
		{"anchor", "use anchor_lang::prelude::*;\n#[program]\npub mod p {}", model.DialectAnchor, true},
		{"stylus", "use stylus_sdk::prelude::*;\n#[storage]\n#[entrypoint]\npub struct C {}", model.DialectStylus, true},
		{"sol_storage", "sol_storage! { #[entrypoint] pub struct C { uint256 n; } }", model.DialectStylus, true},
		{"plain rust", "fn main() {}", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := DetectDialect([]byte(tc.src))
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "programs", "vault", "Cargo.toml"), `
[package]
name = "vault"
version = "0.1.0"

[dependencies]
anchor-lang = { version = "0.30.1", features = ["init-if-needed"] }
`)
	write(t, filepath.Join(root, "programs", "vault", "src", "lib.rs"), "use anchor_lang::prelude::*;\n#[program]\npub mod vault {}\n")
	// no markers; the manifest decides
	write(t, filepath.Join(root, "programs", "vault", "src", "state.rs"), "pub struct Vault { pub amount: u64 }\n")
	write(t, filepath.Join(root, "contracts", "token", "src", "lib.rs"), "use stylus_sdk::prelude::*;\n#[storage]\npub struct Token {}\n")
	write(t, filepath.Join(root, "target", "debug", "build.rs"), "use anchor_lang::prelude::*;\n")
	write(t, filepath.Join(root, "scripts", "helper.rs"), "fn main() {}\n")

	units, errs, err := Discover(root, Options{Exclude: []string{"target"}})
	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, units, 3)

	byPath := map[string]model.SourceUnit{}
	for _, u := range units {
		rel, _ := filepath.Rel(root, u.Path)
		byPath[filepath.ToSlash(rel)] = u
	}
	assert.Equal(t, model.DialectStylus, byPath["contracts/token/src/lib.rs"].Dialect)
	assert.Equal(t, model.DialectAnchor, byPath["programs/vault/src/lib.rs"].Dialect)
	assert.Equal(t, "vault", byPath["programs/vault/src/lib.rs"].Program)
	assert.Equal(t, model.DialectAnchor, byPath["programs/vault/src/state.rs"].Dialect)

	for i := 1; i < len(units); i++ {
		assert.Less(t, units[i-1].Path, units[i].Path)
	}
}

func TestDiscoverForcedDialect(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a.rs"), "fn main() {}\n")
	units, _, err := Discover(root, Options{Dialect: model.DialectStylus})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, model.DialectStylus, units[0].Dialect)
}

func TestDiscoverSingleFile(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "lib.rs")
	write(t, p, "use stylus_sdk::prelude::*;\n")
	units, _, err := Discover(p, Options{})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, p, units[0].Path)

	_, _, err = Discover(filepath.Join(root, "missing.rs"), Options{})
	assert.Error(t, err)
}

func TestAnchorManifest(t *testing.T) {
	p := filepath.Join(t.TempDir(), "Anchor.toml")
	write(t, p, `
[provider]
cluster = "Localnet"
wallet = "~/.config/solana/id.json"

[programs.localnet]
vault = "Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS"

[programs.devnet]
vault = "Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS"
escrow = "11111111111111111111111111111111"
`)
	m, err := LoadAnchor(p)
	require.NoError(t, err)
	assert.Equal(t, "Localnet", m.Provider.Cluster)
	assert.Equal(t, []string{"escrow", "vault"}, m.ProgramNames())
}

func TestExcluded(t *testing.T) {
	assert.True(t, excluded("target", "target", []string{"target"}))
	assert.True(t, excluded("tests/fixtures/a.rs", "a.rs", []string{"tests/fixtures"}))
	assert.True(t, excluded("gen/x_generated.rs", "x_generated.rs", []string{"*_generated.rs"}))
	assert.False(t, excluded("src/lib.rs", "lib.rs", []string{"target", "tests/fixtures"}))
}
