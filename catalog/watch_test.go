package catalog_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/catalog"
	"github.com/matryer/is"
)

func constantRule(v string) string {
	return `
contexts:
  - name: c
    allow: [rule_engine/dates]
rules:
  - short_name: constant
    context: c
    algorithm: return ` + v + `
    status: validated
    test_cases:
      - {description: value, expected: ` + v + `}
`
}

func TestWatcher(t *testing.T) {
	is := is.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	is.NoErr(os.WriteFile(path, []byte(constantRule("1")), 0644))

	vault := arbiter.NewVault(nil)
	w, err := catalog.NewWatcher(catalog.WatcherConfig{
		Path:          path,
		Base:          baseEngine(t),
		Vault:         vault,
		DebounceDelay: 20 * time.Millisecond,
	})
	is.NoErr(err)
	defer w.Stop()

	initial := w.Load(ctx)
	is.NoErr(initial.Err)
	is.Equal(constantValue(t, vault), int64(1))

	is.NoErr(w.Start(ctx))

	writeCatalog(t, path, constantRule("2"))
	r := nextReload(t, w)
	is.NoErr(r.Err)
	is.Equal(constantValue(t, vault), int64(2))

	// a rule failing its test case keeps the current engine
	writeCatalog(t, path, constantRule("3")+"      - {description: other, expected: 4}\n")
	r = nextReload(t, w)
	is.True(errors.Is(r.Err, catalog.ErrRejected))
	is.True(r.Diagnostics.HasErrors())
	is.Equal(constantValue(t, vault), int64(2))

	// so does a document that does not parse
	writeCatalog(t, path, "rules: {")
	r = nextReload(t, w)
	is.True(errors.Is(r.Err, catalog.ErrInvalidCatalog))
	is.Equal(constantValue(t, vault), int64(2))
}

func TestNewWatcherNeedsVault(t *testing.T) {
	is := is.New(t)
	_, err := catalog.NewWatcher(catalog.WatcherConfig{Path: "catalog.yaml"})
	is.True(err != nil)
}

// writeCatalog replaces the file in one step, the way editors save.
func writeCatalog(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}

func nextReload(t *testing.T, w *catalog.Watcher) catalog.Reload {
	t.Helper()
	select {
	case r, ok := <-w.Reloads():
		if !ok {
			t.Fatal("watcher stopped")
		}
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after the catalog changed")
	}
	return catalog.Reload{}
}

func constantValue(t *testing.T, v *arbiter.Vault) any {
	t.Helper()
	res, err := v.Engine().EvaluateRule(context.Background(), "constant", nil)
	if err != nil {
		t.Fatal(err)
	}
	return res.Value
}
