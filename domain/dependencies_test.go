package domain_test

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modulePath = "github.com/datenlord/wbpf-userspace/"

// layers lists, per source tree, the module packages it must not import.
var layers = []struct {
	dir       string
	forbidden []string
}{
	{"domain", []string{"application", "infrastructure", "hostfuncs", "host", "linker", "guests", "internal", "cmd"}},
	{"application", []string{"infrastructure", "host", "cmd"}},
	{"hostfuncs", []string{"application", "infrastructure", "host", "cmd"}},
	{"linker", []string{"application", "infrastructure", "host", "hostfuncs", "cmd"}},
	{"infrastructure", []string{"application", "host", "guests", "cmd"}},
	{"guests", []string{"application", "infrastructure", "host", "cmd"}},
	{"host", []string{"cmd"}},
}

// imports returns the module-relative imports of every non-test file
// under dir, keyed by file.
func imports(t *testing.T, dir string) map[string][]string {
	t.Helper()
	fset := token.NewFileSet()
	out := make(map[string][]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return err
		}
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, imp := range f.Imports {
			p := strings.Trim(imp.Path.Value, `"`)
			if rel, ok := strings.CutPrefix(p, modulePath); ok {
				out[path] = append(out[path], rel)
			}
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestLayering(t *testing.T) {
	for _, layer := range layers {
		t.Run(layer.dir, func(t *testing.T) {
			for file, deps := range imports(t, filepath.Join("..", layer.dir)) {
				for _, dep := range deps {
					top, _, _ := strings.Cut(dep, "/")
					for _, f := range layer.forbidden {
						assert.NotEqual(t, f, top, "%s imports %s", file, dep)
					}
				}
			}
		})
	}
}

func TestDomainImportsOnlyDomain(t *testing.T) {
	for file, deps := range imports(t, ".") {
		for _, dep := range deps {
			assert.True(t, strings.HasPrefix(dep, "domain/"), "%s imports %s", file, dep)
		}
	}
}

func TestDomainPackagesExist(t *testing.T) {
	for _, dir := range []string{"entities", "errors", "ports"} {
		files, err := filepath.Glob(filepath.Join(dir, "*.go"))
		require.NoError(t, err)
		assert.NotEmpty(t, files, "domain/%s should contain Go files", dir)
	}
}
