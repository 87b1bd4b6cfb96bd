package architecture_test

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// walkImports calls fn for every import of every Go file under internal/.
func walkImports(t *testing.T, root string, fn func(rel, imp string)) {
	t.Helper()
	fset := token.NewFileSet()
	err := filepath.WalkDir(filepath.Join(root, "internal"), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, spec := range f.Imports {
			if imp, err := strconv.Unquote(spec.Path.Value); err == nil {
				fn(filepath.ToSlash(rel), imp)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk internal/: %v", err)
	}
}

func TestImportBoundaries(t *testing.T) {
	root, modulePath := moduleRoot(t)
	var violations []string
	walkImports(t, root, func(rel, imp string) {
		for _, bad := range disallowedImports(modulePath, layerFor(rel)) {
			if strings.HasPrefix(imp, bad) {
				violations = append(violations, fmt.Sprintf("- %s imports %q (%s may not import %q)", rel, imp, layerFor(rel), bad))
				return
			}
		}
	})
	if len(violations) > 0 {
		t.Fatalf("import boundary violations:\n%s", strings.Join(violations, "\n"))
	}
}

func TestClientsOnlyWiredByApp(t *testing.T) {
	root, modulePath := moduleRoot(t)
	var violations []string
	walkImports(t, root, func(rel, imp string) {
		if strings.HasPrefix(rel, "internal/clients/") || strings.HasPrefix(rel, "internal/app/") {
			return
		}
		if strings.HasPrefix(imp, modulePath+"/internal/clients/") {
			violations = append(violations, fmt.Sprintf("- %s imports %q", rel, imp))
		}
	})
	if len(violations) > 0 {
		t.Fatalf("internal/clients imported outside internal/app (inject through an interface instead):\n%s",
			strings.Join(violations, "\n"))
	}
}

func moduleRoot(t *testing.T) (string, string) {
	t.Helper()
	start, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	root, err := findModuleRoot(start)
	if err != nil {
		t.Fatalf("find module root: %v", err)
	}
	modulePath, err := readModulePath(filepath.Join(root, "go.mod"))
	if err != nil {
		t.Fatalf("read module path: %v", err)
	}
	return root, modulePath
}

func layerFor(rel string) string {
	switch {
	case strings.HasPrefix(rel, "internal/platform/"):
		return "platform"
	case strings.HasPrefix(rel, "internal/domain/"):
		return "domain"
	case strings.HasPrefix(rel, "internal/data/"):
		return "data"
	case strings.HasPrefix(rel, "internal/services/") && !strings.HasSuffix(rel, "_test.go"):
		return "services"
	case strings.HasPrefix(rel, "internal/jobs/"):
		return "jobs"
	default:
		return ""
	}
}

func disallowedImports(modulePath string, layer string) []string {
	http := modulePath + "/internal/http/"
	app := modulePath + "/internal/app"
	switch layer {
	case "platform":
		return []string{
			modulePath + "/internal/domain/",
			modulePath + "/internal/data/",
			modulePath + "/internal/services",
			modulePath + "/internal/jobs/",
			http, app,
		}
	case "domain":
		return []string{
			modulePath + "/internal/data/",
			modulePath + "/internal/services",
			modulePath + "/internal/jobs/",
			http, app,
		}
	case "data":
		return []string{
			modulePath + "/internal/services",
			modulePath + "/internal/jobs/",
			http, app,
		}
	case "services":
		return []string{modulePath + "/internal/jobs/", http, app}
	case "jobs":
		return []string{http, app}
	default:
		return nil
	}
}

func findModuleRoot(start string) (string, error) {
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found from %s", start)
		}
		dir = parent
	}
}

func readModulePath(goModPath string) (string, error) {
	raw, err := os.ReadFile(goModPath)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if mp, ok := strings.CutPrefix(strings.TrimSpace(line), "module "); ok && strings.TrimSpace(mp) != "" {
			return strings.TrimSpace(mp), nil
		}
	}
	return "", fmt.Errorf("module path not found in %s", goModPath)
}
