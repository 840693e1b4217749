// Package testutil provides reusable testing helpers for enforcing architectural
// boundaries across the repository.
package testutil

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// AssertNoTransitiveDependency loads the given package patterns with their
// full import graph and fails the test if any reachable package path
// satisfies the forbidden predicate. The reason string is appended to the
// failure for clarity.
func AssertNoTransitiveDependency(t testing.TB, patterns []string, forbidden func(path string) bool, reason string) {
	t.Helper()
	pkgs, err := loadPackages(packages.NeedName|packages.NeedImports|packages.NeedDeps, patterns)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	failIfViolations(t, "forbidden transitive dependency detected", reason, transitiveViolations(pkgs, forbidden))
}

// AssertNoDirectImports fails if any non-test file of the given packages
// imports a path satisfying the forbidden predicate.
func AssertNoDirectImports(t testing.TB, patterns []string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	pkgs, err := loadPackages(packages.NeedName|packages.NeedImports, patterns)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	failIfViolations(t, "forbidden direct imports detected", reason, directViolations(pkgs, forbidden))
}

// PrefixForbidden returns a predicate matching any import path that starts
// with one of the given prefixes.
func PrefixForbidden(prefixes ...string) func(string) bool {
	return func(path string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}
}

// InternalImportForbidden matches any import path containing /internal/.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

// OutsideAllowlist returns a predicate matching every import path that is
// neither standard library nor prefixed by one of allowed.
func OutsideAllowlist(allowed ...string) func(string) bool {
	return func(path string) bool {
		if isStdlib(path) {
			return false
		}
		for _, p := range allowed {
			if strings.HasPrefix(path, p) {
				return false
			}
		}
		return true
	}
}

func isStdlib(path string) bool {
	first, _, _ := strings.Cut(path, "/")
	return !strings.Contains(first, ".") && first != "aquacore"
}

var loadPackages = func(mode packages.LoadMode, patterns []string) ([]*packages.Package, error) {
	pkgs, err := packages.Load(&packages.Config{Mode: mode}, patterns...)
	if err != nil {
		return nil, err
	}
	var errs []string
	packages.Visit(pkgs, nil, func(p *packages.Package) {
		for _, e := range p.Errors {
			errs = append(errs, e.Error())
		}
	})
	if len(errs) > 0 {
		return nil, &loadError{msgs: errs}
	}
	return pkgs, nil
}

type loadError struct{ msgs []string }

func (e *loadError) Error() string { return strings.Join(e.msgs, "\n") }

func directViolations(pkgs []*packages.Package, forbidden func(string) bool) []string {
	var viols []string
	for _, p := range pkgs {
		for path := range p.Imports {
			if forbidden(path) {
				viols = append(viols, p.PkgPath+" imports "+path)
			}
		}
	}
	sort.Strings(viols)
	return viols
}

func transitiveViolations(roots []*packages.Package, forbidden func(string) bool) []string {
	var viols []string
	for _, root := range roots {
		seen := map[string]bool{}
		var walk func(p *packages.Package, via string)
		walk = func(p *packages.Package, via string) {
			for path, dep := range p.Imports {
				if seen[path] {
					continue
				}
				seen[path] = true
				chain := via + " -> " + path
				if forbidden(path) {
					viols = append(viols, chain)
					continue
				}
				walk(dep, chain)
			}
		}
		walk(root, root.PkgPath)
	}
	sort.Strings(viols)
	return viols
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, header, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("%s (%s):\n%s", header, reason, strings.Join(viols, "\n"))
	}
}
