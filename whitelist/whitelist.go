// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package whitelist performs a Python-like static check over candidate
// guest source files (spec §4.3): import extraction, forbidden-module
// rejection, and a dangerous-builtin scan. Violations are collected
// rather than short-circuited so a miner sees every problem at once.
package whitelist

import (
	"regexp"

	"github.com/luxfi/platform-validator/platformerr"
	"github.com/luxfi/platform-validator/utils/set"
)

// importRe matches "import X.Y, Z as W" and "from X.Y import ...",
// capturing the first module name in either form. In a comma-separated
// import list only that first module (X.Y) is captured; Z and any later
// names are not extracted, so Check does not test them against the policy.
var importRe = regexp.MustCompile(`(?m)^\s*(?:import\s+([A-Za-z_][\w.]*)|from\s+([A-Za-z_][\w.]*)\s+import\s)`)

// dangerousPatterns maps a regex over the source text to the builtin
// or stdlib facility it flags. Each entry's policy flag (see Policy)
// decides whether a match is a warning or an error.
var dangerousPatterns = []struct {
	name string
	flag string
	re   *regexp.Regexp
}{
	{"subprocess", "allow_subprocess", regexp.MustCompile(`\bsubprocess\b`)},
	{"exec", "allow_exec", regexp.MustCompile(`\bexec\s*\(`)},
	{"eval", "allow_eval", regexp.MustCompile(`\beval\s*\(`)},
	{"compile", "allow_compile", regexp.MustCompile(`\bcompile\s*\(`)},
	{"__import__", "allow_dynamic_import", regexp.MustCompile(`\b__import__\s*\(`)},
	{"pickle", "allow_pickle", regexp.MustCompile(`\bpickle\b`)},
	{"ctypes", "allow_ctypes", regexp.MustCompile(`\bctypes\b`)},
}

// Policy gates which modules and dangerous patterns are permitted.
type Policy struct {
	AllowedStdlib      set.Set[string]
	AllowedThirdParty  set.Set[string]
	Forbidden          set.Set[string]
	AllowSubprocess    bool
	AllowExec          bool
	AllowEval          bool
	AllowCompile       bool
	AllowDynamicImport bool
	AllowPickle        bool
	AllowCtypes        bool
}

func (p Policy) flagAllowed(flag string) bool {
	switch flag {
	case "allow_subprocess":
		return p.AllowSubprocess
	case "allow_exec":
		return p.AllowExec
	case "allow_eval":
		return p.AllowEval
	case "allow_compile":
		return p.AllowCompile
	case "allow_dynamic_import":
		return p.AllowDynamicImport
	case "allow_pickle":
		return p.AllowPickle
	case "allow_ctypes":
		return p.AllowCtypes
	default:
		return false
	}
}

// Result is the outcome of checking a single source file.
type Result struct {
	Valid            bool
	Errors           []string
	Warnings         []string
	ImportedModules  []string
	DetectedPatterns []string
}

// rootModule reduces "a.b.c" to "a".
func rootModule(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}

// Check runs the static analysis described in spec §4.3 over source.
func Check(policy Policy, source string) Result {
	var res Result
	res.Valid = true

	seen := set.NewSet[string](0)
	for _, m := range importRe.FindAllStringSubmatch(source, -1) {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		root := rootModule(raw)
		if seen.Contains(root) {
			continue
		}
		seen.Add(root)
		res.ImportedModules = append(res.ImportedModules, root)

		switch {
		case policy.Forbidden.Contains(root):
			res.Valid = false
			res.Errors = append(res.Errors, "forbidden module: "+root)
		case policy.AllowedStdlib.Contains(root) || policy.AllowedThirdParty.Contains(root):
			// permitted
		default:
			res.Valid = false
			res.Errors = append(res.Errors, "module not in allowlist: "+root)
		}
	}

	for _, dp := range dangerousPatterns {
		if !dp.re.MatchString(source) {
			continue
		}
		res.DetectedPatterns = append(res.DetectedPatterns, dp.name)
		if policy.flagAllowed(dp.flag) {
			res.Warnings = append(res.Warnings, "use of "+dp.name+" (permitted by policy)")
		} else {
			res.Valid = false
			res.Errors = append(res.Errors, "use of "+dp.name+" is forbidden")
		}
	}

	return res
}

// Err returns a platformerr.Validation error carrying every violation
// in res.Errors, or nil if res is valid (spec §7, "miners see all
// validator/whitelist errors up-front").
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return platformerr.WithItems(platformerr.Validation, "static whitelist check failed", r.Errors)
}
