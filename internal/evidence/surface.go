package evidence

import (
	"path"
	"strings"
)

// Surface classifies who a changed file matters to.
type Surface string

const (
	SurfacePublicAPI Surface = "public-api"
	SurfaceCLI       Surface = "cli"
	SurfaceConfig    Surface = "config"
	SurfaceInfra     Surface = "infra"
	SurfaceDocs      Surface = "docs"
	SurfaceTests     Surface = "tests"
	SurfaceInternal  Surface = "internal"
	SurfaceUnknown   Surface = "unknown"
)

// Priority ranks surfaces for output ordering; lower sorts first.
func (s Surface) Priority() int {
	switch s {
	case SurfacePublicAPI:
		return 0
	case SurfaceCLI:
		return 1
	case SurfaceConfig:
		return 2
	case SurfaceInfra:
		return 3
	case SurfaceDocs:
		return 4
	case SurfaceTests:
		return 5
	case SurfaceInternal:
		return 6
	default:
		return 99
	}
}

// Rules are caller overrides applied after the fixed buckets.
type Rules struct {
	PublicPaths      []string `json:"publicPaths,omitempty" yaml:"publicPaths,omitempty"`
	InternalPaths    []string `json:"internalPaths,omitempty" yaml:"internalPaths,omitempty"`
	PublicPrefixes   []string `json:"publicPrefixes,omitempty" yaml:"publicPrefixes,omitempty"`
	InternalPrefixes []string `json:"internalPrefixes,omitempty" yaml:"internalPrefixes,omitempty"`
}

var (
	docExts   = map[string]bool{".md": true, ".markdown": true, ".rst": true, ".adoc": true, ".txt": true}
	docNames  = []string{"readme", "changelog", "changes", "license", "contributing", "authors", "notice", "security"}
	docDirs   = []string{"docs", "doc", "documentation"}
	testDirs  = []string{"test", "tests", "testdata", "__tests__", "spec", "e2e"}
	infraDirs = []string{".github", ".circleci", ".gitlab", "deploy", "deployments", "infra", "terraform", "k8s", "helm", "charts", "ci"}
	infraExts = map[string]bool{".tf": true, ".tfvars": true, ".hcl": true}
	cliDirs   = []string{"cmd", "cli", "bin"}
	cfgExts   = map[string]bool{".yaml": true, ".yml": true, ".toml": true, ".ini": true, ".conf": true, ".cfg": true, ".env": true, ".properties": true}
	cfgNames  = map[string]bool{
		"go.mod": true, "go.sum": true, "package.json": true, "package-lock.json": true,
		"cargo.toml": true, "cargo.lock": true, "pyproject.toml": true, "setup.cfg": true,
		"requirements.txt": true, ".env": true, ".editorconfig": true,
	}
	cfgDirs   = []string{"config", "configs", "conf", "settings"}
	infraName = map[string]bool{
		"makefile": true, "jenkinsfile": true, ".gitlab-ci.yml": true, ".travis.yml": true,
		".goreleaser.yml": true, ".goreleaser.yaml": true, "vagrantfile": true, "procfile": true,
	}
	publicDirs  = []string{"pkg", "api", "include", "public", "sdk"}
	publicExts  = map[string]bool{".proto": true, ".graphql": true, ".graphqls": true, ".thrift": true, ".avsc": true}
	publicNames = map[string]bool{"lib.rs": true, "index.ts": true, "index.js": true, "index.mjs": true, "__init__.py": true, "index.d.ts": true}
	sourceExts  = map[string]bool{".go": true, ".rs": true, ".py": true, ".ts": true, ".js": true, ".java": true, ".rb": true, ".c": true, ".h": true, ".cs": true, ".swift": true, ".kt": true}
)

// Classify returns the surface of p. It is a pure function of p and rules.
// Fixed buckets (docs, tests, infra, cli, config) win over rules; rules win
// over the built-in public-entrypoint heuristics; anything else is internal.
func Classify(p string, rules Rules) Surface {
	p = strings.TrimPrefix(path.Clean(strings.ReplaceAll(p, "\\", "/")), "./")
	if p == "" || p == "." || p == "/" {
		return SurfaceUnknown
	}
	segs := strings.Split(p, "/")
	dirs := segs[:len(segs)-1]
	base := strings.ToLower(segs[len(segs)-1])
	ext := path.Ext(base)

	switch {
	case isDocs(base, ext, dirs):
		return SurfaceDocs
	case isTests(base, dirs):
		return SurfaceTests
	case isInfra(base, ext, dirs):
		return SurfaceInfra
	case hasDir(dirs, cliDirs...):
		return SurfaceCLI
	case cfgExts[ext] || cfgNames[base] || hasDir(dirs, cfgDirs...):
		return SurfaceConfig
	}

	if s, ok := override(p, rules); ok {
		return s
	}

	if hasDir(dirs, "internal") {
		return SurfaceInternal
	}
	if publicExts[ext] || publicNames[base] || hasDir(dirs, publicDirs...) {
		return SurfacePublicAPI
	}
	if len(dirs) == 0 && sourceExts[ext] && base != "main.go" {
		return SurfacePublicAPI
	}
	return SurfaceInternal
}

func override(p string, rules Rules) (Surface, bool) {
	for _, x := range rules.PublicPaths {
		if x == p {
			return SurfacePublicAPI, true
		}
	}
	for _, x := range rules.InternalPaths {
		if x == p {
			return SurfaceInternal, true
		}
	}
	pub := longestPrefix(p, rules.PublicPrefixes)
	internal := longestPrefix(p, rules.InternalPrefixes)
	switch {
	case pub < 0 && internal < 0:
		return "", false
	case pub > internal:
		return SurfacePublicAPI, true
	default:
		return SurfaceInternal, true
	}
}

// longestPrefix returns the length of the longest prefix matching p, or -1.
func longestPrefix(p string, prefixes []string) int {
	best := -1
	for _, pre := range prefixes {
		if pre == "" {
			continue
		}
		if strings.HasPrefix(p, pre) && len(pre) > best {
			best = len(pre)
		}
	}
	return best
}

func isDocs(base, ext string, dirs []string) bool {
	if docExts[ext] && base != "requirements.txt" && base != "cmakelists.txt" {
		return true
	}
	for _, n := range docNames {
		if base == n || strings.HasPrefix(base, n+".") {
			return true
		}
	}
	return hasDir(dirs, docDirs...)
}

func isTests(base string, dirs []string) bool {
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.HasSuffix(base, "_test.py"),
		strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."):
		return true
	}
	return hasDir(dirs, testDirs...)
}

func isInfra(base, ext string, dirs []string) bool {
	if infraExts[ext] || infraName[base] {
		return true
	}
	if strings.HasPrefix(base, "dockerfile") || strings.HasPrefix(base, "docker-compose") || strings.HasSuffix(base, ".dockerfile") {
		return true
	}
	return hasDir(dirs, infraDirs...)
}

func hasDir(dirs []string, names ...string) bool {
	for _, d := range dirs {
		d = strings.ToLower(d)
		for _, n := range names {
			if d == n {
				return true
			}
		}
	}
	return false
}
