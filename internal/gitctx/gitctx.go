package gitctx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/chronicle/internal/errs"
	"github.com/dshills/chronicle/internal/segment"
)

// Repo runs git in one working directory.
type Repo struct {
	Dir string
}

// Open returns the repository containing dir ("" means the current
// directory). Dir is set to the top level of the work tree.
func Open(ctx context.Context, dir string) (*Repo, error) {
	r := &Repo{Dir: dir}
	root, err := r.output(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %w", err)
	}
	r.Dir = strings.TrimSpace(root)
	return r, nil
}

// RepoMeta contains git repository metadata.
type RepoMeta struct {
	Root   string `json:"root"`
	Head   string `json:"head"`
	Branch string `json:"branch"`
}

// Meta collects repository metadata.
func (r *Repo) Meta(ctx context.Context) RepoMeta {
	head, err := r.output(ctx, "rev-parse", "HEAD")
	if err != nil {
		head = "" // new repo with no commits
	}
	branch, err := r.output(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		branch = ""
	}
	return RepoMeta{
		Root:   r.Dir,
		Head:   strings.TrimSpace(head),
		Branch: strings.TrimSpace(branch),
	}
}

// Range is a resolved revision range. Base and Head are full commit ids.
type Range struct {
	Spec string `json:"spec"`
	Base string `json:"base"`
	Head string `json:"head"`
}

// ResolveRange resolves "base..head", "base...head" (diff against the merge
// base) or a single revision meaning "rev..HEAD". An empty side is HEAD.
func (r *Repo) ResolveRange(ctx context.Context, spec string) (Range, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Range{}, errs.InvalidRequest("revision range is required")
	}
	base, head, mergeBase := spec, "HEAD", false
	if i := strings.Index(spec, "..."); i >= 0 {
		base, head, mergeBase = spec[:i], spec[i+3:], true
	} else if i := strings.Index(spec, ".."); i >= 0 {
		base, head = spec[:i], spec[i+2:]
	}
	if base == "" {
		base = "HEAD"
	}
	if head == "" {
		head = "HEAD"
	}

	headID, err := r.commit(ctx, head)
	if err != nil {
		return Range{}, err
	}
	baseID, err := r.commit(ctx, base)
	if err != nil {
		return Range{}, err
	}
	if mergeBase {
		out, err := r.output(ctx, "merge-base", baseID, headID)
		if err != nil {
			return Range{}, fmt.Errorf("git merge-base %s %s: %w", base, head, err)
		}
		baseID = strings.TrimSpace(out)
	}
	return Range{Spec: spec, Base: baseID, Head: headID}, nil
}

func (r *Repo) commit(ctx context.Context, rev string) (string, error) {
	if strings.HasPrefix(rev, "-") || strings.ContainsAny(rev, " \t\n\x00") {
		return "", errs.InvalidRequest("invalid revision %q", rev)
	}
	out, err := r.output(ctx, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		return "", errs.NotFound("revision " + rev)
	}
	return strings.TrimSpace(out), nil
}

// DiffOptions controls how diffs are gathered.
type DiffOptions struct {
	ContextLines int
}

func diffArgs(opts DiffOptions, base, head string) []string {
	args := []string{"diff", "-M", "-C", "--no-color", "--no-ext-diff"}
	if opts.ContextLines > 0 {
		args = append(args, fmt.Sprintf("-U%d", opts.ContextLines))
	}
	return append(args, base, head, "--")
}

// StreamDiff runs git diff for base..head and hands its output to fn as it
// is produced. If fn returns an error the process is stopped and that error
// is returned; otherwise a non-zero exit is a malformed-input error carrying
// git's stderr.
func (r *Repo) StreamDiff(ctx context.Context, base, head string, opts DiffOptions, fn func(io.Reader) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := r.command(ctx, diffArgs(opts, base, head)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting git diff: %w", err)
	}

	if ferr := fn(stdout); ferr != nil {
		cancel()
		_ = cmd.Wait()
		return ferr
	}
	// Drain anything fn left unread so git can exit.
	_, _ = io.Copy(io.Discard, stdout)
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errs.Malformed("git diff "+base+".."+head, strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

// NameStatus returns the per-file change summary for base..head, reported
// independently of the diff text.
func (r *Repo) NameStatus(ctx context.Context, base, head string) ([]segment.FileChange, error) {
	ns, err := r.output(ctx, "diff", "--name-status", "-M", "-C", "-z", base, head, "--")
	if err != nil {
		return nil, fmt.Errorf("git diff --name-status: %w", err)
	}
	changes, err := ParseNameStatus([]byte(ns))
	if err != nil {
		return nil, err
	}
	num, err := r.output(ctx, "diff", "--numstat", "-M", "-C", "-z", base, head, "--")
	if err != nil {
		return nil, fmt.Errorf("git diff --numstat: %w", err)
	}
	binary, err := ParseNumstatBinary([]byte(num))
	if err != nil {
		return nil, err
	}
	for i := range changes {
		changes[i].Binary = binary[changes[i].Path]
	}
	return changes, nil
}

// ParseNameStatus parses the output of git diff --name-status -z.
func ParseNameStatus(data []byte) ([]segment.FileChange, error) {
	fields := strings.Split(string(data), "\x00")
	if n := len(fields); n > 0 && fields[n-1] == "" {
		fields = fields[:n-1]
	}
	var out []segment.FileChange
	for i := 0; i < len(fields); {
		status := fields[i]
		i++
		if status == "" {
			return nil, errs.Malformed("name-status", "empty status", nil)
		}
		var fc segment.FileChange
		switch status[0] {
		case 'R', 'C':
			if i+1 >= len(fields) {
				return nil, errs.Malformed("name-status", "truncated "+status+" record", nil)
			}
			fc = segment.FileChange{OldPath: fields[i], Path: fields[i+1], Kind: segment.KindRename}
			if status[0] == 'C' {
				fc.Kind = segment.KindCopy
			}
			i += 2
		case 'A', 'D', 'M', 'T':
			if i >= len(fields) {
				return nil, errs.Malformed("name-status", "truncated "+status+" record", nil)
			}
			fc = segment.FileChange{Path: fields[i], Kind: segment.KindModify}
			switch status[0] {
			case 'A':
				fc.Kind = segment.KindAdd
			case 'D':
				fc.Kind = segment.KindDelete
			}
			i++
		default:
			return nil, errs.Malformed("name-status", "unknown status "+strconv.Quote(status), nil)
		}
		out = append(out, fc)
	}
	return out, nil
}

// ParseNumstatBinary parses git diff --numstat -z and returns the set of
// new-side paths git reports as binary ("-\t-\t").
func ParseNumstatBinary(data []byte) (map[string]bool, error) {
	out := make(map[string]bool)
	fields := strings.Split(string(data), "\x00")
	for i := 0; i < len(fields); i++ {
		rec := fields[i]
		if rec == "" {
			continue
		}
		parts := strings.SplitN(rec, "\t", 3)
		if len(parts) != 3 {
			return nil, errs.Malformed("numstat", "bad record "+strconv.Quote(rec), nil)
		}
		p := parts[2]
		if p == "" {
			// Rename or copy: old and new paths follow as separate fields.
			if i+2 >= len(fields) {
				return nil, errs.Malformed("numstat", "truncated rename record", nil)
			}
			p = fields[i+2]
			i += 2
		}
		if parts[0] == "-" && parts[1] == "-" {
			out[p] = true
		}
	}
	return out, nil
}

// Filter selects which paths are indexed.
type Filter struct {
	Include []string
	Exclude []string
}

// Skip reports whether p is filtered out. An empty include list or the
// pattern "**/*" includes everything.
func (f Filter) Skip(p string) bool {
	if len(f.Include) > 0 && !MatchesAny(p, f.Include) {
		return true
	}
	return MatchesAny(p, f.Exclude)
}

// MatchesAny returns true if the path matches any of the given glob
// patterns. A pattern starting with "**/" also matches the base name.
func MatchesAny(p string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, p); err == nil && ok {
			return true
		}
		if clean := strings.TrimPrefix(pattern, "**/"); clean != pattern {
			base := p[strings.LastIndex(p, "/")+1:]
			if ok, err := doublestar.Match(clean, base); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// CommitInfo holds a commit SHA and its subject line.
type CommitInfo struct {
	SHA     string `json:"sha"`
	Subject string `json:"subject"`
}

// ListCommits returns the commits reachable from head but not base, oldest
// first.
func (r *Repo) ListCommits(ctx context.Context, base, head string) ([]CommitInfo, error) {
	// Output format: "commit <sha>\n<subject>\n" per commit.
	out, err := r.output(ctx, "rev-list", "--reverse", "--format=%s", base+".."+head)
	if err != nil {
		return nil, fmt.Errorf("git rev-list %s..%s: %w", base, head, err)
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}

	lines := strings.Split(out, "\n")
	var commits []CommitInfo
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "commit ") {
			continue
		}
		sha := strings.TrimPrefix(line, "commit ")
		var subject string
		if i+1 < len(lines) {
			subject = strings.TrimSpace(lines[i+1])
			i++ // skip the subject line
		}
		commits = append(commits, CommitInfo{SHA: sha, Subject: subject})
	}
	return commits, nil
}

func (r *Repo) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	return cmd
}

func (r *Repo) output(ctx context.Context, args ...string) (string, error) {
	out, err := r.command(ctx, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), fmt.Errorf("%s: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return string(out), nil
}
