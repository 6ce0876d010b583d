// Package scanner performs the agent's resumable, cycle-safe depth-first
// walk of a configured root. It yields (path, Stat) pairs in
// lexicographic order and nothing else — classification, hashing, and
// probing are the caller's concern.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/medialib/agent/internal/logger"
	"github.com/medialib/agent/internal/model"
)

// VisitFunc is called for every regular file encountered during a walk,
// in lexicographic depth-first order. Returning an error aborts the walk
// and is propagated from Walk.
type VisitFunc func(path string, st model.Stat) error

// Scanner walks a root directory tree under a fixed symlink policy.
type Scanner struct {
	FollowSymlinks bool
}

// New returns a Scanner configured per the agent's follow_symlinks setting.
func New(followSymlinks bool) *Scanner {
	return &Scanner{FollowSymlinks: followSymlinks}
}

// Walk visits every regular file under root in lexicographic DFS order.
// Files whose path sorts lexicographically at or before resumeAfter are
// skipped, implementing cursor resume — pass "" to
// visit everything. Unreadable directories are logged and skipped
// without aborting the walk. ctx cancellation stops the walk early and
// returns ctx.Err(). Symlink cycles are broken by tracking the
// inode_key of every symlinked-to directory entered in this call;
// directories reached without a symlink are not recorded.
func (s *Scanner) Walk(ctx context.Context, root, resumeAfter string, visit VisitFunc) error {
	visited := make(map[string]struct{})
	return s.walkDir(ctx, root, resumeAfter, visited, visit)
}

func (s *Scanner) walkDir(ctx context.Context, dir, resumeAfter string, visited map[string]struct{}, visit VisitFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("scanner: unreadable directory", "path", dir, "error", err)
		return nil
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(dir, name)

		lst, err := os.Lstat(path)
		if err != nil {
			logger.Warn("scanner: stat failed", "path", path, "error", err)
			continue
		}

		if lst.Mode()&os.ModeSymlink != 0 {
			if !s.FollowSymlinks {
				continue
			}
			if err := s.visitSymlink(ctx, path, resumeAfter, visited, visit); err != nil {
				return err
			}
			continue
		}

		if lst.IsDir() {
			if err := s.walkDir(ctx, path, resumeAfter, visited, visit); err != nil {
				return err
			}
			continue
		}

		if resumeAfter != "" && path <= resumeAfter {
			continue
		}
		if err := visit(path, statOf(lst)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) visitSymlink(ctx context.Context, path, resumeAfter string, visited map[string]struct{}, visit VisitFunc) error {
	target, err := os.Stat(path)
	if err != nil {
		logger.Warn("scanner: broken symlink", "path", path, "error", err)
		return nil
	}

	if target.IsDir() {
		key := inodeKey(target)
		if key != "" {
			if _, seen := visited[key]; seen {
				return nil
			}
			visited[key] = struct{}{}
		}
		return s.walkDir(ctx, path, resumeAfter, visited, visit)
	}

	if resumeAfter != "" && path <= resumeAfter {
		return nil
	}
	return visit(path, statOf(target))
}

func statOf(info os.FileInfo) model.Stat {
	return model.Stat{
		Size:     info.Size(),
		MTime:    info.ModTime(),
		CTime:    ctimeOf(info),
		InodeKey: inodeKey(info),
		IsDir:    info.IsDir(),
	}
}

func inodeKey(info os.FileInfo) string {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return fmt.Sprintf("%d:%d", st.Dev, st.Ino)
	}
	return ""
}

func ctimeOf(info os.FileInfo) time.Time {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
	}
	return info.ModTime()
}
