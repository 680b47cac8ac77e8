// Package storage accesses the storage host, where durable corpus source
// files and export artifacts live. It is a plain I/O wrapper over ssh
// listings and rsync transfers.
package storage

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strconv"
	"strings"

	"github.com/spraakbanken/mink-backend-sub000/internal/remote"
)

// Entry describes one object in a storage-host directory listing.
type Entry struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	LastModified string `json:"last_modified"`
	Size         int64  `json:"size"`
	Path         string `json:"path"`
}

// Store is the storage-host contract the job lifecycle depends on.
type Store interface {
	ListContents(ctx context.Context, dir string, excludeDirs bool) ([]Entry, error)
	DownloadDir(ctx context.Context, remoteDir, localDir string) error
	UploadDir(ctx context.Context, remoteDir, localDir string) error
	RemoveDir(ctx context.Context, dir string) error
	Size(ctx context.Context, dir string) (int64, error)
	CorpusDir(resourceID string) string
	SourceDir(resourceID string) string
	ExportDir(resourceID string) string
}

// Client implements Store against a fixed storage host.
type Client struct {
	runner remote.Runner
	copier remote.Copier
	login  string // user@host prefix for rsync endpoints
	root   string // base dir for corpora on the storage host
}

// NewClient creates a storage client for the given login and base directory.
func NewClient(runner remote.Runner, copier remote.Copier, user, host, root string) *Client {
	return &Client{
		runner: runner,
		copier: copier,
		login:  fmt.Sprintf("%s@%s", user, host),
		root:   root,
	}
}

// CorpusDir returns the storage-host directory for a resource.
func (c *Client) CorpusDir(resourceID string) string {
	return path.Join(c.root, resourceID)
}

// SourceDir returns the storage-host source directory for a resource.
func (c *Client) SourceDir(resourceID string) string {
	return path.Join(c.root, resourceID, "source")
}

// ExportDir returns the storage-host export directory for a resource.
func (c *Client) ExportDir(resourceID string) string {
	return path.Join(c.root, resourceID, "export")
}

// ListContents lists the files in a storage-host directory recursively.
func (c *Client) ListContents(ctx context.Context, dir string, excludeDirs bool) ([]Entry, error) {
	quoted := remote.Quote(dir)
	res, err := c.runner.Run(ctx,
		fmt.Sprintf("test -d %s && cd %s && find * -exec ls -lgGd --time-style=full-iso {} \\;", quoted, quoted))
	if err != nil {
		return nil, err
	}
	if len(res.Stderr) > 0 {
		return nil, fmt.Errorf("failed to list contents of %q: %s", dir, res.Stderr)
	}

	var entries []Entry
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 7 {
			continue
		}
		perms, size := fields[0], fields[2]
		modTime := fields[3] + "T" + trimFractional(fields[4]) + fields[5]
		objPath := strings.Join(fields[6:], " ")

		isDir := strings.HasPrefix(perms, "d")
		if isDir && excludeDirs {
			continue
		}
		mimeType := "unknown"
		if isDir {
			mimeType = "directory"
		} else if mt := mime.TypeByExtension(path.Ext(objPath)); mt != "" {
			mimeType = mt
		}
		sizeVal, _ := strconv.ParseInt(size, 10, 64)
		entries = append(entries, Entry{
			Name:         path.Base(objPath),
			Type:         mimeType,
			LastModified: modTime,
			Size:         sizeVal,
			Path:         objPath,
		})
	}
	return entries, nil
}

// trimFractional drops sub-second precision from an ls full-iso time field.
func trimFractional(t string) string {
	if i := strings.IndexByte(t, '.'); i >= 0 {
		return t[:i]
	}
	return t
}

// DownloadDir copies a storage-host directory into a local directory.
func (c *Client) DownloadDir(ctx context.Context, remoteDir, localDir string) error {
	res, err := c.copier.Copy(ctx, c.login+":"+remoteDir, localDir, "-av")
	if err != nil {
		return err
	}
	if len(res.Stderr) > 0 {
		return fmt.Errorf("failed to download %q: %s", remoteDir, res.Stderr)
	}
	return nil
}

// UploadDir copies a local directory up to a storage-host directory.
func (c *Client) UploadDir(ctx context.Context, remoteDir, localDir string) error {
	if _, err := c.runner.Run(ctx, "mkdir -p "+remote.Quote(remoteDir)); err != nil {
		return err
	}
	res, err := c.copier.Copy(ctx, localDir, c.login+":"+remoteDir, "-av")
	if err != nil {
		return err
	}
	if len(res.Stderr) > 0 {
		return fmt.Errorf("failed to upload to %q: %s", remoteDir, res.Stderr)
	}
	return nil
}

// RemoveDir deletes a storage-host directory.
func (c *Client) RemoveDir(ctx context.Context, dir string) error {
	res, err := c.runner.Run(ctx, "rm -rf "+remote.Quote(dir))
	if err != nil {
		return err
	}
	if len(res.Stderr) > 0 {
		return fmt.Errorf("failed to remove %q: %s", dir, res.Stderr)
	}
	return nil
}

// Size returns the total size in bytes of a storage-host directory.
func (c *Client) Size(ctx context.Context, dir string) (int64, error) {
	res, err := c.runner.Run(ctx, "du -sb "+remote.Quote(dir)+" | cut -f1")
	if err != nil {
		return 0, err
	}
	if len(res.Stderr) > 0 {
		return 0, fmt.Errorf("failed to get size of %q: %s", dir, res.Stderr)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(string(res.Stdout)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse size of %q: %w", dir, err)
	}
	return size, nil
}
