// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vvatta/mcp-automatic-review/lib/schema"
)

// File operation names used in [schema.FileDetail].
const (
	FileOpen   = "open"
	FileAccess = "access"
	FileModify = "modify"
	FileCreate = "create"
	FileDelete = "delete"
)

// DefaultAllowlist holds home-relative paths whose accesses are routine
// for package managers and runtimes.
var DefaultAllowlist = []string{".cache", ".npm"}

const watchMask = unix.IN_OPEN | unix.IN_ACCESS | unix.IN_MODIFY |
	unix.IN_CREATE | unix.IN_DELETE | unix.IN_MOVED_FROM | unix.IN_MOVED_TO

// FilesystemCollector watches the fake home directory with inotify and
// reports accesses outside the allow-list. Accesses to decoy artifacts
// are always reported, tagged, and marked on the decoy registry.
//
// Directories created after Start are watched as soon as their creation
// event is read; files written into them before that are missed.
type FilesystemCollector struct {
	// Allow lists paths relative to the home directory whose subtrees
	// are not reported. Nil means DefaultAllowlist.
	Allow []string

	MaxFailures int
	Logger      *slog.Logger

	runner
	target  Target
	fd      int
	watches map[int]string
	allowed []string
}

// NewFilesystemCollector returns a collector with the default allow-list.
func NewFilesystemCollector(logger *slog.Logger) *FilesystemCollector {
	return &FilesystemCollector{Logger: logger}
}

// Name implements [Collector].
func (c *FilesystemCollector) Name() string { return string(schema.EventFilesystem) }

// Start implements [Collector]. Every directory under the fake home is
// watched before Start returns.
func (c *FilesystemCollector) Start(ctx context.Context, target Target) error {
	c.runner.init(c.Name(), schema.EventFilesystem, target, c.Logger, c.MaxFailures)
	if target.HostHome == "" {
		err := errors.New("no home directory to watch")
		c.degrade(err)
		return &CollectorError{Collector: c.Name(), Err: err}
	}
	c.target = target
	c.target.Clock = targetClock(target)
	c.target.HostHome = filepath.Clean(target.HostHome)
	if c.target.SandboxHome == "" {
		c.target.SandboxHome = c.target.HostHome
	}

	allow := c.Allow
	if allow == nil {
		allow = DefaultAllowlist
	}
	c.allowed = make([]string, 0, len(allow))
	for _, relative := range allow {
		c.allowed = append(c.allowed, filepath.Join(c.target.HostHome, relative))
	}

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		err = fmt.Errorf("inotify init: %w", err)
		c.degrade(err)
		return &CollectorError{Collector: c.Name(), Err: err}
	}
	c.fd = fd
	c.watches = make(map[int]string)
	if err := c.watchTree(c.target.HostHome); err != nil {
		unix.Close(fd)
		err = fmt.Errorf("watching %s: %w", c.target.HostHome, err)
		c.degrade(err)
		return &CollectorError{Collector: c.Name(), Err: err}
	}
	c.logger.Debug("watching fake home", "path", c.target.HostHome, "directories", len(c.watches))

	c.run(ctx, c.watchLoop)
	return nil
}

// Stop implements [Collector].
func (c *FilesystemCollector) Stop() []schema.Event { return c.stop() }

// watchTree adds a watch on root and every directory below it.
func (c *FilesystemCollector) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// Removed while walking.
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		wd, err := unix.InotifyAddWatch(c.fd, path, watchMask)
		if err != nil {
			if path == root {
				return err
			}
			c.logger.Debug("cannot watch directory", "path", path, "error", err)
			return nil
		}
		c.watches[wd] = path
		return nil
	})
}

// watchLoop polls the inotify fd until ctx is cancelled. Uses poll(2)
// with a 100ms timeout so cancellation is noticed promptly.
func (c *FilesystemCollector) watchLoop(ctx context.Context) {
	defer unix.Close(c.fd)

	buffer := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			// Drain whatever the kernel queued before stopping.
			c.readAvailable(buffer)
			return
		default:
		}

		pollDescriptors := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
		count, err := unix.Poll(pollDescriptors, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			c.degrade(fmt.Errorf("inotify poll: %w", err))
			return
		}
		if count == 0 {
			continue
		}
		if err := c.readAvailable(buffer); err != nil {
			c.degrade(err)
			return
		}
	}
}

// readAvailable reads and records every queued inotify event.
func (c *FilesystemCollector) readAvailable(buffer []byte) error {
	for {
		bytesRead, err := unix.Read(c.fd, buffer)
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("inotify read: %w", err)
		}
		if bytesRead <= 0 {
			return nil
		}
		c.handleEvents(buffer[:bytesRead])
	}
}

// inotifyRecord is one parsed inotify_event.
type inotifyRecord struct {
	wd   int
	mask uint32
	name string
}

// parseInotifyEvents decodes a buffer of inotify events. Layout from
// inotify(7):
//
//	struct inotify_event {
//	    int32_t  wd;     // offset 0
//	    uint32_t mask;   // offset 4
//	    uint32_t cookie; // offset 8
//	    uint32_t len;    // offset 12
//	    char     name[]; // offset 16, null-padded to alignment
//	};
func parseInotifyEvents(buffer []byte) []inotifyRecord {
	var records []inotifyRecord
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		wd := int(int32(binary.NativeEndian.Uint32(buffer[offset : offset+4])))
		mask := binary.NativeEndian.Uint32(buffer[offset+4 : offset+8])
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		eventSize := unix.SizeofInotifyEvent + nameLength
		if offset+eventSize > len(buffer) {
			break
		}
		record := inotifyRecord{wd: wd, mask: mask}
		if nameLength > 0 {
			record.name = nullTerminatedString(buffer[offset+unix.SizeofInotifyEvent : offset+eventSize])
		}
		records = append(records, record)
		offset += eventSize
	}
	return records
}

func nullTerminatedString(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}

// operation maps an inotify mask to a reported operation name.
func operation(mask uint32) (string, bool) {
	switch {
	case mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
		return FileCreate, true
	case mask&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0:
		return FileDelete, true
	case mask&unix.IN_MODIFY != 0:
		return FileModify, true
	case mask&unix.IN_OPEN != 0:
		return FileOpen, true
	case mask&unix.IN_ACCESS != 0:
		return FileAccess, true
	}
	return "", false
}

func (c *FilesystemCollector) handleEvents(buffer []byte) {
	now := c.target.Clock.Now()

	// Identical (path, op) pairs within one read are reported once.
	reported := make(map[string]bool)
	for _, record := range parseInotifyEvents(buffer) {
		if record.mask&unix.IN_Q_OVERFLOW != 0 {
			c.degrade(errors.New("inotify queue overflow"))
			continue
		}
		if record.mask&unix.IN_IGNORED != 0 {
			delete(c.watches, record.wd)
			continue
		}
		directory, ok := c.watches[record.wd]
		if !ok {
			continue
		}
		hostPath := directory
		if record.name != "" {
			hostPath = filepath.Join(directory, record.name)
		}

		isDirectory := record.mask&unix.IN_ISDIR != 0
		if isDirectory && record.mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0 {
			if err := c.watchTree(hostPath); err != nil {
				c.logger.Debug("cannot watch new directory", "path", hostPath, "error", err)
			}
		}

		op, ok := operation(record.mask)
		if !ok {
			continue
		}
		// Listing a directory is routine; creating or removing one is not.
		if isDirectory && (op == FileOpen || op == FileAccess) {
			continue
		}

		key := op + "\x00" + hostPath
		if reported[key] {
			continue
		}
		reported[key] = true
		c.record(hostPath, op, now)
	}
}

func (c *FilesystemCollector) record(hostPath, op string, now time.Time) {
	detail := &schema.FileDetail{
		Path:     c.sandboxPath(hostPath),
		HostPath: hostPath,
		Op:       op,
	}
	severity := schema.SeverityInfo
	if artifact, ok := c.target.Decoys.ByHostPath(hostPath); ok {
		detail.Decoy = true
		detail.Path = artifact.SandboxPath
		severity = schema.SeverityCritical
		if artifact.MarkTouched() {
			c.logger.Warn("decoy touched", "path", artifact.SandboxPath, "op", op)
		}
	} else if c.isAllowed(hostPath) {
		return
	}

	c.journal.Append(schema.Event{
		Timestamp: now,
		Severity:  severity,
		File:      detail,
	})
}

func (c *FilesystemCollector) isAllowed(hostPath string) bool {
	for _, prefix := range c.allowed {
		if hostPath == prefix || strings.HasPrefix(hostPath, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// sandboxPath translates a host path under the fake home into the path
// the server sees.
func (c *FilesystemCollector) sandboxPath(hostPath string) string {
	relative, err := filepath.Rel(c.target.HostHome, hostPath)
	if err != nil || relative == ".." || strings.HasPrefix(relative, "../") {
		return hostPath
	}
	if relative == "." {
		return c.target.SandboxHome
	}
	return filepath.Join(c.target.SandboxHome, relative)
}
