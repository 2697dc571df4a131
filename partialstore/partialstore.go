// Package partialstore implements C2 of spec.md: the single in-flight
// partial-assistant-message slot per workspace, written every throttled
// flush and cleared once the message lands in history. Grounded on
// internal/repository/base.Repository's afs-backed file access, extended
// with the write-temp-then-rename sequence spec.md §4.2 requires so a
// reader never observes a half-written partial.
package partialstore

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/viant/afs"
	"github.com/viant/afs/file"

	"github.com/cmux/streamengine/internal/keyedmutex"
	"github.com/cmux/streamengine/message"
)

// Store is the C2 contract of spec.md §4.2.
type Store interface {
	// Write atomically replaces the workspace's partial message.
	Write(ctx context.Context, workspaceID string, msg *message.Message) error

	// Read returns the workspace's current partial, or (nil, nil) when
	// none exists.
	Read(ctx context.Context, workspaceID string) (*message.Message, error)

	// Delete removes the workspace's partial, if any. Deleting a
	// nonexistent partial is not an error.
	Delete(ctx context.Context, workspaceID string) error
}

// FileStore is the afs-backed Store implementation.
type FileStore struct {
	fs    afs.Service
	root  string
	locks *keyedmutex.Map
}

// NewFileStore returns a FileStore rooted at root (one partial.json per
// workspace subdirectory).
func NewFileStore(fs afs.Service, root string) *FileStore {
	return &FileStore{fs: fs, root: root, locks: keyedmutex.New()}
}

func (s *FileStore) path(workspaceID string) string {
	return filepath.Join(s.root, workspaceID, "partial.json")
}

func (s *FileStore) tmpPath(workspaceID string) string {
	return filepath.Join(s.root, workspaceID, "partial."+uuid.NewString()+".tmp")
}

// Write implements Store. It uploads the encoded message to a uniquely
// named temp file in the same directory, then moves it over the stable
// partial.json path; a crash between the two steps leaves either the old
// partial or the temp file, never a truncated partial.json.
func (s *FileStore) Write(ctx context.Context, workspaceID string, msg *message.Message) error {
	var err error
	s.locks.With(workspaceID, func() {
		var data []byte
		data, err = json.Marshal(msg)
		if err != nil {
			return
		}
		tmp := s.tmpPath(workspaceID)
		if err = s.fs.Upload(ctx, tmp, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
			return
		}
		if err = s.fs.Move(ctx, tmp, s.path(workspaceID)); err != nil {
			return
		}
	})
	return err
}

// Read implements Store.
func (s *FileStore) Read(ctx context.Context, workspaceID string) (*message.Message, error) {
	var msg *message.Message
	var err error
	s.locks.With(workspaceID, func() {
		path := s.path(workspaceID)
		var ok bool
		ok, err = s.fs.Exists(ctx, path)
		if err != nil || !ok {
			return
		}
		var raw []byte
		raw, err = s.fs.DownloadWithURL(ctx, path)
		if err != nil {
			return
		}
		var m message.Message
		if err = json.Unmarshal(raw, &m); err != nil {
			return
		}
		msg = &m
	})
	return msg, err
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, workspaceID string) error {
	var err error
	s.locks.With(workspaceID, func() {
		path := s.path(workspaceID)
		var ok bool
		ok, err = s.fs.Exists(ctx, path)
		if err != nil || !ok {
			err = nil
			return
		}
		err = s.fs.Delete(ctx, path)
	})
	return err
}
