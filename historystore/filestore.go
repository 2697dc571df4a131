package historystore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/viant/afs"
	"github.com/viant/afs/file"

	"github.com/cmux/streamengine/internal/keyedmutex"
	"github.com/cmux/streamengine/message"
)

// FileStore persists each workspace's history as a JSON-lines file
// (chat.jsonl) under root/<workspaceID>/, grounded on
// internal/repository/base.Repository's afs Upload/DownloadWithURL/Exists
// idiom. Unlike base.Repository (one YAML document per resource), history
// is a growing list of records, so every mutation re-reads the full file,
// edits it in memory, and re-uploads it whole; the per-workspace
// keyedmutex.Map ensures read-modify-write sees no lost updates.
//
// Per spec.md §4.1, a crashed write only needs to leave either a complete
// record or none; overwriting chat.jsonl through a single afs.Upload call
// matches the durability level the teacher's own Repository.Save/Add
// offers elsewhere in this tree, so FileStore does not additionally do
// the write-temp-then-rename dance that partialstore.FileStore performs
// (that one is explicitly required by spec.md §4.2).
type FileStore struct {
	fs    afs.Service
	root  string
	locks *keyedmutex.Map
}

// NewFileStore returns a FileStore rooted at root (one subdirectory per
// workspace).
func NewFileStore(fs afs.Service, root string) *FileStore {
	return &FileStore{fs: fs, root: root, locks: keyedmutex.New()}
}

func (s *FileStore) chatPath(workspaceID string) string {
	return filepath.Join(s.root, workspaceID, "chat.jsonl")
}

func (s *FileStore) readAllLocked(ctx context.Context, workspaceID string) ([]message.Message, error) {
	path := s.chatPath(workspaceID)
	ok, err := s.fs.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	raw, err := s.fs.DownloadWithURL(ctx, path)
	if err != nil {
		return nil, err
	}
	var msgs []message.Message
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var m message.Message
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("historystore: corrupt record in %s: %w", path, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *FileStore) writeAllLocked(ctx context.Context, workspaceID string, msgs []message.Message) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range msgs {
		if err := enc.Encode(&msgs[i]); err != nil {
			return err
		}
	}
	return s.fs.Upload(ctx, s.chatPath(workspaceID), file.DefaultFileOsMode, bytes.NewReader(buf.Bytes()))
}

// Append implements Store.
func (s *FileStore) Append(ctx context.Context, workspaceID string, msg *message.Message) (uint64, error) {
	var seq uint64
	var err error
	s.locks.With(workspaceID, func() {
		var existing []message.Message
		existing, err = s.readAllLocked(ctx, workspaceID)
		if err != nil {
			return
		}
		var maxSeq uint64
		for _, m := range existing {
			if m.Metadata.HistorySequence > maxSeq {
				maxSeq = m.Metadata.HistorySequence
			}
		}
		seq = maxSeq + 1
		msg.Metadata.HistorySequence = seq
		existing = append(existing, *msg)
		err = s.writeAllLocked(ctx, workspaceID, existing)
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Update implements Store.
func (s *FileStore) Update(ctx context.Context, workspaceID string, msg *message.Message) error {
	var err error
	s.locks.With(workspaceID, func() {
		var existing []message.Message
		existing, err = s.readAllLocked(ctx, workspaceID)
		if err != nil {
			return
		}
		for i := range existing {
			if existing[i].ID == msg.ID {
				seq := existing[i].Metadata.HistorySequence
				existing[i] = *msg
				existing[i].Metadata.HistorySequence = seq
				err = s.writeAllLocked(ctx, workspaceID, existing)
				return
			}
		}
		err = &ErrNotFound{WorkspaceID: workspaceID, MessageID: msg.ID}
	})
	return err
}

// ReadAll implements Store.
func (s *FileStore) ReadAll(ctx context.Context, workspaceID string) ([]message.Message, error) {
	var msgs []message.Message
	var err error
	s.locks.With(workspaceID, func() {
		msgs, err = s.readAllLocked(ctx, workspaceID)
	})
	return msgs, err
}
