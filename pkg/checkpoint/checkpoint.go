// Package checkpoint implements the content-addressable snapshot
// store: every accepted version's file changes are materialized to
// disk alongside metadata, hashed for integrity verification, and
// restorable into a target working directory under the safety
// predicate enforced by pkg/rollback.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Compression is the set of supported checkpoint content encodings.
type Compression string

// Recognized compression modes.
const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
)

// Errors surfaced by the checkpoint store.
var (
	ErrIntegrityMismatch = errors.New("checkpoint: integrity hash mismatch")
	ErrNotFound          = errors.New("checkpoint: not found")
	ErrPathTraversal     = errors.New("checkpoint: relative path escapes checkpoint root")
	ErrWrite             = errors.New("checkpoint: write failure")
	ErrRead              = errors.New("checkpoint: read failure")
)

// protectedEntries are never cleared from a restore target even
// though they are not part of the checkpoint's own content tree. The
// set only governs pre-restore clearing: a checkpoint content file
// that happens to collide with one of these names is still written
// during restore.
var protectedEntries = map[string]bool{
	".git":          true,
	".evoseal":      true,
	"__pycache__":   true,
	".pytest_cache": true,
	"node_modules":  true,
}

// FileChange describes one file to materialize into a checkpoint,
// either by inline content or by referencing an existing path to copy
// from.
type FileChange struct {
	// RelPath is the file's path relative to the checkpoint/working
	// directory root.
	RelPath string

	// Content is used when non-nil; takes precedence over SourcePath.
	Content []byte

	// SourcePath, when Content is nil, is an absolute or
	// cwd-relative path whose bytes are copied in.
	SourcePath string
}

// VersionData is the caller-supplied change-set for one version.
type VersionData struct {
	Changes []FileChange

	// ConfigSnapshot is stored verbatim in the checkpoint's metadata.
	ConfigSnapshot map[string]any

	// SystemState, if CaptureSystemState is requested, is stored as an
	// opaque system-state snapshot.
	SystemState *SystemState

	// MetricsCount records how many metrics rows are associated with
	// this version, carried into metadata verbatim.
	MetricsCount int
}

// SystemState is the optional captured system-state snapshot.
type SystemState struct {
	SystemInfo     map[string]any `json:"systemInfo"`
	ModelState     map[string]any `json:"modelState"`
	EvolutionState map[string]any `json:"evolutionState"`
}

// Metadata is the persisted per-checkpoint record, written as
// checkpoint_<versionId>/metadata.json.
type Metadata struct {
	VersionID           string         `json:"versionId"`
	ParentID            string         `json:"parentId,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
	Timestamp           time.Time      `json:"timestamp"`
	FileCount           int            `json:"fileCount"`
	TotalBytes          int64          `json:"totalBytes"`
	IntegrityHash       string         `json:"integrityHash"`
	Compression         Compression    `json:"compression"`
	SystemStateCaptured bool           `json:"systemStateCaptured"`
	ConfigSnapshot      map[string]any `json:"configSnapshot,omitempty"`
	MetricsCount        int            `json:"metricsCount"`
}

// Store manages the on-disk tree of checkpoint_<versionId> directories
// under Root.
type Store struct {
	Root           string
	MaxCheckpoints int
	Compression    Compression
}

// Option configures a Store at construction.
type Option func(*Store)

// WithMaxCheckpoints overrides the default retention count (100).
func WithMaxCheckpoints(n int) Option {
	return func(s *Store) { s.MaxCheckpoints = n }
}

// WithCompression sets the content encoding used for new checkpoints.
func WithCompression(c Compression) Option {
	return func(s *Store) { s.Compression = c }
}

// New constructs a Store rooted at dir, creating it if necessary.
func New(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create checkpoint root: %v", ErrWrite, err)
	}
	s := &Store{Root: dir, MaxCheckpoints: 100, Compression: CompressionNone}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) checkpointDir(versionID string) string {
	return filepath.Join(s.Root, "checkpoint_"+versionID)
}

// fileHash computes "sha256:" + hex(sha256(content)), the per-file
// hash fed into the aggregate integrity hash.
func fileHash(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// computeIntegrityHash computes
// SHA256(concat(sorted((relPath, SHA256(fileBytes))))) with a
// canonical separator, so two checkpoints with identical content
// always hash identically regardless of change-set ordering.
func computeIntegrityHash(files map[string][]byte) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{0}) // canonical separator between path and hash
		h.Write([]byte(fileHash(files[p])))
		h.Write([]byte{0}) // canonical separator between entries
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// CreateCheckpoint materializes versionData.Changes under
// checkpoint_<versionID>/, computes the aggregate integrity hash,
// writes metadata.json, and enforces retention. parentID may be empty
// for a root version.
func (s *Store) CreateCheckpoint(versionID, parentID string, versionData VersionData, captureSystemState bool) (string, error) {
	dir := s.checkpointDir(versionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}

	files := make(map[string][]byte, len(versionData.Changes))
	var totalBytes int64
	for _, change := range versionData.Changes {
		content, err := s.resolveContent(change)
		if err != nil {
			return "", err
		}
		if err := validateRelPath(change.RelPath); err != nil {
			return "", err
		}
		dest := filepath.Join(dir, filepath.FromSlash(change.RelPath))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", fmt.Errorf("%w: %v", ErrWrite, err)
		}
		if err := os.WriteFile(dest, content, 0o644); err != nil {
			return "", fmt.Errorf("%w: %v", ErrWrite, err)
		}
		files[change.RelPath] = content
		totalBytes += int64(len(content))
	}

	if s.Compression == CompressionGzip {
		if err := bundleGzip(dir, files); err != nil {
			return "", err
		}
	}

	meta := Metadata{
		VersionID:           versionID,
		ParentID:            parentID,
		CreatedAt:           time.Now(),
		Timestamp:           time.Now(),
		FileCount:           len(files),
		TotalBytes:          totalBytes,
		IntegrityHash:       computeIntegrityHash(files),
		Compression:         s.Compression,
		SystemStateCaptured: captureSystemState && versionData.SystemState != nil,
		ConfigSnapshot:      versionData.ConfigSnapshot,
		MetricsCount:        versionData.MetricsCount,
	}
	if err := s.writeMetadata(dir, meta); err != nil {
		return "", err
	}
	if meta.SystemStateCaptured {
		if err := s.writeSystemState(dir, versionData.SystemState); err != nil {
			return "", err
		}
	}

	if err := s.enforceRetention(); err != nil {
		return "", err
	}

	return dir, nil
}

func (s *Store) resolveContent(change FileChange) ([]byte, error) {
	if change.Content != nil {
		return change.Content, nil
	}
	if change.SourcePath != "" {
		content, err := os.ReadFile(change.SourcePath)
		if err != nil {
			return nil, fmt.Errorf("%w: read source %s: %v", ErrRead, change.SourcePath, err)
		}
		return content, nil
	}
	return []byte{}, nil
}

// validateRelPath refuses traversal outside the checkpoint root.
func validateRelPath(relPath string) error {
	cleaned := filepath.Clean(filepath.FromSlash(relPath))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || filepath.IsAbs(cleaned) {
		return fmt.Errorf("%w: %q", ErrPathTraversal, relPath)
	}
	return nil
}

func (s *Store) writeMetadata(dir string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal metadata: %v", ErrWrite, err)
	}
	return atomicWrite(filepath.Join(dir, "metadata.json"), data)
}

func (s *Store) writeSystemState(dir string, state *SystemState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal system state: %v", ErrWrite, err)
	}
	return atomicWrite(filepath.Join(dir, "system_state.json"), data)
}

// atomicWrite writes data to path via write-temp-then-rename, so a
// crash mid-write never leaves a partial state file observable.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// GetMetadata reads and parses checkpoint_<versionID>/metadata.json.
func (s *Store) GetMetadata(versionID string) (Metadata, error) {
	dir := s.checkpointDir(versionID)
	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, versionID)
		}
		return Metadata{}, fmt.Errorf("%w: %v", ErrRead, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("%w: parse metadata: %v", ErrRead, err)
	}
	return meta, nil
}

// GetPath returns the checkpoint directory for versionID, without
// verifying it exists.
func (s *Store) GetPath(versionID string) string {
	return s.checkpointDir(versionID)
}

// ListCheckpoints returns the metadata of every checkpoint in the
// store, most recently created last.
func (s *Store) ListCheckpoints() ([]Metadata, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}

	var metas []Metadata
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "checkpoint_") {
			continue
		}
		versionID := strings.TrimPrefix(entry.Name(), "checkpoint_")
		meta, err := s.GetMetadata(versionID)
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		if metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].VersionID < metas[j].VersionID
		}
		return metas[i].CreatedAt.Before(metas[j].CreatedAt)
	})
	return metas, nil
}

// Delete removes a checkpoint directory entirely.
func (s *Store) Delete(versionID string) error {
	if err := os.RemoveAll(s.checkpointDir(versionID)); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// enforceRetention deletes the oldest checkpoints beyond
// MaxCheckpoints, breaking CreatedAt ties by lexicographic VersionID.
func (s *Store) enforceRetention() error {
	if s.MaxCheckpoints <= 0 {
		return nil
	}
	metas, err := s.ListCheckpoints()
	if err != nil {
		return err
	}
	excess := len(metas) - s.MaxCheckpoints
	for i := 0; i < excess; i++ {
		if err := s.Delete(metas[i].VersionID); err != nil {
			return err
		}
	}
	return nil
}

// CleanupOldCheckpoints keeps the keepCount most recent checkpoints
// and deletes the rest, for callers that want to trigger retention
// outside of CreateCheckpoint.
func (s *Store) CleanupOldCheckpoints(keepCount int) error {
	metas, err := s.ListCheckpoints()
	if err != nil {
		return err
	}
	excess := len(metas) - keepCount
	for i := 0; i < excess; i++ {
		if err := s.Delete(metas[i].VersionID); err != nil {
			return err
		}
	}
	return nil
}

// VerifyIntegrity recomputes the integrity hash from the files
// currently stored for versionID and compares it against the stored
// metadata's IntegrityHash.
func (s *Store) VerifyIntegrity(versionID string) (bool, error) {
	meta, err := s.GetMetadata(versionID)
	if err != nil {
		return false, err
	}
	files, err := s.readContentFiles(versionID, meta)
	if err != nil {
		return false, err
	}
	return computeIntegrityHash(files) == meta.IntegrityHash, nil
}

// readContentFiles loads every content file belonging to versionID
// (decompressing the gzip bundle if needed) into memory for hashing
// or restoration.
func (s *Store) readContentFiles(versionID string, meta Metadata) (map[string][]byte, error) {
	dir := s.checkpointDir(versionID)
	if meta.Compression == CompressionGzip {
		return unbundleGzip(dir)
	}

	files := make(map[string][]byte)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "metadata.json" || rel == "system_state.json" {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[rel] = content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	return files, nil
}
