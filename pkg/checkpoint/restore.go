package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RestoreOptions configures a restore operation.
type RestoreOptions struct {
	// BackupExisting, when true, copies the target directory's current
	// non-protected contents into a timestamped backup before
	// clearing.
	BackupExisting bool
}

// RestoreResult reports what a restore did.
type RestoreResult struct {
	VersionID  string
	TargetDir  string
	BackupDir  string
	FileCount  int
	VerifiedOK bool

	// SystemState is the captured system-state record, present only
	// when the checkpoint was created with capture enabled.
	SystemState *SystemState
}

// RestoreCheckpoint clears targetDir (preserving protectedEntries) and
// writes back the checkpoint content for versionID, without verifying
// integrity first. Use RestoreCheckpointWithValidation when integrity
// must be checked before any destructive action.
func (s *Store) RestoreCheckpoint(versionID, targetDir string, opts RestoreOptions) (RestoreResult, error) {
	meta, err := s.GetMetadata(versionID)
	if err != nil {
		return RestoreResult{}, err
	}

	files, err := s.readContentFiles(versionID, meta)
	if err != nil {
		return RestoreResult{}, err
	}

	var backupDir string
	if opts.BackupExisting {
		backupDir, err = s.backupTarget(targetDir, versionID)
		if err != nil {
			return RestoreResult{}, err
		}
	}

	if err := clearProtecting(targetDir); err != nil {
		return RestoreResult{}, err
	}

	for relPath, content := range files {
		if err := validateRelPath(relPath); err != nil {
			return RestoreResult{}, err
		}
		dest := filepath.Join(targetDir, filepath.FromSlash(relPath))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return RestoreResult{}, fmt.Errorf("%w: %v", ErrWrite, err)
		}
		if err := os.WriteFile(dest, content, 0o644); err != nil {
			return RestoreResult{}, fmt.Errorf("%w: %v", ErrWrite, err)
		}
	}

	result := RestoreResult{
		VersionID: versionID,
		TargetDir: targetDir,
		BackupDir: backupDir,
		FileCount: len(files),
	}
	if meta.SystemStateCaptured {
		state, err := s.readSystemState(versionID)
		if err != nil {
			return result, err
		}
		result.SystemState = state
	}
	return result, nil
}

// readSystemState loads the system_state.json record stored alongside
// a checkpoint's content.
func (s *Store) readSystemState(versionID string) (*SystemState, error) {
	data, err := os.ReadFile(filepath.Join(s.checkpointDir(versionID), "system_state.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	var state SystemState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: parse system state: %v", ErrRead, err)
	}
	return &state, nil
}

// VerifyRestoredTree recomputes the integrity hash from the copies of
// versionID's content files now present under targetDir and compares
// it against the checkpoint's stored metadata. Files outside the
// checkpoint's own content set (protected entries, restoration
// backups) are ignored; a content file missing from targetDir fails
// verification rather than erroring.
func (s *Store) VerifyRestoredTree(versionID, targetDir string) (bool, error) {
	meta, err := s.GetMetadata(versionID)
	if err != nil {
		return false, err
	}
	stored, err := s.readContentFiles(versionID, meta)
	if err != nil {
		return false, err
	}

	restored := make(map[string][]byte, len(stored))
	for relPath := range stored {
		content, err := os.ReadFile(filepath.Join(targetDir, filepath.FromSlash(relPath)))
		if err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, fmt.Errorf("%w: %v", ErrRead, err)
		}
		restored[relPath] = content
	}
	return computeIntegrityHash(restored) == meta.IntegrityHash, nil
}

// RestoreCheckpointWithValidation verifies the checkpoint's integrity
// hash before performing any destructive operation on targetDir, and
// refuses to proceed on mismatch, so tampering is detected before
// restoration destroys anything.
func (s *Store) RestoreCheckpointWithValidation(versionID, targetDir string, opts RestoreOptions) (RestoreResult, error) {
	ok, err := s.VerifyIntegrity(versionID)
	if err != nil {
		return RestoreResult{}, err
	}
	if !ok {
		return RestoreResult{}, fmt.Errorf("%w: checkpoint %s", ErrIntegrityMismatch, versionID)
	}
	result, err := s.RestoreCheckpoint(versionID, targetDir, opts)
	if err != nil {
		return result, err
	}
	result.VerifiedOK = true
	return result, nil
}

// clearProtecting removes every entry directly under dir except those
// named in protectedEntries. It does not recurse into protected
// entries, and creates dir if it doesn't exist yet.
func clearProtecting(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(dir, 0o755)
		}
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	for _, entry := range entries {
		if protectedEntries[entry.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("%w: %v", ErrWrite, err)
		}
	}
	return nil
}

// backupTarget copies targetDir's current non-protected entries into
// <targetDir>/.evoseal/restoration_backups/<versionId>_<unixNano>/
// before a restore clears them.
func (s *Store) backupTarget(targetDir, versionID string) (string, error) {
	entries, err := os.ReadDir(targetDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrRead, err)
	}

	backupRoot := filepath.Join(targetDir, ".evoseal", "restoration_backups",
		fmt.Sprintf("%s_%d", versionID, time.Now().UnixNano()))
	if err := os.MkdirAll(backupRoot, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}

	for _, entry := range entries {
		if protectedEntries[entry.Name()] {
			continue
		}
		src := filepath.Join(targetDir, entry.Name())
		dst := filepath.Join(backupRoot, entry.Name())
		if err := copyTree(src, dst); err != nil {
			return "", err
		}
	}
	return backupRoot, nil
}

// copyTree recursively copies src to dst, used for restoration
// backups (we copy rather than rename so the caller's subsequent
// clearProtecting sees a consistent tree regardless of ordering).
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRead, err)
	}
	if info.IsDir() {
		if err := os.MkdirAll(dst, info.Mode()); err != nil {
			return fmt.Errorf("%w: %v", ErrWrite, err)
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRead, err)
		}
		for _, entry := range entries {
			if err := copyTree(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
				return err
			}
		}
		return nil
	}
	content, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRead, err)
	}
	return os.WriteFile(dst, content, info.Mode())
}

// ListRestorationBackups returns the backup directories created under
// targetDir/.evoseal/restoration_backups, oldest first.
func ListRestorationBackups(targetDir string) ([]string, error) {
	root := filepath.Join(targetDir, ".evoseal", "restoration_backups")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, filepath.Join(root, entry.Name()))
		}
	}
	// Names are <versionId>_<unixNano>; order by the timestamp suffix so
	// backups of different versions interleave by creation time.
	stamp := func(p string) int64 {
		base := filepath.Base(p)
		n, _ := strconv.ParseInt(base[strings.LastIndex(base, "_")+1:], 10, 64)
		return n
	}
	sort.SliceStable(names, func(i, j int) bool { return stamp(names[i]) < stamp(names[j]) })
	return names, nil
}

// CleanupRestorationBackups deletes every restoration backup under
// targetDir except the keepCount most recent (by the UnixNano suffix
// embedded in each directory name), and additionally
// deletes any backup older than maxAgeDays regardless of keepCount. A
// maxAgeDays of 0 disables the age-based deletion.
func CleanupRestorationBackups(targetDir string, keepCount int, maxAgeDays int) error {
	names, err := ListRestorationBackups(targetDir)
	if err != nil {
		return err
	}

	toDelete := make(map[string]bool)
	if len(names) > keepCount {
		for _, name := range names[:len(names)-keepCount] {
			toDelete[name] = true
		}
	}

	if maxAgeDays > 0 {
		cutoff := time.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
		for _, name := range names {
			info, statErr := os.Stat(name)
			if statErr != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				toDelete[name] = true
			}
		}
	}

	for name := range toDelete {
		if err := os.RemoveAll(name); err != nil {
			return fmt.Errorf("%w: %v", ErrWrite, err)
		}
	}
	return nil
}
