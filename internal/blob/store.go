// Package blob stores annotation archives on the filesystem: the
// starting files handed out with file-based tasks and the submitted
// archives kept for review. Rows in the database reference blobs by
// their relative name.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Store struct {
	Root string
}

func New(root string) Store {
	return Store{Root: root}
}

// TaskFileName is the blob name for the starting file of a task.
func TaskFileName(project, category, task string) string {
	return filepath.ToSlash(filepath.Join("task-files", sanitize(project), sanitize(category),
		fmt.Sprintf("%s-%s.k.zip", sanitize(category), sanitize(task))))
}

// SubmissionFileName is the blob name for an archived submission. Final
// submissions are marked in the name so they survive later resubmits of
// the same second.
func SubmissionFileName(project, category, task, username string, ts time.Time, isFinal bool) string {
	name := fmt.Sprintf("%s-%s-%s-%s", sanitize(category), sanitize(task), sanitize(username), ts.UTC().Format("20060102T150405"))
	if isFinal {
		name += "-final"
	}
	return filepath.ToSlash(filepath.Join(sanitize(project), sanitize(category), name+".k.zip"))
}

// Save writes data under the given blob name and returns the name.
func (s Store) Save(name string, data []byte) (string, error) {
	path := filepath.Join(s.Root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return name, nil
}

// Read returns the contents of a stored blob.
func (s Store) Read(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(name)))
}

// Remove deletes a stored blob. Missing blobs are not an error.
func (s Store) Remove(name string) error {
	err := os.Remove(filepath.Join(s.Root, filepath.FromSlash(name)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// sanitize keeps blob names flat and portable: path separators, spaces
// and dashes collapse to underscores.
func sanitize(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_", "-", "_", "..", "_")
	return replacer.Replace(s)
}
