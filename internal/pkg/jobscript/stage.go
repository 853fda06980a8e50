package jobscript

import (
	"fmt"

	"github.com/annie-grid/gridsub/internal/pkg/corfs"
	log "github.com/sirupsen/logrus"
)

// Staged is a set of artifacts written to a file system. It stays valid
// until Cleanup is called.
type Staged struct {
	fs    corfs.FileSystem
	Dir   string
	paths map[string]string
	order []string
}

// Stage writes artifacts into dir on fs. If any write fails, the artifacts
// already written are removed before the error is returned.
func Stage(fs corfs.FileSystem, dir string, artifacts []Artifact) (*Staged, error) {
	staged := &Staged{
		fs:    fs,
		Dir:   dir,
		paths: make(map[string]string, len(artifacts)),
	}

	for _, artifact := range artifacts {
		path := fs.Join(dir, artifact.Name)
		if err := writeArtifact(fs, path, artifact.Body); err != nil {
			staged.Cleanup()
			return nil, fmt.Errorf("staging %s: %w", artifact.Name, err)
		}
		staged.paths[artifact.Name] = path
		staged.order = append(staged.order, artifact.Name)
	}

	log.Debugf("Staged %d job scripts in %s", len(staged.order), dir)
	return staged, nil
}

func writeArtifact(fs corfs.FileSystem, path string, body []byte) error {
	writer, err := fs.OpenWriter(path)
	if err != nil {
		return err
	}
	if _, err := writer.Write(body); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

// Path returns the staged location of the named artifact, and whether it was staged.
func (s *Staged) Path(name string) (string, bool) {
	path, ok := s.paths[name]
	return path, ok
}

// Names returns the staged artifact names in staging order
func (s *Staged) Names() []string {
	return append([]string(nil), s.order...)
}

// Remove deletes the named artifacts and leaves the rest staged.
func (s *Staged) Remove(names ...string) error {
	var firstErr error
	for _, name := range names {
		path, ok := s.paths[name]
		if !ok {
			continue
		}
		if err := s.fs.Delete(path); err != nil && firstErr == nil {
			firstErr = err
			continue
		}
		delete(s.paths, name)
		for i, staged := range s.order {
			if staged == name {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	return firstErr
}

// Cleanup removes the staged artifacts and their directory.
func (s *Staged) Cleanup() error {
	var firstErr error
	for _, name := range s.order {
		if err := s.fs.Delete(s.paths[name]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.fs.Delete(s.Dir); err != nil && firstErr == nil {
		firstErr = err
	}
	s.paths = map[string]string{}
	s.order = nil
	return firstErr
}
