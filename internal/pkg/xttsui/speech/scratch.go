package speech

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// scratch hands out request-unique temporary file names and removes every
// one of them on cleanup, whether or not the file was ever written.
type scratch struct {
	dir   string
	paths []string
}

func newScratch(dir string) *scratch {
	if dir == "" {
		dir = os.TempDir()
	}
	return &scratch{dir: dir}
}

func (s *scratch) path(kind string) string {
	p := filepath.Join(s.dir, fmt.Sprintf("xttsui-%s-%s.wav", kind, uuid.NewString()))
	s.paths = append(s.paths, p)
	return p
}

func (s *scratch) cleanup() {
	for _, p := range s.paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", p).Msg("Failed to remove temporary audio file")
		}
	}
	s.paths = nil
}
