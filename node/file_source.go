package node

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/quarrylabs/quarry/types"
)

// FileDiffSource serves block diffs from a directory of <height>.json
// files, one file per block. It backs local replay and the test fixtures.
type FileDiffSource struct {
	dir string
}

func NewFileDiffSource(dir string) *FileDiffSource {
	return &FileDiffSource{dir: dir}
}

func (s *FileDiffSource) FirstAvailable(_ context.Context) (uint64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read diff dir %s: %w", s.dir, err)
	}
	first, found := uint64(0), false
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		h, err := strconv.ParseUint(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}
		if !found || h < first {
			first, found = h, true
		}
	}
	if !found {
		return 0, fmt.Errorf("%s: %w", s.dir, ErrNoDiff)
	}
	return first, nil
}

func (s *FileDiffSource) BlockAt(_ context.Context, height uint64) (*types.BlockDiff, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("%d.json", height))
	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("height %d: %w", height, ErrNoDiff)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var block types.BlockDiff
	if err := json.Unmarshal(blob, &block); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	if block.Height != height {
		return nil, fmt.Errorf("%s declares height %d", path, block.Height)
	}
	return &block, nil
}
