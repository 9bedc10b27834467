// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// CheckpointStore persists and restores Checkpoints on the local
// filesystem using a write-temp-then-rename sequence, so a crash mid
// write never leaves a partially-written checkpoint file behind (§4.8).
type CheckpointStore struct {
	dir string
}

// NewCheckpointStore constructs a store rooted at dir, creating it if
// necessary.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	return &CheckpointStore{dir: dir}, nil
}

// Write durably persists a checkpoint for pipelineID at the given step
// index. It writes to a temp file in the same directory, fsyncs it,
// then renames it into place — rename is atomic on the same filesystem,
// so readers never observe a half-written file.
func (s *CheckpointStore) Write(pipelineID string, stepIndex int, results map[string]interface{}) error {
	cp := Checkpoint{
		PipelineID: pipelineID,
		StepIndex:  stepIndex,
		Results:    results,
		Timestamp:  time.Now(),
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}

	final := s.pathFor(pipelineID, stepIndex)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("opening checkpoint temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming checkpoint into place: %w", err)
	}
	return nil
}

// ReadLatest loads the most recent checkpoint written for pipelineID,
// selected by the highest step index present on disk (§4.8).
func (s *CheckpointStore) ReadLatest(pipelineID string) (*Checkpoint, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing checkpoint dir: %w", err)
	}

	prefix := sanitizeID(pipelineID) + "."
	var candidates []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) {
			candidates = append(candidates, e.Name())
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Strings(candidates)
	latest := candidates[len(candidates)-1]

	data, err := os.ReadFile(filepath.Join(s.dir, latest))
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *CheckpointStore) pathFor(pipelineID string, stepIndex int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.%06d.json", sanitizeID(pipelineID), stepIndex))
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

// Resume rehydrates ctx's results from cp and reports cp.StepIndex, the
// index of the last step completed before the checkpoint (§4.8);
// callers continue execution at that index plus one.
func Resume(ctx *Context, cp *Checkpoint) int {
	ctx.RestoreResults(cp.Results)
	return cp.StepIndex
}
