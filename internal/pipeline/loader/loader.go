// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

// Package loader decodes pipeline definitions from YAML files and a
// named registry, kept outside the pipeline package's core so the
// executor never depends on a concrete serialization (§6.1).
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pipelinecore/engine/internal/pipeline"
)

// FileLoader resolves pipeline_file references against a root
// directory and pipeline_ref references against an in-memory registry
// populated by Register.
type FileLoader struct {
	root string

	mu       sync.RWMutex
	byName   map[string]*pipeline.Pipeline
}

// NewFileLoader constructs a loader rooted at dir for relative
// pipeline_file paths.
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{root: dir, byName: make(map[string]*pipeline.Pipeline)}
}

// Register makes p resolvable by name via pipeline_ref.
func (l *FileLoader) Register(p *pipeline.Pipeline) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byName[p.Name] = p
}

// ResolveRef implements pipeline.PipelineResolver.
func (l *FileLoader) ResolveRef(name string) (*pipeline.Pipeline, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.byName[name]
	if !ok {
		return nil, fmt.Errorf("pipeline_ref %q not registered", name)
	}
	return p, nil
}

// ResolveFile implements pipeline.PipelineResolver.
func (l *FileLoader) ResolveFile(path string) (*pipeline.Pipeline, error) {
	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(l.root, path)
	}
	return LoadFile(full)
}

// LoadFile parses a single YAML pipeline definition from disk.
func LoadFile(path string) (*pipeline.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML pipeline document, normalizing OutputMapping
// entries that were written as bare strings into their Shorthand form
// and re-decoding the nested step lists of loop and switch steps.
func Parse(data []byte) (*pipeline.Pipeline, error) {
	var doc struct {
		Name              string                 `yaml:"name"`
		Description       string                 `yaml:"description"`
		CheckpointEnabled bool                   `yaml:"checkpoint_enabled"`
		WorkspaceDir      string                 `yaml:"workspace_dir"`
		Defaults          map[string]interface{} `yaml:"defaults"`
		Globals           map[string]interface{} `yaml:"globals"`
		Functions         map[string]interface{} `yaml:"functions"`
		Providers         map[string]interface{} `yaml:"providers"`
		Steps             []yaml.Node            `yaml:"steps"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding pipeline yaml: %w", err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("pipeline definition missing required field \"name\"")
	}

	steps := make([]*pipeline.Step, 0, len(doc.Steps))
	for i, node := range doc.Steps {
		step, err := decodeStep(&node)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}

	return &pipeline.Pipeline{
		Name: doc.Name, Description: doc.Description,
		CheckpointEnabled: doc.CheckpointEnabled, WorkspaceDir: doc.WorkspaceDir,
		Defaults: doc.Defaults, Globals: doc.Globals, Functions: doc.Functions,
		Providers: doc.Providers, Steps: steps,
	}, nil
}

// decodeStep decodes one step node, then re-normalizes its outputs
// field since an OutputMapping entry may be a bare scalar string or a
// {path, as, optional} mapping within the same list.
func decodeStep(node *yaml.Node) (*pipeline.Step, error) {
	// Decode everything except the fields re-decoded from raw below; a
	// bare-string outputs entry would otherwise fail the struct decode.
	stripped := *node
	stripped.Content = nil
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "outputs", "steps", "default", "cases":
			continue
		}
		stripped.Content = append(stripped.Content, node.Content[i], node.Content[i+1])
	}
	var step pipeline.Step
	if err := stripped.Decode(&step); err != nil {
		return nil, err
	}

	var raw struct {
		Outputs []yaml.Node `yaml:"outputs"`
		Steps   []yaml.Node `yaml:"steps"`
		Default []yaml.Node `yaml:"default"`
		Cases   map[string][]yaml.Node `yaml:"cases"`
	}
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}

	if len(raw.Outputs) > 0 {
		outputs := make([]pipeline.OutputMapping, 0, len(raw.Outputs))
		for _, n := range raw.Outputs {
			m, err := decodeOutputMapping(&n)
			if err != nil {
				return nil, err
			}
			outputs = append(outputs, m)
		}
		step.Outputs = outputs
	}

	if step.Type == pipeline.StepForLoop || step.Type == pipeline.StepWhileLoop {
		inner, err := decodeSteps(raw.Steps)
		if err != nil {
			return nil, err
		}
		step.LoopSteps = inner
	}

	if step.Type == pipeline.StepSwitch {
		if len(raw.Default) > 0 {
			inner, err := decodeSteps(raw.Default)
			if err != nil {
				return nil, err
			}
			step.Default = inner
		}
		if len(raw.Cases) > 0 {
			cases := make(map[string][]*pipeline.Step, len(raw.Cases))
			for k, nodes := range raw.Cases {
				inner, err := decodeSteps(nodes)
				if err != nil {
					return nil, err
				}
				cases[k] = inner
			}
			step.Cases = cases
		}
	}

	return &step, nil
}

func decodeSteps(nodes []yaml.Node) ([]*pipeline.Step, error) {
	steps := make([]*pipeline.Step, 0, len(nodes))
	for i, n := range nodes {
		n := n
		step, err := decodeStep(&n)
		if err != nil {
			return nil, fmt.Errorf("nested step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func decodeOutputMapping(node *yaml.Node) (pipeline.OutputMapping, error) {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return pipeline.OutputMapping{}, err
		}
		return pipeline.OutputMapping{Shorthand: s}, nil
	}
	var m pipeline.OutputMapping
	if err := node.Decode(&m); err != nil {
		return pipeline.OutputMapping{}, err
	}
	return m, nil
}
