// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelinecore/engine/internal/pipeline"
)

const samplePipeline = `
name: sample
description: a small pipeline for loader tests
checkpoint_enabled: true
globals:
  greeting: hi
steps:
  - name: seed
    type: set_variable
    variable: g
    value: "{{global_vars.greeting}}"
  - name: fanout
    type: for_loop
    data_source: "{{global_vars.greeting}}"
    iterator: item
    steps:
      - name: inner
        type: set_variable
        variable: v
        value: "{{inputs.item}}"
  - name: route
    type: switch
    expression: "{{global_vars.greeting}}"
    cases:
      hi:
        - name: case-hi
          type: set_variable
          variable: x
          value: "matched"
    default:
      - name: case-default
        type: set_variable
        variable: x
        value: "unmatched"
  - name: call-child
    type: pipeline
    pipeline_ref: child
    outputs:
      - greet
      - path: greet
        as: greet_alias
`

func TestParse_DecodesPlainAndLoopAndSwitchSteps(t *testing.T) {
	p, err := Parse([]byte(samplePipeline))
	require.NoError(t, err)

	assert.Equal(t, "sample", p.Name)
	assert.True(t, p.CheckpointEnabled)
	require.Len(t, p.Steps, 4)

	assert.Equal(t, pipeline.StepSetVariable, p.Steps[0].Type)

	loopStep := p.Steps[1]
	assert.Equal(t, pipeline.StepForLoop, loopStep.Type)
	require.Len(t, loopStep.LoopSteps, 1)
	assert.Equal(t, "inner", loopStep.LoopSteps[0].Name)

	switchStep := p.Steps[2]
	assert.Equal(t, pipeline.StepSwitch, switchStep.Type)
	require.Contains(t, switchStep.Cases, "hi")
	assert.Equal(t, "case-hi", switchStep.Cases["hi"][0].Name)
	require.Len(t, switchStep.Default, 1)
}

func TestParse_NormalizesShorthandAndStructuredOutputMappings(t *testing.T) {
	p, err := Parse([]byte(samplePipeline))
	require.NoError(t, err)

	callStep := p.Steps[3]
	require.Len(t, callStep.Outputs, 2)
	assert.Equal(t, "greet", callStep.Outputs[0].Shorthand)
	assert.Equal(t, "greet", callStep.Outputs[1].Path)
	assert.Equal(t, "greet_alias", callStep.Outputs[1].As)
}

func TestParse_MissingNameIsRejected(t *testing.T) {
	_, err := Parse([]byte("steps: []\n"))
	require.Error(t, err)
}

func TestFileLoader_ResolveRefAndResolveFile(t *testing.T) {
	dir := t.TempDir()
	childPath := filepath.Join(dir, "child.yaml")
	require.NoError(t, os.WriteFile(childPath, []byte("name: child\nsteps: []\n"), 0o644))

	fl := NewFileLoader(dir)
	registered := &pipeline.Pipeline{Name: "registered", Steps: []*pipeline.Step{}}
	fl.Register(registered)

	byName, err := fl.ResolveRef("registered")
	require.NoError(t, err)
	assert.Same(t, registered, byName)

	_, err = fl.ResolveRef("nope")
	assert.Error(t, err)

	byFile, err := fl.ResolveFile("child.yaml")
	require.NoError(t, err)
	assert.Equal(t, "child", byFile.Name)
}
