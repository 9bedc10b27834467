// Copyright 2025 PipelineCore
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import "time"

// StepType enumerates the step kinds the dispatcher recognizes.
type StepType string

const (
	StepProvider         StepType = "provider_call"
	StepParallelProvider StepType = "parallel_provider"
	StepPipeline         StepType = "pipeline"
	StepForLoop          StepType = "for_loop"
	StepWhileLoop        StepType = "while_loop"
	StepSwitch           StepType = "switch"
	StepTransform        StepType = "data_transform"
	StepSetVariable      StepType = "set_variable"
	StepCheckpoint       StepType = "checkpoint"
	StepFileOps          StepType = "file_ops"
)

// Pipeline is a declarative, immutable execution plan.
type Pipeline struct {
	Name              string                 `json:"name" yaml:"name"`
	Description       string                 `json:"description,omitempty" yaml:"description,omitempty"`
	CheckpointEnabled bool                   `json:"checkpoint_enabled,omitempty" yaml:"checkpoint_enabled,omitempty"`
	WorkspaceDir      string                 `json:"workspace_dir,omitempty" yaml:"workspace_dir,omitempty"`
	Defaults          map[string]interface{} `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	Globals           map[string]interface{} `json:"globals,omitempty" yaml:"globals,omitempty"`
	Functions         map[string]interface{} `json:"functions,omitempty" yaml:"functions,omitempty"`
	Providers         map[string]interface{} `json:"providers,omitempty" yaml:"providers,omitempty"`
	Steps             []*Step                `json:"steps" yaml:"steps"`
}

// Step is a named, typed unit of work within a pipeline.
type Step struct {
	Name      string   `json:"name" yaml:"name"`
	Type      StepType `json:"type" yaml:"type"`
	Condition string   `json:"condition,omitempty" yaml:"condition,omitempty"`

	OutputToFile string          `json:"output_to_file,omitempty" yaml:"output_to_file,omitempty"`
	OutputSchema *Schema         `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`

	ContinueOnError bool `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`

	// provider_call / parallel_provider
	ProviderID             string          `json:"provider_id,omitempty" yaml:"provider_id,omitempty"`
	ProviderOptions        map[string]any  `json:"options,omitempty" yaml:"options,omitempty"`
	Prompt                 []PromptElement `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Providers              []ParallelCall  `json:"providers,omitempty" yaml:"providers,omitempty"`
	InjectPreviousResults  bool            `json:"inject_previous_results,omitempty" yaml:"inject_previous_results,omitempty"`
	OnPartialFailure       string          `json:"on_partial_failure,omitempty" yaml:"on_partial_failure,omitempty"`

	// pipeline (nested)
	PipelineFile string                `json:"pipeline_file,omitempty" yaml:"pipeline_file,omitempty"`
	PipelineRef  string                `json:"pipeline_ref,omitempty" yaml:"pipeline_ref,omitempty"`
	InlinePipeline *Pipeline           `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
	Inputs       map[string]string     `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs      []OutputMapping       `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	NestedConfig NestedPipelineConfig  `json:"config,omitempty" yaml:"config,omitempty"`

	// for_loop / while_loop
	Iterator    string  `json:"iterator,omitempty" yaml:"iterator,omitempty"`
	DataSource  string  `json:"data_source,omitempty" yaml:"data_source,omitempty"`
	Parallel    bool    `json:"parallel,omitempty" yaml:"parallel,omitempty"`
	MaxParallel int     `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
	MaxIterations int   `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	LoopSteps   []*Step `json:"steps,omitempty" yaml:"steps,omitempty"`

	// switch
	Expression string                `json:"expression,omitempty" yaml:"expression,omitempty"`
	Cases      map[string][]*Step    `json:"cases,omitempty" yaml:"cases,omitempty"`
	Default    []*Step               `json:"default,omitempty" yaml:"default,omitempty"`

	// data_transform
	TransformField string       `json:"field,omitempty" yaml:"field,omitempty"`
	Operations     []Operation  `json:"operations,omitempty" yaml:"operations,omitempty"`

	// set_variable
	VariableName  string      `json:"variable,omitempty" yaml:"variable,omitempty"`
	VariableValue string      `json:"value,omitempty" yaml:"value,omitempty"`

	// file_ops
	FileOp    string `json:"op,omitempty" yaml:"op,omitempty"`
	FileSrc   string `json:"src,omitempty" yaml:"src,omitempty"`
	FileDst   string `json:"dst,omitempty" yaml:"dst,omitempty"`

	// retry / robustness
	RetryConfig *RetryPolicy `json:"retry_config,omitempty" yaml:"retry_config,omitempty"`
}

// ParallelCall is one of the N calls launched by a parallel_provider step.
type ParallelCall struct {
	Name            string          `json:"name" yaml:"name"`
	ProviderID      string          `json:"provider_id" yaml:"provider_id"`
	ProviderOptions map[string]any  `json:"options,omitempty" yaml:"options,omitempty"`
	Prompt          []PromptElement `json:"prompt,omitempty" yaml:"prompt,omitempty"`
}

// Operation is one filter/aggregate/join step in a data_transform.
type Operation struct {
	Kind string         `json:"kind" yaml:"kind"` // filter | aggregate | join
	Args map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// NestedPipelineConfig controls child-context construction (§4.5).
type NestedPipelineConfig struct {
	InheritContext bool               `json:"inherit_context,omitempty" yaml:"inherit_context,omitempty"`
	Inheritance    InheritanceFilter  `json:"inheritance,omitempty" yaml:"inheritance,omitempty"`
	ProviderOverride map[string]any   `json:"providers,omitempty" yaml:"providers,omitempty"`
}

// InheritanceFilter selects which globals propagate to a child context.
type InheritanceFilter struct {
	GlobalVars GlobalVarFilter `json:"global_vars,omitempty" yaml:"global_vars,omitempty"`
}

// GlobalVarFilter includes/excludes global keys by name.
type GlobalVarFilter struct {
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// OutputMapping is either a bare step-name string (shorthand) or a
// dotted-path extraction with an alias.
type OutputMapping struct {
	// Shorthand is set when the mapping is a plain "stepname" string.
	Shorthand string `json:"-" yaml:"-"`
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
	As        string `json:"as,omitempty" yaml:"as,omitempty"`
	Optional  bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// PromptElement is a tagged union of prompt construction pieces.
type PromptElement struct {
	Kind string `json:"kind" yaml:"kind"` // static|file|previous_response|session_context|claude_continue

	// static
	Content string `json:"content,omitempty" yaml:"content,omitempty"`

	// file
	Path string            `json:"path,omitempty" yaml:"path,omitempty"`
	Vars map[string]string `json:"vars,omitempty" yaml:"vars,omitempty"`

	// previous_response
	Step      string `json:"step,omitempty" yaml:"step,omitempty"`
	Extract   string `json:"extract,omitempty" yaml:"extract,omitempty"`
	MaxLength int    `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Summary   bool   `json:"summary,omitempty" yaml:"summary,omitempty"`

	// session_context
	SessionID     string `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	IncludeLastN  int    `json:"include_last_n,omitempty" yaml:"include_last_n,omitempty"`

	// claude_continue
	NewPrompt string `json:"new_prompt,omitempty" yaml:"new_prompt,omitempty"`
}

// SafetyLimits bounds recursion, step count, memory and time.
type SafetyLimits struct {
	MaxNestingDepth   int           `json:"max_nesting_depth" yaml:"max_nesting_depth"`
	MaxTotalSteps     int           `json:"max_total_steps" yaml:"max_total_steps"`
	MemoryLimitBytes  uint64        `json:"memory_limit_bytes" yaml:"memory_limit_bytes"`
	TimeoutMs         int64         `json:"timeout_ms" yaml:"timeout_ms"`
	WarningThresholds float64       `json:"warning_thresholds" yaml:"warning_thresholds"` // fraction, e.g. 0.8
}

// DefaultSafetyLimits mirrors the conservative defaults the teacher
// repo's workflow engine assumes implicitly; the core makes them explicit.
func DefaultSafetyLimits() SafetyLimits {
	return SafetyLimits{
		MaxNestingDepth:   10,
		MaxTotalSteps:     1000,
		MemoryLimitBytes:  512 * 1024 * 1024,
		TimeoutMs:         5 * 60 * 1000,
		WarningThresholds: 0.8,
	}
}

// BackoffKind selects the retry delay curve.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffLinear      BackoffKind = "linear"
	BackoffFixed       BackoffKind = "fixed"
)

// FallbackAction selects what to do once retries are exhausted.
type FallbackAction string

const (
	FallbackGracefulDegradation FallbackAction = "graceful_degradation"
	FallbackUseCachedResponse   FallbackAction = "use_cached_response"
	FallbackSimplifiedPrompt    FallbackAction = "simplified_prompt"
	FallbackEmergencyResponse   FallbackAction = "emergency_response"
)

// RetryCondition tags a classified error as eligible for retry.
type RetryCondition string

const (
	RetryTimeout         RetryCondition = "timeout"
	RetryRateLimit       RetryCondition = "rate_limit"
	RetryTemporaryError  RetryCondition = "temporary_error"
	RetryConnectionError RetryCondition = "connection_error"
)

// RetryPolicy configures the Robustness layer (C6).
type RetryPolicy struct {
	MaxRetries       int               `json:"max_retries" yaml:"max_retries"`
	Backoff          BackoffKind       `json:"backoff" yaml:"backoff"`
	BaseDelayMs      int64             `json:"base_delay_ms" yaml:"base_delay_ms"`
	MaxDelayMs       int64             `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`
	RetryConditions  []RetryCondition  `json:"retry_conditions" yaml:"retry_conditions"`
	FallbackAction   FallbackAction    `json:"fallback_action" yaml:"fallback_action"`
	SimplifiedPrompt []PromptElement   `json:"simplified_prompt,omitempty" yaml:"simplified_prompt,omitempty"`
}

// conditionSet returns the policy's retry conditions as a lookup set.
func (p *RetryPolicy) conditionSet() map[RetryCondition]bool {
	set := make(map[RetryCondition]bool, len(p.RetryConditions))
	for _, c := range p.RetryConditions {
		set[c] = true
	}
	return set
}

// Schema is a pragmatic JSON-Schema subset (§4.7).
type Schema struct {
	Type                 string             `json:"type,omitempty" yaml:"type,omitempty"`
	Required             []string           `json:"required,omitempty" yaml:"required,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	AdditionalProperties *AdditionalProps   `json:"additionalProperties,omitempty" yaml:"additionalProperties,omitempty"`

	Items    *Schema `json:"items,omitempty" yaml:"items,omitempty"`
	MinItems *int    `json:"minItems,omitempty" yaml:"minItems,omitempty"`
	MaxItems *int    `json:"maxItems,omitempty" yaml:"maxItems,omitempty"`

	MinLength *int     `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Enum      []any    `json:"enum,omitempty" yaml:"enum,omitempty"`

	Minimum          *float64 `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum          *float64 `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	ExclusiveMinimum *float64 `json:"exclusiveMinimum,omitempty" yaml:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum *float64 `json:"exclusiveMaximum,omitempty" yaml:"exclusiveMaximum,omitempty"`
}

// AdditionalProps is either a bool or a subschema.
type AdditionalProps struct {
	Allowed bool
	Schema  *Schema
}

// Span is a single step-invocation tracing record (§3.1, §4.9).
type Span struct {
	ID         string
	ParentID   string
	PipelineID string
	StepName   string
	StartTime  time.Time
	EndTime    time.Time
	DurationMs int64
	Status     SpanStatus
	Depth      int
	Error      string
	Metadata   map[string]interface{}
}

// SpanStatus is the lifecycle state of a Span.
type SpanStatus string

const (
	SpanRunning   SpanStatus = "running"
	SpanCompleted SpanStatus = "completed"
	SpanFailed    SpanStatus = "failed"
)

// Checkpoint is a durable snapshot of results sufficient to resume.
type Checkpoint struct {
	PipelineID string                 `json:"pipeline_id"`
	StepIndex  int                    `json:"step_index"`
	Results    map[string]interface{} `json:"results"`
	Timestamp  time.Time              `json:"timestamp"`
}
