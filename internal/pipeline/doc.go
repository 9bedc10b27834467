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

// Package pipeline implements the recursive pipeline execution engine:
// template resolution, context/variable state, safety limits, step
// dispatch (including nested pipelines), retry/robustness, schema
// validation, checkpointing and span tracing.
//
// The package consumes already-parsed Pipeline values and an opaque
// Provider implementation; YAML parsing, schema authoring and transport
// for trace export all live outside the package.
package pipeline
