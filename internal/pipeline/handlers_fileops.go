// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// runFileOps implements the file_ops step's copy/move/delete/validate/
// list/convert operations (§4.4). These are local-filesystem side
// effects; remote storage (gcs/azureblob/s3) is a host-application
// Provider concern, not a core file_ops primitive.
func runFileOps(ctx context.Context, pctx *Context, step *Step, d *Dispatcher) (interface{}, error) {
	src := d.Resolver.ResolveString(step.FileSrc, pctx)
	dst := d.Resolver.ResolveString(step.FileDst, pctx)

	switch step.FileOp {
	case "copy":
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("file_ops copy: reading %s: %w", src, err)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, fmt.Errorf("file_ops copy: preparing %s: %w", dst, err)
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return nil, fmt.Errorf("file_ops copy: writing %s: %w", dst, err)
		}
		return map[string]interface{}{"op": "copy", "src": src, "dst": dst, "bytes": len(data)}, nil

	case "move":
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, fmt.Errorf("file_ops move: preparing %s: %w", dst, err)
		}
		if err := os.Rename(src, dst); err != nil {
			return nil, fmt.Errorf("file_ops move: %w", err)
		}
		return map[string]interface{}{"op": "move", "src": src, "dst": dst}, nil

	case "delete":
		if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("file_ops delete: %w", err)
		}
		return map[string]interface{}{"op": "delete", "src": src}, nil

	case "validate":
		info, err := os.Stat(src)
		if err != nil {
			return map[string]interface{}{"op": "validate", "src": src, "exists": false}, nil
		}
		return map[string]interface{}{"op": "validate", "src": src, "exists": true, "size": info.Size()}, nil

	case "list":
		entries, err := os.ReadDir(src)
		if err != nil {
			return nil, fmt.Errorf("file_ops list: %w", err)
		}
		names := make([]interface{}, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return map[string]interface{}{"op": "list", "src": src, "entries": names}, nil

	case "convert":
		return convertFile(src, dst)

	default:
		return nil, NewInternal(pctx.Chain(), step.Name, fmt.Sprintf("unknown file_ops op %q", step.FileOp))
	}
}

// convertFile re-serializes src into dst, converting between YAML and
// JSON by the destination's extension.
func convertFile(src, dst string) (interface{}, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("file_ops convert: reading %s: %w", src, err)
	}

	var doc interface{}
	switch strings.ToLower(filepath.Ext(src)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("file_ops convert: decoding yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("file_ops convert: decoding json: %w", err)
		}
	}

	var out []byte
	switch strings.ToLower(filepath.Ext(dst)) {
	case ".yaml", ".yml":
		out, err = yaml.Marshal(doc)
	default:
		out, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return nil, fmt.Errorf("file_ops convert: encoding: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("file_ops convert: preparing %s: %w", dst, err)
	}
	if err := os.WriteFile(dst, out, 0o644); err != nil {
		return nil, fmt.Errorf("file_ops convert: writing %s: %w", dst, err)
	}
	return map[string]interface{}{"op": "convert", "src": src, "dst": dst}, nil
}

// readTemplateFile loads path, resolves {{...}} placeholders in its
// content against ctx, then overlays the prompt element's own `vars`
// as additional inputs visible only to that substitution.
func readTemplateFile(path string, vars map[string]string, pctx *Context, r *Resolver) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("prompt file %q: %w", path, err)
	}

	if len(vars) == 0 {
		return r.ResolveString(string(data), pctx), nil
	}

	scopedInputs := make(map[string]interface{}, len(pctx.Inputs)+len(vars))
	for k, v := range pctx.Inputs {
		scopedInputs[k] = v
	}
	for k, v := range vars {
		scopedInputs[k] = r.Resolve(v, pctx)
	}
	scoped := &Context{
		PipelineID: pctx.PipelineID, TraceID: pctx.TraceID, StartTime: pctx.StartTime,
		Results: pctx.Results, Inputs: scopedInputs, Globals: pctx.Globals,
		Workflow: pctx.Workflow, Functions: pctx.Functions, Providers: pctx.Providers,
		VariableState: pctx.VariableState, ExecutionChain: pctx.ExecutionChain,
		NestingDepth: pctx.NestingDepth,
	}
	return r.ResolveString(string(data), scoped), nil
}

// writeStepOutputFile writes a step's raw result to path, JSON-encoded
// unless it is already a plain string (open question 2: raw serialized
// payload, caller-configurable format).
func writeStepOutputFile(path string, result interface{}) error {
	var data []byte
	if s, ok := result.(string); ok {
		data = []byte(s)
	} else {
		b, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("serializing output_to_file payload: %w", err)
		}
		data = b
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("preparing output_to_file directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
