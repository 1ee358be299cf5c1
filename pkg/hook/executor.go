//go:generate mockgen -package hook -destination=./executor_mock.go . Executor

// Package hook runs user-provided Tengo scripts around model lifecycle
// events. Hooks are optional extension points: a missing script is a no-op
// and a post-install failure never fails the session it ran for.
package hook

import (
	"os"
	"path/filepath"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
	"github.com/glorpus-work/modelstore/internal/logger"
	"github.com/glorpus-work/modelstore/pkg/errors"
)

// Hook types, doubling as script file names (<type>.tengo) under the hooks
// directory.
const (
	PostInstall = "post-install"
	PreRemove   = "pre-remove"
)

// Context provides context information to hook scripts.
type Context struct {
	ModelName    string
	ModelVersion string
	Operation    string // "install", "remove"
	BlobPath     string
	Format       string
	SizeBytes    int64
}

// Executor runs lifecycle hook scripts.
type Executor interface {
	// ExecuteHook runs the script for hookType when one exists. A missing
	// script is not an error.
	ExecuteHook(hookType string, hookCtx *Context) error
}

// ExecutorImpl runs Tengo scripts from a hooks directory.
type ExecutorImpl struct {
	hooksDir string
}

// NewExecutor creates a hook executor reading scripts from hooksDir. An empty
// directory path disables hooks entirely.
func NewExecutor(hooksDir string) *ExecutorImpl {
	return &ExecutorImpl{hooksDir: hooksDir}
}

// ExecuteHook implements Executor.
func (e *ExecutorImpl) ExecuteHook(hookType string, hookCtx *Context) error {
	if e.hooksDir == "" {
		return nil
	}
	hookPath := filepath.Join(e.hooksDir, hookType+".tengo")
	if _, err := os.Stat(hookPath); os.IsNotExist(err) {
		return nil
	}

	logger.Debug("Executing hook script", logger.Fields{
		"hook_path": hookPath,
		"operation": hookCtx.Operation,
		"model":     hookCtx.ModelName,
	})

	scriptContent, err := os.ReadFile(hookPath)
	if err != nil {
		return errors.Wrapf(err, "failed to read hook script %s", hookPath)
	}

	moduleMap := stdlib.GetModuleMap(stdlib.AllModuleNames()...)
	e.setupScriptContext(moduleMap, hookCtx)

	script := tengo.NewScript(scriptContent)
	script.SetImports(moduleMap)

	if _, err := script.Run(); err != nil {
		return errors.Wrapf(errors.ErrHookExecution, "hook script %s: %v", hookPath, err)
	}

	logger.Debug("Hook script executed successfully", logger.Fields{
		"hook_path": hookPath,
		"operation": hookCtx.Operation,
		"model":     hookCtx.ModelName,
	})
	return nil
}

// setupScriptContext exposes the hook context to the script as a builtin
// "context" module.
func (e *ExecutorImpl) setupScriptContext(moduleMap *tengo.ModuleMap, hookCtx *Context) {
	module := map[string]tengo.Object{
		"model_name": &tengo.String{Value: hookCtx.ModelName},
		"operation":  &tengo.String{Value: hookCtx.Operation},
		"blob_path":  &tengo.String{Value: hookCtx.BlobPath},
		"format":     &tengo.String{Value: hookCtx.Format},
		"size_bytes": &tengo.Int{Value: hookCtx.SizeBytes},
	}
	if hookCtx.ModelVersion != "" {
		module["model_version"] = &tengo.String{Value: hookCtx.ModelVersion}
	}
	moduleMap.AddBuiltinModule("context", module)
}
