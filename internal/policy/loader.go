package policy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/l0p7/fhirgate/internal/expr"
)

// Loader discovers policy modules in a directory and merges them with the
// compiled-in set. Two loadable suffixes are registered: .cel files carry a
// single CEL decision expression, .so files are Go plugin artifacts exporting
// any subset of the capability symbols.
type Loader struct {
	env    *expr.Environment
	logger *slog.Logger
}

// NewLoader prepares the CEL environment shared by all rule files.
func NewLoader(logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := expr.NewEnvironment()
	if err != nil {
		return nil, fmt.Errorf("policy: cel environment: %w", err)
	}
	return &Loader{env: env, logger: logger}, nil
}

// Load builds a registry from the built-in modules plus whatever the
// directory contributes. A missing or unreadable directory degrades to the
// built-ins with a warning; a single broken file is logged and skipped so the
// rest of the set still loads.
func (l *Loader) Load(dir string, builtins []Module) *Registry {
	modules := append([]Module(nil), builtins...)
	names := make(map[string]struct{}, len(modules))
	for _, module := range modules {
		names[module.Name] = struct{}{}
	}

	if dir == "" {
		return NewRegistry(modules, l.logger)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		l.logger.Warn("policy directory unavailable, using built-ins only",
			slog.String("dir", dir), slog.Any("error", err))
		return NewRegistry(modules, l.logger)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()
		if strings.HasPrefix(fileName, "__") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(fileName))
		if ext != ".cel" && ext != ".so" {
			continue
		}
		name := strings.TrimSuffix(fileName, filepath.Ext(fileName))
		if _, exists := names[name]; exists {
			l.logger.Warn("policy module name collides with a loaded module, skipping",
				slog.String("policy", name), slog.String("file", fileName))
			continue
		}

		path := filepath.Join(dir, fileName)
		var (
			module  Module
			loadErr error
		)
		switch ext {
		case ".cel":
			module, loadErr = l.loadCEL(name, path)
		case ".so":
			module, loadErr = loadPlugin(name, path)
		}
		if loadErr != nil {
			l.logger.Error("policy module failed to load, skipping",
				slog.String("file", path), slog.Any("error", loadErr))
			continue
		}
		names[name] = struct{}{}
		modules = append(modules, module)
	}

	return NewRegistry(modules, l.logger)
}

// loadCEL compiles a rule file into an evaluate-only module. The expression
// sees request and claims and returns a loose verdict.
func (l *Loader) loadCEL(name, path string) (Module, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return Module{}, fmt.Errorf("policy: read %s: %w", path, err)
	}
	program, err := l.env.Compile(string(source))
	if err != nil {
		return Module{}, err
	}
	evaluate := func(req *Request, claims Claims) (any, error) {
		var claimsVar any
		if claims != nil {
			claimsVar = map[string]any(claims)
		}
		return program.Eval(map[string]any{
			"request": req.CELContext(),
			"claims":  claimsVar,
		})
	}
	return Module{Name: name, Source: path, Evaluate: evaluate}, nil
}
