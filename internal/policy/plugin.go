package policy

import (
	"fmt"
	"plugin"
)

// Plugin symbol names probed on .so artifacts. Rule is the legacy alias for
// Evaluate; all symbols are optional.
const (
	symbolEvaluate          = "Evaluate"
	symbolRule              = "Rule"
	symbolTransformRequest  = "TransformRequest"
	symbolTransformResponse = "TransformResponse"
)

// loadPlugin opens a compiled plugin artifact and probes the capability
// symbols. A symbol that exists with the wrong signature fails the whole
// module so a typo cannot silently disable a policy.
func loadPlugin(name, path string) (Module, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return Module{}, fmt.Errorf("policy: open plugin %s: %w", path, err)
	}

	module := Module{Name: name, Source: path}

	evaluate, err := evaluateSymbol(p, symbolEvaluate)
	if err != nil {
		return Module{}, err
	}
	if evaluate == nil {
		if evaluate, err = evaluateSymbol(p, symbolRule); err != nil {
			return Module{}, err
		}
	}
	module.Evaluate = evaluate

	if module.TransformRequest, err = transformSymbol(p, symbolTransformRequest); err != nil {
		return Module{}, err
	}
	if module.TransformResponse, err = transformSymbol(p, symbolTransformResponse); err != nil {
		return Module{}, err
	}

	return module, nil
}

// evaluateSymbol resolves an optional decision symbol: absent symbols return
// nil without error, present symbols must match the capability signature.
func evaluateSymbol(p *plugin.Plugin, name string) (EvaluateFunc, error) {
	symbol, err := p.Lookup(name)
	if err != nil {
		return nil, nil
	}
	switch fn := symbol.(type) {
	case func(*Request, Claims) (any, error):
		return fn, nil
	case EvaluateFunc:
		return fn, nil
	default:
		return nil, fmt.Errorf("policy: symbol %s has unexpected type %T", name, symbol)
	}
}

func transformSymbol(p *plugin.Plugin, name string) (TransformFunc, error) {
	symbol, err := p.Lookup(name)
	if err != nil {
		return nil, nil
	}
	switch fn := symbol.(type) {
	case func(*Request, map[string]any, Claims) (map[string]any, error):
		return fn, nil
	case TransformFunc:
		return fn, nil
	default:
		return nil, fmt.Errorf("policy: symbol %s has unexpected type %T", name, symbol)
	}
}
