package policy

import (
	"log/slog"
	"sort"
)

// Registry holds the loaded policy modules and the three ordered views the
// engines consume. It is built once and never mutated afterward; directory
// watching swaps whole registries instead of editing one in place.
type Registry struct {
	modules              []Module
	rules                []DecisionRule
	requestTransformers  []RequestTransformer
	responseTransformers []ResponseTransformer
}

// NewRegistry sorts modules byte-wise ascending by name and caches the three
// capability views. Modules without any capability are dropped with a
// warning. The numeric prefixes of the shipped module names (00_, 50_, 99_)
// make this sort the precedence order.
func NewRegistry(modules []Module, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	kept := make([]Module, 0, len(modules))
	for _, module := range modules {
		if !module.HasCapability() {
			logger.Warn("policy module has no capabilities, ignoring",
				slog.String("policy", module.Name), slog.String("source", module.Source))
			continue
		}
		kept = append(kept, module)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Name < kept[j].Name })

	reg := &Registry{modules: kept}
	for _, module := range kept {
		if module.Evaluate != nil {
			reg.rules = append(reg.rules, DecisionRule{Name: module.Name, Evaluate: module.Evaluate})
		}
		if module.TransformRequest != nil {
			reg.requestTransformers = append(reg.requestTransformers, RequestTransformer{Name: module.Name, Transform: module.TransformRequest})
		}
		if module.TransformResponse != nil {
			reg.responseTransformers = append(reg.responseTransformers, ResponseTransformer{Name: module.Name, Transform: module.TransformResponse})
		}
	}
	return reg
}

// Modules returns the loaded modules in precedence order.
func (r *Registry) Modules() []Module { return r.modules }

// DecisionRules returns the ordered decision capabilities.
func (r *Registry) DecisionRules() []DecisionRule { return r.rules }

// RequestTransformers returns the ordered request-side transforms.
func (r *Registry) RequestTransformers() []RequestTransformer { return r.requestTransformers }

// ResponseTransformers returns the ordered response-side transforms.
func (r *Registry) ResponseTransformers() []ResponseTransformer { return r.responseTransformers }
