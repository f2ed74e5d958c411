package policy

import (
	"fmt"
	"log/slog"

	"github.com/l0p7/fhirgate/internal/fhir"
)

// Engine evaluates decision rules and runs transform chains. Rule and
// transformer failures are contained here: they are logged and treated as
// Undecided or no-change so one broken module cannot take the pipeline down.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates an engine that reports module failures to the logger.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Decide runs the decision rules in registry order and returns the first
// terminal verdict together with the name of the rule that produced it. When
// every rule is undecided the returned name is empty.
func (e *Engine) Decide(req *Request, claims Claims, rules []DecisionRule) (Decision, string) {
	for _, rule := range rules {
		result, err := e.safeEvaluate(rule, req, claims)
		if err != nil {
			e.logger.Error("policy rule failed", slog.String("policy", rule.Name), slog.Any("error", err))
			continue
		}
		decision := AdaptVerdict(result)
		if decision.Terminal() {
			return decision, rule.Name
		}
	}
	return Decision{Outcome: Undecided}, ""
}

// TransformRequest chains the request transformers over a deep-copied
// snapshot of the body. Each transformer sees the previous one's output; a
// nil return keeps the current body. The second result reports whether any
// transformer produced a change, so callers can forward the original raw
// bytes untouched when nothing did.
func (e *Engine) TransformRequest(req *Request, body map[string]any, claims Claims, transformers []RequestTransformer) (map[string]any, bool) {
	current, _ := fhir.DeepCopy(body).(map[string]any)
	changed := false
	for _, transformer := range transformers {
		result, err := e.safeTransform(transformer.Name, transformer.Transform, req, current, claims)
		if err != nil {
			e.logger.Error("request transformer failed", slog.String("policy", transformer.Name), slog.Any("error", err))
			continue
		}
		if result == nil {
			continue
		}
		current = result
		changed = true
	}
	return current, changed
}

// TransformResponse offers the body to each response transformer in registry
// order. The first non-nil return claims the response and ends the chain. A
// chain that ends unclaimed suppresses FHIR resources and passes everything
// else through unchanged. Results: final body, claimed, suppressed.
func (e *Engine) TransformResponse(req *Request, body map[string]any, claims Claims, transformers []ResponseTransformer) (map[string]any, bool, bool) {
	for _, transformer := range transformers {
		result, err := e.safeTransform(transformer.Name, transformer.Transform, req, body, claims)
		if err != nil {
			e.logger.Error("response transformer failed", slog.String("policy", transformer.Name), slog.Any("error", err))
			continue
		}
		if result != nil {
			return result, true, false
		}
	}
	if fhir.IsResource(body) {
		return nil, false, true
	}
	return body, false, false
}

func (e *Engine) safeEvaluate(rule DecisionRule, req *Request, claims Claims) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("policy: rule panic: %v", r)
		}
	}()
	return rule.Evaluate(req, claims)
}

func (e *Engine) safeTransform(name string, transform TransformFunc, req *Request, body map[string]any, claims Claims) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("policy: transformer panic: %v", r)
		}
	}()
	return transform(req, body, claims)
}
