package expr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ruleActivation(method, path string, claims map[string]any) map[string]any {
	var claimsVar any
	if claims != nil {
		claimsVar = claims
	}
	return map[string]any{
		"request": map[string]any{
			"method":  method,
			"path":    path,
			"query":   map[string]any{},
			"headers": map[string]any{},
		},
		"claims": claimsVar,
	}
}

func TestCompileAndEvalString(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	program, err := env.Compile(`request.path.startsWith("/fhir/") ? "allow" : ""`)
	require.NoError(t, err)

	result, err := program.Eval(ruleActivation("GET", "/fhir/Patient/1", nil))
	require.NoError(t, err)
	require.Equal(t, "allow", result)

	result, err = program.Eval(ruleActivation("GET", "/metadata", nil))
	require.NoError(t, err)
	require.Equal(t, "", result)
}

func TestEvalListBecomesNative(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	program, err := env.Compile(`["deny", "blocked by rule"]`)
	require.NoError(t, err)

	result, err := program.Eval(ruleActivation("GET", "/fhir/Patient", nil))
	require.NoError(t, err)
	require.Equal(t, []any{"deny", "blocked by rule"}, result)
}

func TestEvalNullBecomesNil(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	program, err := env.Compile(`null`)
	require.NoError(t, err)

	result, err := program.Eval(ruleActivation("GET", "/", nil))
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestClaimsAccessErrorsWhenNull(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	program, err := env.Compile(`claims.sub == "u1"`)
	require.NoError(t, err)

	_, err = program.Eval(ruleActivation("GET", "/fhir/Patient", nil))
	require.Error(t, err, "field access on null claims must surface an eval error")

	result, err := program.Eval(ruleActivation("GET", "/fhir/Patient", map[string]any{"sub": "u1"}))
	require.NoError(t, err)
	require.Equal(t, true, result)
}

func TestLookupMapValue(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	program, err := env.Compile(`lookup(request.headers, "accept") == "application/fhir+json"`)
	require.NoError(t, err)

	activation := ruleActivation("GET", "/fhir/Patient", nil)
	activation["request"].(map[string]any)["headers"] = map[string]any{"accept": "application/fhir+json"}

	result, err := program.Eval(activation)
	require.NoError(t, err)
	require.Equal(t, true, result)

	missing, err := env.Compile(`lookup(request.headers, "authorization") == null`)
	require.NoError(t, err)
	result, err = missing.Eval(ruleActivation("GET", "/fhir/Patient", nil))
	require.NoError(t, err)
	require.Equal(t, true, result)
}

func TestCompileRejectsEmptyAndInvalid(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	_, err = env.Compile("   ")
	require.Error(t, err)

	_, err = env.Compile(`request.path.`)
	require.Error(t, err)
}

func TestProgramSource(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)
	program, err := env.Compile("  true ")
	require.NoError(t, err)
	require.Equal(t, "true", program.Source())
}
