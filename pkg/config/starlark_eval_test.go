package config

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)
	ctx := context.Background()

	tests := []struct {
		name      string
		script    string
		input     map[string]interface{}
		checkFunc func(*testing.T, *StarlarkResult)
		wantErr   bool
	}{
		{
			name:   "derive property from name",
			script: `providerId = "https://" + name + ".example.com"`,
			input:  map[string]interface{}{"name": "partner-a"},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["providerId"] != "https://partner-a.example.com" {
					t.Errorf("providerId = %v", sr.Output["providerId"])
				}
			},
		},
		{
			name:   "arithmetic on properties",
			script: `refreshTokenExpiry = properties["accessTokenExpiry"] * 24`,
			input: map[string]interface{}{
				"properties": map[string]interface{}{"accessTokenExpiry": 3600},
			},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["refreshTokenExpiry"] != int64(86400) {
					t.Errorf("refreshTokenExpiry = %v", sr.Output["refreshTokenExpiry"])
				}
			},
		},
		{
			name: "functions and private globals are not exported",
			script: `
def _scopes(env):
    return ",".join(["openid", env])

_env = labels["env"]
scopes = _scopes(_env)
`,
			input: map[string]interface{}{"labels": map[string]string{"env": "prod"}},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if len(sr.Output) != 1 {
					t.Fatalf("expected only scopes, got %v", sr.Output)
				}
				if sr.Output["scopes"] != "openid,prod" {
					t.Errorf("scopes = %v", sr.Output["scopes"])
				}
			},
		},
		{
			name: "public helper function is skipped",
			script: `
def make(n):
    return [i * 2 for i in range(n)]

output = make(3)
`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if _, ok := sr.Output["make"]; ok {
					t.Error("function should not be exported")
				}
				list, ok := sr.Output["output"].([]interface{})
				if !ok || len(list) != 3 || list[2] != int64(4) {
					t.Errorf("output = %v", sr.Output["output"])
				}
			},
		},
		{
			name:   "none removes",
			script: `clientSecret = None`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				v, ok := sr.Output["clientSecret"]
				if !ok || v != nil {
					t.Errorf("clientSecret = %v, %v", v, ok)
				}
			},
		},
		{
			name:    "syntax error",
			script:  `invalid syntax here`,
			wantErr: true,
		},
		{
			name:    "runtime error",
			script:  `result = undefined_variable`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(ctx, tt.script, tt.input)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				if result.Error == "" {
					t.Error("expected result error")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, result)
			}
			if result.ExecutionTime == 0 {
				t.Error("expected non-zero execution time")
			}
		})
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	evaluator := NewStarlarkEvaluator(100 * time.Millisecond)

	script := `
def spin():
    total = 0
    for i in range(100000000):
        total = total + i
    return total

output = spin()
`

	result, err := evaluator.Evaluate(context.Background(), script, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(result.Error, "timeout") {
		t.Errorf("result error = %q", result.Error)
	}
}

func TestStarlarkEvaluator_Getenv(t *testing.T) {
	t.Setenv("IAMDEPLOY_CLIENT_SECRET", "s3cret")
	t.Setenv("HOME_SECRET", "hidden")
	evaluator := NewStarlarkEvaluator(5 * time.Second)
	ctx := context.Background()

	result, err := evaluator.Evaluate(ctx, `
clientSecret = getenv("IAMDEPLOY_CLIENT_SECRET")
fallback = getenv("IAMDEPLOY_UNSET", "dflt")
`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Output["clientSecret"] != "s3cret" {
		t.Errorf("clientSecret = %v", result.Output["clientSecret"])
	}
	if result.Output["fallback"] != "dflt" {
		t.Errorf("fallback = %v", result.Output["fallback"])
	}

	if _, err := evaluator.Evaluate(ctx, `x = getenv("HOME_SECRET")`, nil); err == nil {
		t.Error("expected error reading a variable outside the namespace")
	}
}

func TestStarlarkEvaluator_PrintSuppressed(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)

	result, err := evaluator.Evaluate(context.Background(), `
print("this should not appear")
result = "done"
`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Output["result"] != "done" {
		t.Errorf("expected result='done', got %v", result.Output["result"])
	}
}
