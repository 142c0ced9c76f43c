package enforce

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/alignd/internal/capabilities"
	"github.com/fyrsmithlabs/alignd/internal/rules"
)

// scriptedJudge returns canned verdicts in order.
type scriptedJudge struct {
	verdicts []string
	err      error
	calls    int
}

func (j *scriptedJudge) Generate(context.Context, []capabilities.Message, capabilities.GenerateOptions) (string, error) {
	if j.err != nil {
		return "", j.err
	}
	idx := j.calls
	if idx >= len(j.verdicts) {
		idx = len(j.verdicts) - 1
	}
	j.calls++
	return j.verdicts[idx], nil
}

// scriptedGenerator returns canned regenerated responses in order.
type scriptedGenerator struct {
	responses []string
	err       error
	calls     int
}

func (g *scriptedGenerator) Regenerate(_ context.Context, _ string, _ []Violation) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	idx := g.calls
	if idx >= len(g.responses) {
		idx = len(g.responses) - 1
	}
	g.calls++
	return g.responses[idx], nil
}

func amountRule() rules.Rule {
	return rules.Rule{
		ID:                "r-amount",
		Scope:             rules.ScopeGlobal,
		Enabled:           true,
		HardConstraint:    true,
		EnforceExpression: "amount <= 50",
	}
}

// amountVars pulls a dollar figure out of the response text.
func amountVars(response string) map[string]any {
	for _, field := range strings.Fields(response) {
		if v, err := strconv.Atoi(strings.TrimPrefix(field, "$")); err == nil {
			return map[string]any{"amount": v}
		}
	}
	return map[string]any{"amount": 0}
}

func TestValidateExpressionLane(t *testing.T) {
	ctx := context.Background()

	t.Run("regeneration fixes the violation", func(t *testing.T) {
		v := New(Config{MaxRetries: 2}, nil, nil)
		gen := &scriptedGenerator{responses: []string{"we can offer $40 credit"}}
		res := v.Validate(ctx, "we can offer $75 credit", []rules.Rule{amountRule()}, nil, amountVars, gen)

		assert.True(t, res.Passed)
		assert.True(t, res.RegenerationAttempted)
		assert.Equal(t, 1, res.RegenerationAttempts)
		assert.True(t, res.RegenerationSucceeded)
		assert.Equal(t, "we can offer $40 credit", res.FinalResponse)
		assert.Empty(t, res.Violations)
	})

	t.Run("exhaustion reports exact attempt count", func(t *testing.T) {
		v := New(Config{MaxRetries: 3}, nil, nil)
		gen := &scriptedGenerator{responses: []string{"still $80", "still $90", "still $99"}}
		res := v.Validate(ctx, "we can offer $75 credit", []rules.Rule{amountRule()}, nil, amountVars, gen)

		assert.False(t, res.Passed)
		assert.Equal(t, 3, res.RegenerationAttempts)
		assert.False(t, res.RegenerationSucceeded)
		assert.Equal(t, "still $99", res.FinalResponse)
		require.Len(t, res.Violations, 1)
		assert.Equal(t, LaneExpression, res.Violations[0].Lane)
	})

	t.Run("clean pass needs no regeneration", func(t *testing.T) {
		v := New(Config{MaxRetries: 3}, nil, nil)
		res := v.Validate(ctx, "we can offer $10 credit", []rules.Rule{amountRule()}, nil, amountVars, nil)
		assert.True(t, res.Passed)
		assert.False(t, res.RegenerationAttempted)
		assert.Zero(t, res.RegenerationAttempts)
	})

	t.Run("zero retries fails immediately", func(t *testing.T) {
		v := New(Config{MaxRetries: 0}, nil, nil)
		gen := &scriptedGenerator{responses: []string{"$1"}}
		res := v.Validate(ctx, "$75 refund", []rules.Rule{amountRule()}, nil, amountVars, gen)
		assert.False(t, res.Passed)
		assert.Zero(t, res.RegenerationAttempts)
	})
}

func TestExpressionFailuresAreViolations(t *testing.T) {
	ctx := context.Background()
	v := New(Config{}, nil, nil)

	tests := []struct {
		name       string
		expression string
		vars       map[string]any
		wantReason string
	}{
		{"syntax error", "amount <=", map[string]any{"amount": 1}, "failed to compile"},
		{"undefined variable", "missing_var > 0", map[string]any{"amount": 1}, "failed to compile"},
		{"non-boolean result", "amount + 1", map[string]any{"amount": 1}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := amountRule()
			rule.EnforceExpression = tt.expression
			res := v.Validate(ctx, "anything", []rules.Rule{rule}, nil, func(string) map[string]any { return tt.vars }, nil)
			assert.False(t, res.Passed)
			require.Len(t, res.Violations, 1)
			assert.NotEmpty(t, res.Violations[0].Reason)
			if tt.wantReason != "" {
				assert.Contains(t, res.Violations[0].Reason, tt.wantReason)
			}
		})
	}

	t.Run("builtin helpers are available", func(t *testing.T) {
		rule := amountRule()
		rule.EnforceExpression = `len(name) > 0 && upper(name) == "ALEX"`
		res := v.Validate(ctx, "anything", []rules.Rule{rule}, nil,
			func(string) map[string]any { return map[string]any{"name": "alex"} }, nil)
		assert.True(t, res.Passed)
	})
}

func TestValidateJudgedLane(t *testing.T) {
	ctx := context.Background()
	judgedRule := rules.Rule{
		ID:             "r-tone",
		Scope:          rules.ScopeGlobal,
		Enabled:        true,
		HardConstraint: true,
		Condition:      "always",
		Action:         "never promise delivery dates",
	}

	t.Run("pass verdict", func(t *testing.T) {
		v := New(Config{}, &scriptedJudge{verdicts: []string{"PASS"}}, nil)
		res := v.Validate(ctx, "response", []rules.Rule{judgedRule}, nil, nil, nil)
		assert.True(t, res.Passed)
	})

	t.Run("fail verdict carries reason", func(t *testing.T) {
		v := New(Config{}, &scriptedJudge{verdicts: []string{"FAIL: promises a delivery date"}}, nil)
		res := v.Validate(ctx, "response", []rules.Rule{judgedRule}, nil, nil, nil)
		assert.False(t, res.Passed)
		require.Len(t, res.Violations, 1)
		assert.Equal(t, "promises a delivery date", res.Violations[0].Reason)
		assert.Equal(t, LaneJudged, res.Violations[0].Lane)
	})

	t.Run("ambiguous verdict fails conservatively", func(t *testing.T) {
		v := New(Config{}, &scriptedJudge{verdicts: []string{"well, it depends"}}, nil)
		res := v.Validate(ctx, "response", []rules.Rule{judgedRule}, nil, nil, nil)
		assert.False(t, res.Passed)
	})

	t.Run("judge error fails conservatively", func(t *testing.T) {
		v := New(Config{}, &scriptedJudge{err: errors.New("boom")}, nil)
		res := v.Validate(ctx, "response", []rules.Rule{judgedRule}, nil, nil, nil)
		assert.False(t, res.Passed)
		require.Len(t, res.Violations, 1)
		assert.Contains(t, res.Violations[0].Reason, "judge unavailable")
	})

	t.Run("regeneration re-judges", func(t *testing.T) {
		judge := &scriptedJudge{verdicts: []string{"FAIL: bad", "PASS"}}
		v := New(Config{MaxRetries: 2}, judge, nil)
		gen := &scriptedGenerator{responses: []string{"better response"}}
		res := v.Validate(ctx, "bad response", []rules.Rule{judgedRule}, nil, nil, gen)
		assert.True(t, res.Passed)
		assert.Equal(t, 1, res.RegenerationAttempts)
		assert.Equal(t, 2, judge.calls)
	})
}

func TestAlwaysEnforceGlobal(t *testing.T) {
	ctx := context.Background()
	global := amountRule()

	t.Run("enabled pulls unmatched global hards", func(t *testing.T) {
		v := New(Config{AlwaysEnforceGlobal: true}, nil, nil)
		res := v.Validate(ctx, "$75", nil, []rules.Rule{global}, amountVars, nil)
		assert.False(t, res.Passed)
	})

	t.Run("disabled ignores unmatched global hards", func(t *testing.T) {
		v := New(Config{AlwaysEnforceGlobal: false}, nil, nil)
		res := v.Validate(ctx, "$75", nil, []rules.Rule{global}, amountVars, nil)
		assert.True(t, res.Passed)
	})

	t.Run("no duplicate checks for matched globals", func(t *testing.T) {
		v := New(Config{AlwaysEnforceGlobal: true}, nil, nil)
		res := v.Validate(ctx, "$75", []rules.Rule{global}, []rules.Rule{global}, amountVars, nil)
		assert.Len(t, res.Violations, 1)
	})
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		in         string
		wantPass   bool
		wantReason string
		wantOK     bool
	}{
		{"PASS", true, "", true},
		{"  pass  ", true, "", true},
		{"PASS: all good", true, "", true},
		{"FAIL: too expensive", false, "too expensive", true},
		{"fail", false, "", true},
		{"maybe?", false, "", false},
		{"", false, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			pass, reason, ok := ParseVerdict(tt.in)
			assert.Equal(t, tt.wantPass, pass)
			assert.Equal(t, tt.wantReason, reason)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}
