package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func allowAll() Policy {
	return Policy{Statements: []Statement{{
		Effect: EffectAllow, Actions: []string{"*"}, Resources: []string{"*"},
	}}}
}

func TestEvaluateDefaultDeny(t *testing.T) {
	assert.False(t, Evaluate(nil, "group.read", "group:1"))
	assert.False(t, Evaluate([]Policy{}, "group.read", "group:1"))
}

func TestEvaluateAllow(t *testing.T) {
	policies := []Policy{{Statements: []Statement{{
		Effect:    EffectAllow,
		Actions:   []string{"group.read", "group.list"},
		Resources: []string{"group:1"},
	}}}}

	assert.True(t, Evaluate(policies, "group.read", "group:1"))
	assert.True(t, Evaluate(policies, "group.list", "group:1"))
	assert.False(t, Evaluate(policies, "group.delete", "group:1"))
	assert.False(t, Evaluate(policies, "group.read", "group:2"))
}

func TestEvaluateWildcards(t *testing.T) {
	policies := []Policy{{Statements: []Statement{{
		Effect:    EffectAllow,
		Actions:   []string{"*"},
		Resources: []string{"group:1"},
	}}}}

	assert.True(t, Evaluate(policies, "anything", "group:1"))
	assert.False(t, Evaluate(policies, "anything", "group:2"))

	assert.True(t, Evaluate([]Policy{allowAll()}, "anything", "anywhere"))
}

func TestEvaluateDenyOverrides(t *testing.T) {
	policies := []Policy{
		allowAll(),
		{Statements: []Statement{{
			Effect:    EffectDeny,
			Actions:   []string{"user.delete"},
			Resources: []string{"*"},
		}}},
	}

	assert.False(t, Evaluate(policies, "user.delete", "user:9"))
	assert.True(t, Evaluate(policies, "user.read", "user:9"))
}

func TestEvaluateDenyWinsRegardlessOfOrder(t *testing.T) {
	deny := Policy{Statements: []Statement{{
		Effect: EffectDeny, Actions: []string{"x"}, Resources: []string{"*"},
	}}}

	assert.False(t, Evaluate([]Policy{deny, allowAll()}, "x", "r"))
	assert.False(t, Evaluate([]Policy{allowAll(), deny}, "x", "r"))
}

func TestEvaluateNonMatchingDenyDoesNotBlock(t *testing.T) {
	policies := []Policy{
		{Statements: []Statement{{
			Effect: EffectDeny, Actions: []string{"other"}, Resources: []string{"*"},
		}}},
		allowAll(),
	}
	assert.True(t, Evaluate(policies, "x", "r"))
}

func TestStatementMatchesNoPrefixGlobbing(t *testing.T) {
	st := Statement{
		Effect:    EffectAllow,
		Actions:   []string{"group.read"},
		Resources: []string{"group:1"},
	}
	assert.False(t, st.Matches("group.readx", "group:1"))
	assert.False(t, st.Matches("group.read", "group:10"))
}
