package dsl

import (
	"testing"

	"github.com/stretchr/testify/require"

	"covm/vm"
)

func TestParseSimpleOps(t *testing.T) {
	ops, cfg, err := Parse(`
push 1
push 2
add
store total
load total
`)
	require.NoError(t, err)
	require.Equal(t, LifecycleConfig{}, cfg)
	require.Len(t, ops, 5)
	require.Equal(t, vm.OpPush, ops[0].Kind)
	require.Equal(t, 1.0, ops[0].Number)
	require.Equal(t, vm.OpAdd, ops[2].Kind)
	require.Equal(t, vm.OpStore, ops[3].Kind)
	require.Equal(t, "total", ops[3].Name)
	require.Equal(t, vm.OpLoad, ops[4].Kind)
}

func TestParseGovernanceBlock(t *testing.T) {
	_, cfg, err := Parse(`
governance {
	quorumthreshold 0.5
	votethreshold 0.66
	mindeliberation 72h
	expiresin 14d
	require_role "member"
}
push 1
`)
	require.NoError(t, err)
	require.NotNil(t, cfg.Quorum)
	require.InDelta(t, 0.5, *cfg.Quorum, 1e-9)
	require.NotNil(t, cfg.Threshold)
	require.InDelta(t, 0.66, *cfg.Threshold, 1e-9)
	require.NotNil(t, cfg.MinDeliberation)
	require.Equal(t, 72*60*60.0, cfg.MinDeliberation.Seconds())
	require.NotNil(t, cfg.ExpiresIn)
	require.Equal(t, 14*24*60*60.0, cfg.ExpiresIn.Seconds())
	require.Equal(t, []string{"member"}, cfg.RequiredRoles)
}

func TestTemplateUseFillsOnlyUnsetFields(t *testing.T) {
	_, cfg, err := Parse(`
template "standard" {
	quorumthreshold 0.4
	votethreshold 0.5
	mindeliberation 24h
}
governance {
	votethreshold 0.9
}
governance use "standard"
`)
	require.NoError(t, err)
	require.NotNil(t, cfg.Quorum)
	require.InDelta(t, 0.4, *cfg.Quorum, 1e-9)
	// The inline block set votethreshold to 0.9 before the template was
	// merged in, and merge_from only fills unset fields, so the inline
	// value must survive.
	require.NotNil(t, cfg.Threshold)
	require.InDelta(t, 0.9, *cfg.Threshold, 1e-9)
	require.NotNil(t, cfg.MinDeliberation)
}

func TestTemplateUseBeforeInlineBlockIsOverridden(t *testing.T) {
	_, cfg, err := Parse(`
template "standard" {
	votethreshold 0.5
}
governance use "standard"
governance {
	votethreshold 0.9
}
`)
	require.NoError(t, err)
	require.NotNil(t, cfg.Threshold)
	require.InDelta(t, 0.9, *cfg.Threshold, 1e-9)
}

func TestUnknownTemplateErrors(t *testing.T) {
	_, _, err := Parse(`governance use "missing"`)
	require.Error(t, err)
	var dslErr *Error
	require.ErrorAs(t, err, &dslErr)
	require.Equal(t, ErrUnknownTemplate, dslErr.Kind)
}

func TestParseIfWhileLoopMatchDef(t *testing.T) {
	ops, _, err := Parse(`
if:
	cond:
		push 1
	then:
		push 2
	else:
		push 3
while:
	cond:
		push 0
	body:
		push 1
loop 3:
	push 1
match:
	value:
		push 1
	case 1:
		push 100
	default:
		push 0
def add_one(x):
	load x
	push 1
	add
`)
	require.NoError(t, err)
	require.Len(t, ops, 5)

	require.Equal(t, vm.OpIf, ops[0].Kind)
	require.Len(t, ops[0].Condition, 1)
	require.Len(t, ops[0].Then, 1)
	require.Len(t, ops[0].ElseOps, 1)

	require.Equal(t, vm.OpWhile, ops[1].Kind)
	require.Len(t, ops[1].Condition, 1)
	require.Len(t, ops[1].Body, 1)

	require.Equal(t, vm.OpLoop, ops[2].Kind)
	require.Equal(t, 3, ops[2].Count)
	require.Len(t, ops[2].Body, 1)

	require.Equal(t, vm.OpMatch, ops[3].Kind)
	require.Len(t, ops[3].ValueOps, 1)
	require.Len(t, ops[3].Cases, 1)
	require.Equal(t, 1.0, ops[3].Cases[0].Literal)
	require.Len(t, ops[3].Default, 1)

	require.Equal(t, vm.OpDef, ops[4].Kind)
	require.Equal(t, "add_one", ops[4].Name)
	require.Equal(t, []string{"x"}, ops[4].Params)
	require.Len(t, ops[4].Body, 3)
}

func TestParseGovernanceOps(t *testing.T) {
	ops, _, err := Parse(`
rankedvote 3 5
liquiddelegate alice bob
quorumthreshold 0.5
createresource credits
mint credits alice 100
transfer credits alice bob 25
burn credits bob 5
balance credits alice
incrementreputation alice 2
`)
	require.NoError(t, err)
	require.Equal(t, vm.OpRankedVote, ops[0].Kind)
	require.Equal(t, 3, ops[0].Candidates)
	require.Equal(t, 5, ops[0].Ballots)

	require.Equal(t, vm.OpLiquidDelegate, ops[1].Kind)
	require.Equal(t, "alice", ops[1].From)
	require.Equal(t, "bob", ops[1].To)

	require.Equal(t, vm.OpTransfer, ops[5].Kind)
	require.Equal(t, "credits", ops[5].ResourceID)
	require.Equal(t, "alice", ops[5].Account)
	require.Equal(t, "bob", ops[5].To)
	require.Equal(t, 25.0, ops[5].Amount)

	require.Equal(t, vm.OpIncrementReputation, ops[8].Kind)
	require.Equal(t, "alice", ops[8].Name)
	require.True(t, ops[8].AmountSet)
	require.Equal(t, 2.0, ops[8].Amount)
}

func TestParseIfPassed(t *testing.T) {
	ops, _, err := Parse(`
ifpassed:
	mint credits alice 100
`)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, vm.OpIfPassed, ops[0].Kind)
	require.Len(t, ops[0].Then, 1)
}

func TestParseRejectsUnknownCommand(t *testing.T) {
	_, _, err := Parse("frobnicate")
	require.Error(t, err)
	var dslErr *Error
	require.ErrorAs(t, err, &dslErr)
	require.Equal(t, ErrUnknownCommand, dslErr.Kind)
}
