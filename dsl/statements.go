package dsl

import (
	"strconv"

	"covm/vm"
)

// parseSimpleLine maps a single non-block DSL line onto its vm.Op, and
// where the mnemonic is a governance directive (mindeliberation/expiresin/
// require_role appearing outside a governance block), also folds it into
// cfg so that bare top-level directives behave the same as their
// governance-block equivalents.
func parseSimpleLine(ln rawLine, cfg *LifecycleConfig) (vm.Op, error) {
	parts := splitFields(ln.text)
	if len(parts) == 0 {
		return vm.Op{}, errSyntax(ln.lineNo, "empty statement")
	}
	cmd, args := parts[0], parts[1:]

	need := func(n int) error {
		if len(args) < n {
			return errMissingParameter(ln.lineNo, cmd)
		}
		return nil
	}
	float := func(i int) (float64, error) {
		f, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return 0, errInvalidParameterValue(ln.lineNo, cmd, args[i])
		}
		return f, nil
	}
	intArg := func(i int) (int, error) {
		n, err := strconv.Atoi(args[i])
		if err != nil {
			return 0, errInvalidParameterValue(ln.lineNo, cmd, args[i])
		}
		return n, nil
	}
	uintArg := func(i int) (uint64, error) {
		n, err := strconv.ParseUint(args[i], 10, 64)
		if err != nil {
			return 0, errInvalidParameterValue(ln.lineNo, cmd, args[i])
		}
		return n, nil
	}

	switch cmd {
	case "push":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		n, err := float(0)
		if err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpPush, Number: n}, nil
	case "pop":
		return vm.Op{Kind: vm.OpPop}, nil
	case "dup":
		return vm.Op{Kind: vm.OpDup}, nil
	case "swap":
		return vm.Op{Kind: vm.OpSwap}, nil
	case "over":
		return vm.Op{Kind: vm.OpOver}, nil
	case "negate":
		return vm.Op{Kind: vm.OpNegate}, nil
	case "add":
		return vm.Op{Kind: vm.OpAdd}, nil
	case "sub":
		return vm.Op{Kind: vm.OpSub}, nil
	case "mul":
		return vm.Op{Kind: vm.OpMul}, nil
	case "div":
		return vm.Op{Kind: vm.OpDiv}, nil
	case "mod":
		return vm.Op{Kind: vm.OpMod}, nil
	case "eq":
		return vm.Op{Kind: vm.OpEq}, nil
	case "gt":
		return vm.Op{Kind: vm.OpGt}, nil
	case "lt":
		return vm.Op{Kind: vm.OpLt}, nil
	case "not":
		return vm.Op{Kind: vm.OpNot}, nil
	case "and":
		return vm.Op{Kind: vm.OpAnd}, nil
	case "or":
		return vm.Op{Kind: vm.OpOr}, nil

	case "store":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpStore, Name: args[0]}, nil
	case "load":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpLoad, Name: args[0]}, nil

	case "break":
		return vm.Op{Kind: vm.OpBreak}, nil
	case "continue":
		return vm.Op{Kind: vm.OpContinue}, nil
	case "return":
		return vm.Op{Kind: vm.OpReturn}, nil
	case "call":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpCall, Name: args[0]}, nil

	case "emit":
		if err := need(2); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpEmit, Category: unquote(args[0]), Message: unquote(args[1])}, nil
	case "emitevent":
		if err := need(2); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpEmitEvent, Category: unquote(args[0]), Message: unquote(args[1])}, nil

	case "dumpstack":
		return vm.Op{Kind: vm.OpDumpStack}, nil
	case "dumpmemory":
		return vm.Op{Kind: vm.OpDumpMemory}, nil
	case "dumpstate":
		return vm.Op{Kind: vm.OpDumpState}, nil
	case "asserttop":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		n, err := float(0)
		if err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpAssertTop, Value: n}, nil
	case "assertmemory":
		if err := need(2); err != nil {
			return vm.Op{}, err
		}
		n, err := float(1)
		if err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpAssertMemory, Name: args[0], Value: n}, nil
	case "assertequalstack":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		n, err := intArg(0)
		if err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpAssertEqualStack, Depth: n}, nil

	case "storep":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpStoreP, Key: args[0]}, nil
	case "loadp":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpLoadP, Key: args[0]}, nil
	case "loadversionp":
		if err := need(2); err != nil {
			return vm.Op{}, err
		}
		ver, err := uintArg(1)
		if err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpLoadVersionP, Key: args[0], Version: ver}, nil
	case "listversionsp":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpListVersionsP, Key: args[0]}, nil
	case "diffversionsp":
		if err := need(3); err != nil {
			return vm.Op{}, err
		}
		va, err := uintArg(1)
		if err != nil {
			return vm.Op{}, err
		}
		vb, err := uintArg(2)
		if err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpDiffVersionsP, Key: args[0], VersionA: va, VersionB: vb}, nil

	case "verifyidentity":
		if err := need(3); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpVerifyIdentity, Name: args[0], MessageText: unquote(args[1]), Signature: unquote(args[2])}, nil
	case "checkmembership":
		if err := need(2); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpCheckMembership, Name: args[0], Namespace: args[1]}, nil
	case "checkdelegation":
		if err := need(2); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpCheckDelegation, From: args[0], To: args[1]}, nil
	case "verifysignature":
		if err := need(4); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpVerifySignature, Name: args[0], MessageText: unquote(args[1]), Signature: unquote(args[2]), Scheme: args[3]}, nil
	case "requireidentity":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpRequireIdentity, Name: args[0]}, nil
	case "requirerole":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpRequireRole, Role: args[0]}, nil
	case "requirevalidsignature":
		if err := need(3); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpRequireValidSignature, Name: args[0], MessageText: unquote(args[1]), Signature: unquote(args[2])}, nil

	case "rankedvote":
		if err := need(2); err != nil {
			return vm.Op{}, err
		}
		c, err := intArg(0)
		if err != nil {
			return vm.Op{}, err
		}
		b, err := intArg(1)
		if err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpRankedVote, Candidates: c, Ballots: b}, nil
	case "liquiddelegate":
		if err := need(2); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpLiquidDelegate, From: args[0], To: args[1]}, nil
	case "quorumthreshold":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		f, err := float(0)
		if err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpQuorumThreshold, Fraction: f}, nil
	case "votethreshold":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		f, err := float(0)
		if err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpVoteThreshold, Fraction: f}, nil
	case "mindeliberation":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		d, err := parseDuration(args[0])
		if err != nil {
			return vm.Op{}, errInvalidParameterValue(ln.lineNo, cmd, args[0])
		}
		cfg.MinDeliberation = &d
		return vm.Op{Kind: vm.OpMinDeliberation, Duration: args[0]}, nil
	case "expiresin":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		d, err := parseDuration(args[0])
		if err != nil {
			return vm.Op{}, errInvalidParameterValue(ln.lineNo, cmd, args[0])
		}
		cfg.ExpiresIn = &d
		return vm.Op{Kind: vm.OpExpiresIn, Duration: args[0]}, nil
	case "require_role":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		role := unquote(args[0])
		cfg.RequiredRoles = append(cfg.RequiredRoles, role)
		return vm.Op{Kind: vm.OpRequireRole, Role: role}, nil

	case "createresource":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpCreateResource, ResourceID: args[0]}, nil
	case "mint":
		if err := need(3); err != nil {
			return vm.Op{}, err
		}
		amt, err := float(2)
		if err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpMint, ResourceID: args[0], Account: args[1], Amount: amt, AmountSet: true}, nil
	case "transfer":
		if err := need(4); err != nil {
			return vm.Op{}, err
		}
		amt, err := float(3)
		if err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpTransfer, ResourceID: args[0], Account: args[1], To: args[2], Amount: amt, AmountSet: true}, nil
	case "burn":
		if err := need(3); err != nil {
			return vm.Op{}, err
		}
		amt, err := float(2)
		if err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpBurn, ResourceID: args[0], Account: args[1], Amount: amt, AmountSet: true}, nil
	case "balance":
		if err := need(2); err != nil {
			return vm.Op{}, err
		}
		return vm.Op{Kind: vm.OpBalance, ResourceID: args[0], Account: args[1]}, nil
	case "incrementreputation":
		if err := need(1); err != nil {
			return vm.Op{}, err
		}
		op := vm.Op{Kind: vm.OpIncrementReputation, Name: args[0]}
		if len(args) >= 2 {
			amt, err := float(1)
			if err != nil {
				return vm.Op{}, err
			}
			op.Amount = amt
			op.AmountSet = true
		}
		return op, nil

	default:
		return vm.Op{}, errUnknownCommand(ln.lineNo, cmd)
	}
}
