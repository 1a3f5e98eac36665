package vm

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"covm/storage"
)

// --- Ranked-choice voting (instant-runoff) ---

// execRankedVote consumes candidates*ballots stack values (each ballot's
// ranked preferences, first choice on top of its block) and pushes the
// winning candidate index.
func (v *VM) execRankedVote(op Op) error {
	if op.Candidates < 2 || op.Ballots < 1 {
		return errValidation("RankedVote", "candidates must be >= 2 and ballots >= 1")
	}
	need := op.Candidates * op.Ballots
	if len(v.stack) < need {
		return errStackUnderflow("RankedVote")
	}

	values := v.stack[len(v.stack)-need:]
	v.stack = v.stack[:len(v.stack)-need]

	ballots := make([][]int, op.Ballots)
	for b := 0; b < op.Ballots; b++ {
		prefs := make([]int, op.Candidates)
		for r := 0; r < op.Candidates; r++ {
			// Ballot block layout: first choice on top, so index 0 of the
			// block (popped last, pushed first) is the lowest-ranked. We
			// read the block in push order (candidates first..last) with
			// the top-of-stack entry being rank 0 (first choice).
			idx := b*op.Candidates + (op.Candidates - 1 - r)
			prefs[r] = int(values[idx])
		}
		ballots[b] = prefs
	}

	winner, err := tallyIRV(op.Candidates, ballots)
	if err != nil {
		return err
	}
	v.push(float64(winner))
	return nil
}

// tallyIRV implements the exact instant-runoff algorithm: each round,
// count first-preference votes among eligible candidates; if any has a
// strict majority of active ballots, it wins; otherwise eliminate the
// lowest-count candidate (ties broken by lowest index) and advance that
// candidate's ballots to their next eligible preference.
func tallyIRV(candidates int, ballots [][]int) (int, error) {
	eligible := make([]bool, candidates)
	for i := range eligible {
		eligible[i] = true
	}
	cursor := make([]int, len(ballots))
	lastEliminated := -1

	for {
		counts := make([]int, candidates)
		activeBallots := 0
		for b, prefs := range ballots {
			c := cursor[b]
			for c < len(prefs) && !eligible[prefs[c]] {
				c++
			}
			cursor[b] = c
			if c < len(prefs) {
				counts[prefs[c]]++
				activeBallots++
			}
		}

		remaining := 0
		lastRemaining := -1
		for i, ok := range eligible {
			if ok {
				remaining++
				lastRemaining = i
			}
		}
		if remaining == 1 {
			return lastRemaining, nil
		}
		if activeBallots == 0 {
			if lastEliminated >= 0 {
				return lastEliminated, nil
			}
			return lastRemaining, nil
		}

		majority := activeBallots/2 + 1
		for i, ok := range eligible {
			if ok && counts[i] >= majority {
				return i, nil
			}
		}

		minCount := -1
		minIdx := -1
		for i, ok := range eligible {
			if !ok {
				continue
			}
			if minCount == -1 || counts[i] < minCount {
				minCount = counts[i]
				minIdx = i
			}
		}
		eligible[minIdx] = false
		lastEliminated = minIdx
	}
}

// --- Liquid delegation (storage-backed) ---

const delegationEdgePrefix = "governance/delegations/"
const delegationCountKey = "governance_delegations"

func (v *VM) execLiquidDelegate(op Op) error {
	if op.To == "" {
		existing, err := v.delegationEdge(op.From)
		if err != nil {
			return err
		}
		if existing == "" {
			return nil
		}
		if _, err := v.storageEngine.Set(v.authCtx, v.namespace, delegationEdgePrefix+op.From, []byte("")); err != nil {
			return errStorage("LiquidDelegate", err)
		}
		return v.adjustDelegationCount(-1)
	}

	if op.From == op.To {
		return errValidation("LiquidDelegate", "self-delegation is not permitted")
	}

	if cycle, err := v.wouldCreateDelegationCycle(op.From, op.To); err != nil {
		return err
	} else if cycle {
		return errValidation("LiquidDelegate", fmt.Sprintf("delegating %s to %s would create a cycle", op.From, op.To))
	}

	existing, err := v.delegationEdge(op.From)
	if err != nil {
		return err
	}

	if _, err := v.storageEngine.Set(v.authCtx, v.namespace, delegationEdgePrefix+op.From, []byte(op.To)); err != nil {
		return errStorage("LiquidDelegate", err)
	}
	if existing == "" {
		return v.adjustDelegationCount(1)
	}
	return nil
}

func (v *VM) delegationEdge(from string) (string, error) {
	raw, err := v.storageEngine.Get(v.authCtx, v.namespace, delegationEdgePrefix+from)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", errStorage("LiquidDelegate", err)
	}
	return string(raw), nil
}

// wouldCreateDelegationCycle walks outgoing edges from "to"; if it
// revisits "from" before reaching a node with no outgoing edge, adding
// from->to would create a cycle.
func (v *VM) wouldCreateDelegationCycle(from, to string) (bool, error) {
	current := to
	visited := make(map[string]bool)
	for {
		if current == from {
			return true, nil
		}
		if visited[current] {
			return false, nil
		}
		visited[current] = true
		next, err := v.delegationEdge(current)
		if err != nil {
			return false, err
		}
		if next == "" {
			return false, nil
		}
		current = next
	}
}

func (v *VM) adjustDelegationCount(delta int) error {
	raw, err := v.storageEngine.Get(v.authCtx, v.namespace, delegationCountKey)
	count := int64(0)
	if err == nil {
		parsed, perr := new(big.Int).SetString(strings.TrimSpace(string(raw)), 10)
		if perr {
			count = parsed.Int64()
		}
	} else if !isNotFound(err) {
		return errStorage("LiquidDelegate", err)
	}
	count += int64(delta)
	if count < 0 {
		count = 0
	}
	if _, err := v.storageEngine.Set(v.authCtx, v.namespace, delegationCountKey, []byte(fmt.Sprintf("%d", count))); err != nil {
		return errStorage("LiquidDelegate", err)
	}
	return nil
}

// --- Quorum / vote thresholds ---

func (v *VM) execQuorumThreshold(op Op) error {
	votesCast, err := v.pop("QuorumThreshold")
	if err != nil {
		return err
	}
	totalPossible, err := v.pop("QuorumThreshold")
	if err != nil {
		return err
	}
	if totalPossible <= 0 {
		return errValidation("QuorumThreshold", "total_possible must be > 0")
	}
	v.pushBool(votesCast/totalPossible >= op.Fraction)
	return nil
}

func (v *VM) execVoteThreshold(op Op) error {
	total, err := v.pop("VoteThreshold")
	if err != nil {
		return err
	}
	if op.Fraction < 0 {
		return errValidation("VoteThreshold", "threshold must be >= 0")
	}
	v.pushBool(total >= op.Fraction)
	return nil
}

// --- Economic resource ops ---

func resourceMetaKey(id string) string  { return "resources/" + id + "/metadata" }
func resourceAcctKey(id, acct string) string {
	return "resources/" + id + "/accounts/" + acct
}

func isNotFound(err error) bool {
	var storageErr *storage.Error
	if errors.As(err, &storageErr) {
		return storageErr.Kind == storage.KindNotFound
	}
	return false
}

func (v *VM) readBalance(resourceID, account string) (*big.Int, error) {
	raw, err := v.storageEngine.Get(v.authCtx, v.namespace, resourceAcctKey(resourceID, account))
	if err != nil {
		if isNotFound(err) {
			return big.NewInt(0), nil
		}
		return nil, errStorage("Balance", err)
	}
	bal, ok := new(big.Int).SetString(strings.TrimSpace(string(raw)), 10)
	if !ok {
		return nil, errStorage("Balance", fmt.Errorf("corrupt balance for %s/%s", resourceID, account))
	}
	return bal, nil
}

func (v *VM) writeBalance(resourceID, account string, bal *big.Int) error {
	_, err := v.storageEngine.Set(v.authCtx, v.namespace, resourceAcctKey(resourceID, account), []byte(bal.String()))
	if err != nil {
		return errStorage("Balance", err)
	}
	return nil
}

func (v *VM) execCreateResource(op Op) error {
	exists, err := v.storageEngine.Contains(v.authCtx, v.namespace, resourceMetaKey(op.ResourceID))
	if err != nil {
		return errStorage("CreateResource", err)
	}
	if exists {
		return errResourceAlreadyExists("CreateResource", op.ResourceID)
	}
	if _, err := v.storageEngine.Set(v.authCtx, v.namespace, resourceMetaKey(op.ResourceID), []byte(op.ResourceID)); err != nil {
		return errStorage("CreateResource", err)
	}
	return nil
}

func amountToBig(amount float64) (*big.Int, error) {
	if amount < 0 {
		return nil, errInvalidAmount("amount", "amount must be non-negative")
	}
	bf := new(big.Float).SetFloat64(amount)
	bi, _ := bf.Int(nil)
	return bi, nil
}

func (v *VM) execMint(op Op) error {
	if err := v.requireResourceExists(op.ResourceID, "Mint"); err != nil {
		return err
	}
	amount, err := amountToBig(op.Amount)
	if err != nil {
		return err
	}
	bal, err := v.readBalance(op.ResourceID, op.Account)
	if err != nil {
		return err
	}
	bal.Add(bal, amount)
	return v.writeBalance(op.ResourceID, op.Account, bal)
}

func (v *VM) execTransfer(op Op) error {
	if err := v.requireResourceExists(op.ResourceID, "Transfer"); err != nil {
		return err
	}
	amount, err := amountToBig(op.Amount)
	if err != nil {
		return err
	}
	fromBal, err := v.readBalance(op.ResourceID, op.Account)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return errInsufficientBalance("Transfer", fmt.Sprintf("%s has insufficient balance of %s", op.Account, op.ResourceID))
	}
	toBal, err := v.readBalance(op.ResourceID, op.To)
	if err != nil {
		return err
	}
	fromBal.Sub(fromBal, amount)
	toBal.Add(toBal, amount)
	if err := v.writeBalance(op.ResourceID, op.Account, fromBal); err != nil {
		return err
	}
	return v.writeBalance(op.ResourceID, op.To, toBal)
}

func (v *VM) execBurn(op Op) error {
	if err := v.requireResourceExists(op.ResourceID, "Burn"); err != nil {
		return err
	}
	amount, err := amountToBig(op.Amount)
	if err != nil {
		return err
	}
	bal, err := v.readBalance(op.ResourceID, op.Account)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return errInsufficientBalance("Burn", fmt.Sprintf("%s has insufficient balance of %s", op.Account, op.ResourceID))
	}
	bal.Sub(bal, amount)
	return v.writeBalance(op.ResourceID, op.Account, bal)
}

func (v *VM) execBalance(op Op) error {
	if err := v.requireResourceExists(op.ResourceID, "Balance"); err != nil {
		return err
	}
	bal, err := v.readBalance(op.ResourceID, op.Account)
	if err != nil {
		return err
	}
	f, _ := new(big.Float).SetInt(bal).Float64()
	v.push(f)
	return nil
}

func (v *VM) requireResourceExists(resourceID, op string) error {
	exists, err := v.storageEngine.Contains(v.authCtx, v.namespace, resourceMetaKey(resourceID))
	if err != nil {
		return errStorage(op, err)
	}
	if !exists {
		return errResourceNotFound(op, resourceID)
	}
	return nil
}

// --- Reputation ---

func (v *VM) execIncrementReputation(op Op) error {
	key := "identities/" + op.Name + "/reputation"
	amount := op.Amount
	if !op.AmountSet {
		amount = 1.0
	}
	raw, err := v.storageEngine.Get(v.authCtx, v.namespace, key)
	current := 0.0
	if err == nil {
		parsed, perr := parseValue(raw)
		if perr == nil {
			current = parsed
		}
	} else if !isNotFound(err) {
		return errStorage("IncrementReputation", err)
	}
	current += amount
	if _, err := v.storageEngine.Set(v.authCtx, v.namespace, key, formatValue(current)); err != nil {
		return errStorage("IncrementReputation", err)
	}
	return nil
}
