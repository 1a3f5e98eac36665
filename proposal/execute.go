package proposal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"covm/auth"
	"covm/dsl"
	"covm/ledger"
	"covm/observability/metrics"
	"covm/storage"
	"covm/vm"
)

// Driver wires together the storage engine, auth context, VM, logger, and
// optional DAG ledger a lifecycle transition needs. It holds no lifecycle
// state of its own — Lifecycle is a pure data record, all behavior lives
// here, matching spec.md's "ProposalLifecycle owns no state" ownership note.
type Driver struct {
	Auth    *auth.Context
	Storage *storage.Engine
	VM      *vm.VM
	Ledger  *ledger.Ledger
	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// TransitionToExecuted tallies votes and, if the proposal passes, moves it
// to Executed and sandboxes its attached logic in a VM fork. Returns
// whether a state transition happened (false if the proposal wasn't in
// Voting state, or didn't pass).
func (d *Driver) TransitionToExecuted(l *Lifecycle, now time.Time) (bool, error) {
	if l.State != StateVoting {
		return false, nil
	}
	tally, err := TallyVotes(d.Auth, d.Storage, d.Logger, l.ID)
	if err != nil {
		return false, err
	}
	if !l.CheckPassed(tally) {
		return false, nil
	}

	l.State = StateExecuted
	l.appendHistory(now)
	d.Metrics.ObserveTransition(l.State.String())

	status := d.executeProposalLogic(l)
	l.ExecutionStatus = &status

	if err := l.Save(d.Auth, d.Storage); err != nil {
		return true, err
	}

	if d.Ledger != nil {
		parents := voteNodeParents(d.Ledger, l.ID)
		if _, err := d.Ledger.Append(parents, uint64(now.Unix()), ledger.ProposalExecuted(l.ID, status.Success)); err != nil {
			return true, errStorage("TransitionToExecuted", err)
		}
	}
	return true, nil
}

// TransitionToRejected tallies votes and, if the proposal does not pass,
// moves it to Rejected. No logic is executed.
func (d *Driver) TransitionToRejected(l *Lifecycle, now time.Time) (bool, error) {
	if l.State != StateVoting {
		return false, nil
	}
	tally, err := TallyVotes(d.Auth, d.Storage, d.Logger, l.ID)
	if err != nil {
		return false, err
	}
	if l.CheckPassed(tally) {
		return false, nil
	}
	l.State = StateRejected
	l.appendHistory(now)
	d.Metrics.ObserveTransition(l.State.String())
	if err := l.Save(d.Auth, d.Storage); err != nil {
		return true, err
	}
	return true, nil
}

// TransitionToExpired moves a Voting proposal past its expires_at into
// Expired. No logic is executed regardless of whether it would have
// passed.
func (d *Driver) TransitionToExpired(l *Lifecycle, now time.Time) (bool, error) {
	if l.State != StateVoting || !l.IsExpired(now) {
		return false, nil
	}
	l.State = StateExpired
	l.appendHistory(now)
	d.Metrics.ObserveTransition(l.State.String())
	if err := l.Save(d.Auth, d.Storage); err != nil {
		return true, err
	}
	return true, nil
}

// executeProposalLogic loads the proposal's attached DSL from
// `proposals/{id}/logic`, forks the VM, parses and runs it, and commits or
// rolls back the fork's transaction depending on the outcome. Errors within
// the fork never propagate past this driver: they become
// ExecutionStatus{Success: false}.
func (d *Driver) executeProposalLogic(l *Lifecycle) ExecutionStatus {
	forkVM, err := d.VM.Fork()
	if err != nil {
		return ExecutionStatus{Success: false, Reason: fmt.Sprintf("fork: %v", err)}
	}

	raw, err := d.Storage.Get(d.Auth, governanceNamespace, logicKey(l.ID))
	var source string
	if err != nil {
		if !isNotFound(err) {
			d.rollbackFork()
			return ExecutionStatus{Success: false, Reason: fmt.Sprintf("load logic: %v", err)}
		}
		// Missing logic is treated as a no-op success.
	} else {
		source = string(raw)
	}

	if strings.TrimSpace(source) == "" {
		return d.commitFork()
	}

	ops, _, err := dsl.Parse(source)
	if err != nil {
		d.rollbackFork()
		return ExecutionStatus{Success: false, Reason: fmt.Sprintf("parse error: %v", err)}
	}

	if err := forkVM.Execute(ops); err != nil {
		d.rollbackFork()
		return ExecutionStatus{Success: false, Reason: fmt.Sprintf("runtime error during fork execution: %v", err)}
	}

	return d.commitFork()
}

func (d *Driver) commitFork() ExecutionStatus {
	if err := d.VM.CommitForkTransaction(); err != nil {
		return ExecutionStatus{Success: false, Reason: fmt.Sprintf("commit: %v", err)}
	}
	d.Metrics.ObserveForkCommit()
	return ExecutionStatus{Success: true}
}

func (d *Driver) rollbackFork() {
	_ = d.VM.RollbackForkTransaction()
	d.Metrics.ObserveForkRollback()
}

func isNotFound(err error) bool {
	se, ok := err.(*storage.Error)
	return ok && se.Kind == storage.KindNotFound
}

func voteNodeParents(l *ledger.Ledger, proposalID string) []string {
	nodes := l.FindVoteNodesFor(proposalID)
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}
