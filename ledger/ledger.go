// Package ledger implements the append-only DAG audit trail: a governance
// event (proposal creation, vote casting, execution, minting) appended here
// becomes a hash-identified node that can reference its causal parents, and
// the chain can be traced back from any node.
package ledger

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// NodeKind discriminates the payload carried by a DagNode.
type NodeKind int

const (
	NodeUnspecified NodeKind = iota
	NodeProposalCreated
	NodeVoteCast
	NodeProposalExecuted
	NodeTokenMinted
)

func (k NodeKind) String() string {
	switch k {
	case NodeProposalCreated:
		return "ProposalCreated"
	case NodeVoteCast:
		return "VoteCast"
	case NodeProposalExecuted:
		return "ProposalExecuted"
	case NodeTokenMinted:
		return "TokenMinted"
	default:
		return "Unspecified"
	}
}

// NodeData is the tagged-union payload of a DagNode, mirroring the
// original enum's four variants as one struct with kind-specific fields.
type NodeData struct {
	Kind NodeKind `json:"type"`

	ProposalID string `json:"proposal_id,omitempty"`
	Title      string `json:"title,omitempty"`

	Voter string  `json:"voter,omitempty"`
	Vote  float64 `json:"vote,omitempty"`

	Success bool `json:"success,omitempty"`

	Resource  string  `json:"resource,omitempty"`
	Recipient string  `json:"recipient,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
}

// ProposalCreated builds the payload for a new proposal's DAG node.
func ProposalCreated(proposalID, title string) NodeData {
	return NodeData{Kind: NodeProposalCreated, ProposalID: proposalID, Title: title}
}

// VoteCast builds the payload for a cast-vote DAG node.
func VoteCast(proposalID, voter string, vote float64) NodeData {
	return NodeData{Kind: NodeVoteCast, ProposalID: proposalID, Voter: voter, Vote: vote}
}

// ProposalExecuted builds the payload for a proposal-execution DAG node.
func ProposalExecuted(proposalID string, success bool) NodeData {
	return NodeData{Kind: NodeProposalExecuted, ProposalID: proposalID, Success: success}
}

// TokenMinted builds the payload for a token-mint DAG node.
func TokenMinted(resource, recipient string, amount float64) NodeData {
	return NodeData{Kind: NodeTokenMinted, Resource: resource, Recipient: recipient, Amount: amount}
}

// DagNode is one entry in the ledger: a content-addressed node with
// explicit causal parents.
type DagNode struct {
	ID        string   `json:"id"`
	ParentIDs []string `json:"parent_ids"`
	Timestamp uint64   `json:"timestamp"`
	Data      NodeData `json:"data"`
}

// ComputeID hashes the node's JSON encoding (with ID cleared) to derive
// its content address.
func (n DagNode) ComputeID() (string, error) {
	n.ID = ""
	b, err := json.Marshal(n)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Ledger stores and manages a collection of DagNodes, optionally
// persisting each appended node to a JSONL file.
type Ledger struct {
	mu    sync.Mutex
	nodes []DagNode
	path  string
}

// New constructs an empty, in-memory-only ledger.
func New() *Ledger {
	return &Ledger{}
}

// WithPath constructs a ledger backed by a JSONL file, loading any
// existing entries from it.
func WithPath(path string) (*Ledger, error) {
	l := &Ledger{path: path}
	if err := l.loadFromFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) loadFromFile() error {
	if l.path == "" {
		return nil
	}
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		var node DagNode
		if err := json.Unmarshal([]byte(line), &node); err != nil {
			continue
		}
		l.nodes = append(l.nodes, node)
	}
	return scanner.Err()
}

// Append computes the node's content ID, stores it, and persists it to
// the backing file (if configured). Returns the assigned ID.
func (l *Ledger) Append(parentIDs []string, timestamp uint64, data NodeData) (string, error) {
	node := DagNode{ParentIDs: append([]string(nil), parentIDs...), Timestamp: timestamp, Data: data}
	id, err := node.ComputeID()
	if err != nil {
		return "", fmt.Errorf("ledger: compute id: %w", err)
	}
	node.ID = id

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path != "" {
		if err := l.persistLocked(node); err != nil {
			return "", fmt.Errorf("ledger: persist: %w", err)
		}
	}
	l.nodes = append(l.nodes, node)
	return id, nil
}

func (l *Ledger) persistLocked(node DagNode) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(node)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

// TraceAll returns every node currently in the ledger.
func (l *Ledger) TraceAll() []DagNode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]DagNode(nil), l.nodes...)
}

// FindByID returns the node with the given ID, if present.
func (l *Ledger) FindByID(id string) (DagNode, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range l.nodes {
		if n.ID == id {
			return n, true
		}
	}
	return DagNode{}, false
}

// FindProposalNodeID returns the node ID of the ProposalCreated event for
// the given proposal, if any.
func (l *Ledger) FindProposalNodeID(proposalID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range l.nodes {
		if n.Data.Kind == NodeProposalCreated && n.Data.ProposalID == proposalID {
			return n.ID, true
		}
	}
	return "", false
}

// FindVoteNodesFor returns every VoteCast node recorded for the given
// proposal, in append order.
func (l *Ledger) FindVoteNodesFor(proposalID string) []DagNode {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []DagNode
	for _, n := range l.nodes {
		if n.Data.Kind == NodeVoteCast && n.Data.ProposalID == proposalID {
			out = append(out, n)
		}
	}
	return out
}

// Trace walks a node and all of its ancestors (by ParentIDs), depth
// first, returning every node reached exactly once.
func (l *Ledger) Trace(nodeID string) []DagNode {
	var result []DagNode
	visited := make(map[string]struct{})
	l.traceRecursive(nodeID, &result, visited)
	return result
}

func (l *Ledger) traceRecursive(nodeID string, result *[]DagNode, visited map[string]struct{}) {
	if _, ok := visited[nodeID]; ok {
		return
	}
	visited[nodeID] = struct{}{}

	node, ok := l.FindByID(nodeID)
	if !ok {
		return
	}
	*result = append(*result, node)
	for _, parentID := range node.ParentIDs {
		l.traceRecursive(parentID, result, visited)
	}
}

// ExportToFile writes every node, one JSON object per line, to path.
func (l *Ledger) ExportToFile(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, n := range l.nodes {
		b, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return err
		}
	}
	return w.Flush()
}
