package vm

// OpKind discriminates the operation tree's node types. This is a literal,
// exhaustive translation of the original vm::types::Op enum into a Go
// tagged struct, since Go has no sum types.
type OpKind int

const (
	OpUnspecified OpKind = iota

	// Stack and arithmetic.
	OpPush
	OpPop
	OpDup
	OpSwap
	OpOver
	OpNegate
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpGt
	OpLt
	OpNot
	OpAnd
	OpOr

	// Memory.
	OpStore
	OpLoad

	// Control flow.
	OpIf
	OpWhile
	OpLoop
	OpMatch
	OpBreak
	OpContinue
	OpReturn

	// Functions.
	OpDef
	OpCall

	// Events.
	OpEmit
	OpEmitEvent

	// Diagnostics.
	OpDumpStack
	OpDumpMemory
	OpDumpState
	OpAssertTop
	OpAssertMemory
	OpAssertEqualStack

	// Persistent storage.
	OpStoreP
	OpLoadP
	OpLoadVersionP
	OpListVersionsP
	OpDiffVersionsP

	// Identity.
	OpVerifyIdentity
	OpCheckMembership
	OpCheckDelegation
	OpVerifySignature
	OpRequireIdentity
	OpRequireRole
	OpRequireValidSignature

	// Governance.
	OpRankedVote
	OpLiquidDelegate
	OpQuorumThreshold
	OpVoteThreshold
	OpMinDeliberation
	OpExpiresIn
	OpCreateResource
	OpMint
	OpTransfer
	OpBurn
	OpBalance
	OpIncrementReputation

	// Proposal-execution structural markers.
	OpIfPassed
	OpElse
)

func (k OpKind) String() string {
	names := map[OpKind]string{
		OpPush: "Push", OpPop: "Pop", OpDup: "Dup", OpSwap: "Swap", OpOver: "Over",
		OpNegate: "Negate", OpAdd: "Add", OpSub: "Sub", OpMul: "Mul", OpDiv: "Div", OpMod: "Mod",
		OpEq: "Eq", OpGt: "Gt", OpLt: "Lt", OpNot: "Not", OpAnd: "And", OpOr: "Or",
		OpStore: "Store", OpLoad: "Load",
		OpIf: "If", OpWhile: "While", OpLoop: "Loop", OpMatch: "Match",
		OpBreak: "Break", OpContinue: "Continue", OpReturn: "Return",
		OpDef: "Def", OpCall: "Call",
		OpEmit: "Emit", OpEmitEvent: "EmitEvent",
		OpDumpStack: "DumpStack", OpDumpMemory: "DumpMemory", OpDumpState: "DumpState",
		OpAssertTop: "AssertTop", OpAssertMemory: "AssertMemory", OpAssertEqualStack: "AssertEqualStack",
		OpStoreP: "StoreP", OpLoadP: "LoadP", OpLoadVersionP: "LoadVersionP",
		OpListVersionsP: "ListVersionsP", OpDiffVersionsP: "DiffVersionsP",
		OpVerifyIdentity: "VerifyIdentity", OpCheckMembership: "CheckMembership",
		OpCheckDelegation: "CheckDelegation", OpVerifySignature: "VerifySignature",
		OpRequireIdentity: "RequireIdentity", OpRequireRole: "RequireRole",
		OpRequireValidSignature: "RequireValidSignature",
		OpRankedVote:            "RankedVote", OpLiquidDelegate: "LiquidDelegate",
		OpQuorumThreshold: "QuorumThreshold", OpVoteThreshold: "VoteThreshold",
		OpMinDeliberation: "MinDeliberation", OpExpiresIn: "ExpiresIn",
		OpCreateResource: "CreateResource", OpMint: "Mint", OpTransfer: "Transfer",
		OpBurn: "Burn", OpBalance: "Balance", OpIncrementReputation: "IncrementReputation",
		OpIfPassed: "IfPassed", OpElse: "Else",
	}
	if name, ok := names[k]; ok {
		return name
	}
	return "Unspecified"
}

// MatchCase is one (literal, ops) arm of a Match op.
type MatchCase struct {
	Literal float64
	Ops     []Op
}

// Op is a single node in the operation tree. Only the fields relevant to
// Kind are populated; this mirrors the named-field variants of the source
// Op enum without Go sum types.
type Op struct {
	Kind OpKind

	// Push
	Number float64

	// Store/Load/Def/Call name; RequireIdentity/VerifyIdentity/CheckMembership/
	// IncrementReputation identity id; Def function name.
	Name string

	// Def parameter names, in binding order.
	Params []string

	// If
	Condition []Op
	Then      []Op
	ElseOps   []Op

	// While/Loop/Def body
	Body []Op

	// Loop
	Count int

	// Match
	ValueOps []Op
	Cases    []MatchCase
	Default  []Op

	// AssertTop / AssertMemory expected value (epsilon-compared)
	Value float64

	// AssertEqualStack
	Depth int

	// Emit/EmitEvent
	Category string
	Message  string

	// StoreP/LoadP/LoadVersionP/ListVersionsP/DiffVersionsP
	Key      string
	Version  uint64
	VersionA uint64
	VersionB uint64

	// VerifyIdentity/RequireValidSignature/VerifySignature literal fields
	// (VerifyIdentity/RequireValidSignature's subject id is Name). The
	// numeric value stack cannot carry byte strings, so message/signature/
	// public key material is supplied as literal fields rather than popped
	// from the stack.
	MessageText  string
	Signature    string
	PublicKeyRef string
	Scheme       string

	// CheckMembership
	Namespace string

	// CheckDelegation / LiquidDelegate
	From string
	To   string

	// RequireRole
	Role string

	// RankedVote
	Candidates int
	Ballots    int

	// QuorumThreshold / VoteThreshold
	Fraction float64

	// MinDeliberation / ExpiresIn (raw duration text, e.g. "72h", "2d", "1w")
	Duration string

	// CreateResource/Mint/Transfer/Burn/Balance
	ResourceID string
	Account    string
	Amount     float64
	AmountSet  bool
	Reason     string
}
