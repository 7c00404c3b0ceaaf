package domain

import "time"

// FlowType identifies one kind of user operation. The tracking store keeps at
// most one active record per flow type.
type FlowType string

const (
	FlowBorrow    FlowType = "borrow"
	FlowRepay     FlowType = "repay"
	FlowSupply    FlowType = "supply"
	FlowWithdraw  FlowType = "withdraw"
	FlowLiquidate FlowType = "liquidate"
	FlowWrap      FlowType = "wrap"
	FlowRebalance FlowType = "rebalance"
)

// StepID names one step of an operation's signing/execution sequence.
type StepID string

const (
	StepApprovePermit       StepID = "approve_permit"
	StepApproveToken        StepID = "approve_token"
	StepAuthorizeBundlerSig StepID = "authorize_bundler_sig"
	StepAuthorizeBundlerTx  StepID = "authorize_bundler_tx"
	StepSignPermit          StepID = "sign_permit"
	StepExecute             StepID = "execute"
)

// RecordStatus is the lifecycle state of a TxRecord.
type RecordStatus string

const (
	RecordPending  RecordStatus = "pending"
	RecordComplete RecordStatus = "complete"
	RecordFailed   RecordStatus = "failed"
)

// RecordMeta carries the human-facing description of an operation. It is
// display metadata only; nothing in the engine branches on it.
type RecordMeta struct {
	Symbol      string
	Amount      string
	MarketID    string
	Title       string
	Description string
}

// TxRecord models one in-flight or terminal operation: the planned step
// sequence, the step currently pending, and the terminal status. Only the
// orchestrating flow writes to its record, via the tracking store.
type TxRecord struct {
	ID        string
	Flow      FlowType
	Steps     []StepID
	Current   StepID
	Status    RecordStatus
	Meta      RecordMeta
	TxHash    string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepIndex returns the position of id in the planned sequence, or -1.
func (r *TxRecord) StepIndex(id StepID) int {
	for i, s := range r.Steps {
		if s == id {
			return i
		}
	}
	return -1
}
