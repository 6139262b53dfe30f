package automation

// ExecutionStatus 执行状态机状态
type ExecutionStatus string

const (
	ExecutionRunning          ExecutionStatus = "running"
	ExecutionCompleted        ExecutionStatus = "completed"
	ExecutionFailed           ExecutionStatus = "failed"
	ExecutionAwaitingApproval ExecutionStatus = "awaiting_approval"
	ExecutionApproved         ExecutionStatus = "approved"
	ExecutionRejected         ExecutionStatus = "rejected"
)

// executionTransitions 显式转移表，非法转移在状态层拒绝而不是依赖查询过滤
var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionRunning:          {ExecutionCompleted, ExecutionFailed, ExecutionAwaitingApproval},
	ExecutionAwaitingApproval: {ExecutionApproved, ExecutionRejected, ExecutionFailed},
}

// CanTransition 判断执行状态能否从当前状态转移到目标状态
func (s ExecutionStatus) CanTransition(to ExecutionStatus) bool {
	for _, next := range executionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal 终态判断。awaiting_approval 不是终态，等待人工决策
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionApproved, ExecutionRejected:
		return true
	}
	return false
}

// ApprovalStatus 审批项状态机状态
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalEdited   ApprovalStatus = "edited"
)

// approvalTransitions 审批是一次性转移，pending 之后不再变化
var approvalTransitions = map[ApprovalStatus][]ApprovalStatus{
	ApprovalPending: {ApprovalApproved, ApprovalRejected, ApprovalEdited},
}

// CanTransition 判断审批状态能否从当前状态转移到目标状态
func (s ApprovalStatus) CanTransition(to ApprovalStatus) bool {
	for _, next := range approvalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
