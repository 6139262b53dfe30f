package automation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecutionStatusTransitions(t *testing.T) {
	require.True(t, ExecutionRunning.CanTransition(ExecutionCompleted))
	require.True(t, ExecutionRunning.CanTransition(ExecutionFailed))
	require.True(t, ExecutionRunning.CanTransition(ExecutionAwaitingApproval))
	require.False(t, ExecutionRunning.CanTransition(ExecutionApproved))

	require.True(t, ExecutionAwaitingApproval.CanTransition(ExecutionApproved))
	require.True(t, ExecutionAwaitingApproval.CanTransition(ExecutionRejected))
	require.True(t, ExecutionAwaitingApproval.CanTransition(ExecutionFailed))
	require.False(t, ExecutionAwaitingApproval.CanTransition(ExecutionRunning))
}

func TestExecutionTerminalStatesAreFinal(t *testing.T) {
	terminals := []ExecutionStatus{ExecutionCompleted, ExecutionFailed, ExecutionApproved, ExecutionRejected}
	all := []ExecutionStatus{
		ExecutionRunning, ExecutionCompleted, ExecutionFailed,
		ExecutionAwaitingApproval, ExecutionApproved, ExecutionRejected,
	}
	for _, from := range terminals {
		require.True(t, from.IsTerminal())
		for _, to := range all {
			if from.CanTransition(to) {
				t.Fatalf("终态 %s 不应允许转移到 %s", from, to)
			}
		}
	}

	require.False(t, ExecutionRunning.IsTerminal())
	require.False(t, ExecutionAwaitingApproval.IsTerminal())
}

func TestApprovalStatusTransitions(t *testing.T) {
	require.True(t, ApprovalPending.CanTransition(ApprovalApproved))
	require.True(t, ApprovalPending.CanTransition(ApprovalRejected))
	require.True(t, ApprovalPending.CanTransition(ApprovalEdited))

	// 审批是一次性决策，决策后不再转移
	for _, from := range []ApprovalStatus{ApprovalApproved, ApprovalRejected, ApprovalEdited} {
		for _, to := range []ApprovalStatus{ApprovalPending, ApprovalApproved, ApprovalRejected, ApprovalEdited} {
			if from.CanTransition(to) {
				t.Fatalf("已决策审批项 %s 不应允许转移到 %s", from, to)
			}
		}
	}
}
