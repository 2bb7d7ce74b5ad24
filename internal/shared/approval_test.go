package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApprovalLogValidate(t *testing.T) {
	ok := ApprovalLog{Module: "stock_count", RefID: 4, ActorID: 2, Action: ApprovalSubmit}
	require.NoError(t, ok.validate())

	cases := map[string]ApprovalLog{
		"module": {RefID: 4, ActorID: 2, Action: ApprovalSubmit},
		"ref_id": {Module: "stock_count", ActorID: 2, Action: ApprovalSubmit},
		"actor":  {Module: "stock_count", RefID: 4, Action: ApprovalApprove},
		"action": {Module: "stock_count", RefID: 4, ActorID: 2, Action: "ESCALATE"},
	}
	for name, l := range cases {
		require.ErrorIs(t, l.validate(), ErrValidation, name)
	}
}
