package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXid_KeyEqualityByValue(t *testing.T) {
	x1 := Xid{FormatID: 1, GlobalTxnID: []byte{1, 2}, BranchQualifier: []byte{3}}
	x2 := Xid{FormatID: 1, GlobalTxnID: []byte{1, 2}, BranchQualifier: []byte{3}}
	x3 := Xid{FormatID: 2, GlobalTxnID: []byte{1, 2}, BranchQualifier: []byte{3}}
	x4 := Xid{FormatID: 1, GlobalTxnID: []byte{1, 2}, BranchQualifier: []byte{4}}

	assert.Equal(t, x1.Key(), x2.Key())
	assert.True(t, x1.Equal(x2))
	assert.NotEqual(t, x1.Key(), x3.Key())
	assert.NotEqual(t, x1.Key(), x4.Key())
}

func TestXid_KeyDistinguishesBoundary(t *testing.T) {
	// gtrid/bqual boundary must not be ambiguous.
	x1 := Xid{FormatID: 1, GlobalTxnID: []byte{1, 2}, BranchQualifier: []byte{3}}
	x2 := Xid{FormatID: 1, GlobalTxnID: []byte{1}, BranchQualifier: []byte{2, 3}}
	assert.NotEqual(t, x1.Key(), x2.Key())
}

func TestTxState_String(t *testing.T) {
	assert.Equal(t, "NONE", TxNone.String())
	assert.Equal(t, "ACTIVE", TxActive.String())
	assert.Equal(t, "ENDED", TxEnded.String())
	assert.Equal(t, "PREPARED", TxPrepared.String())
	assert.Equal(t, "COMMITTED", TxCommitted.String())
	assert.Equal(t, "ROLLEDBACK", TxRolledBack.String())
	assert.Equal(t, "HEURISTIC_MIXED", TxHeuristicMixed.String())
}
