package domain

import (
	"encoding/hex"
	"fmt"
)

// XA state machine states for a transaction branch.
type TxState int

const (
	TxNone TxState = iota
	TxActive
	TxEnded
	TxPrepared
	TxCommitted
	TxRolledBack
	TxHeuristicMixed
)

func (s TxState) String() string {
	switch s {
	case TxNone:
		return "NONE"
	case TxActive:
		return "ACTIVE"
	case TxEnded:
		return "ENDED"
	case TxPrepared:
		return "PREPARED"
	case TxCommitted:
		return "COMMITTED"
	case TxRolledBack:
		return "ROLLEDBACK"
	case TxHeuristicMixed:
		return "HEURISTIC_MIXED"
	default:
		return fmt.Sprintf("TxState(%d)", int(s))
	}
}

// XA flag values, matching the X/Open XA interface.
const (
	TMNOFLAGS    int32 = 0x00000000
	TMJOIN       int32 = 0x00200000
	TMENDRSCAN   int32 = 0x00800000
	TMSTARTRSCAN int32 = 0x01000000
	TMSUSPEND    int32 = 0x02000000
	TMSUCCESS    int32 = 0x04000000
	TMRESUME     int32 = 0x08000000
	TMFAIL       int32 = 0x20000000
	TMONEPHASE   int32 = 0x40000000
)

// XA prepare return codes.
const (
	XAOK     int32 = 0
	XARDONLY int32 = 3
)

// Xid is an XA transaction branch identifier.
type Xid struct {
	FormatID        int32  `json:"formatId"`
	GlobalTxnID     []byte `json:"globalTxnId"`
	BranchQualifier []byte `json:"branchQualifier"`
}

// XidKey is the value-comparable form of an Xid, usable as a map key.
type XidKey string

// Key encodes the Xid by value so two Xids with equal components collide.
func (x Xid) Key() XidKey {
	return XidKey(fmt.Sprintf("%d:%s:%s",
		x.FormatID,
		hex.EncodeToString(x.GlobalTxnID),
		hex.EncodeToString(x.BranchQualifier)))
}

func (x Xid) String() string {
	return string(x.Key())
}

// Equal compares two Xids by value.
func (x Xid) Equal(other Xid) bool {
	return x.Key() == other.Key()
}
