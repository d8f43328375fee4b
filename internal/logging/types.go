package logging

import (
	"encoding/json"
	"time"

	"github.com/danielpatrickdp/honest-lab/internal/cycle"
)

// #region kind
// Kind tags an event. The verifier dispatches on it.
type Kind string

const (
	KindCycle       Kind = "cycle"       // action decision and its justification
	KindCalibration Kind = "calibration" // coverage credit and reference floors
	KindNoise       Kind = "noise"       // pooled-variance gate updates
	KindReceipt     Kind = "receipt"     // issued confidence receipts
	KindReward      Kind = "reward"      // reward accounting per receipt
	KindGate        Kind = "gate"        // gate verdicts, including rejections
)

// Stream names the JSONL file a kind is written to.
type Stream string

const (
	StreamCycles      Stream = "cycles"
	StreamCalibration Stream = "calibration"
	StreamNoise       Stream = "noise"
	StreamReceipts    Stream = "receipts"
)

// Streams lists every stream in a fixed order.
var Streams = []Stream{StreamCycles, StreamCalibration, StreamNoise, StreamReceipts}

// StreamFor returns the stream a kind belongs to.
func StreamFor(k Kind) Stream {
	switch k {
	case KindCycle:
		return StreamCycles
	case KindCalibration:
		return StreamCalibration
	case KindNoise:
		return StreamNoise
	default:
		return StreamReceipts
	}
}

// #endregion kind

// #region entry
// Entry is one JSONL line. Seq orders entries across all streams of a run.
type Entry struct {
	Seq     int             `json:"seq"`
	RunID   string          `json:"run_id"`
	Cycle   cycle.Cycle     `json:"cycle"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// #endregion entry

// #region provenance-entry
// ProvenanceEntry is a single row in the provenance_log table.
type ProvenanceEntry struct {
	RunID       string
	Cycle       cycle.Cycle
	Kind        Kind
	PayloadJSON string
	Decision    string // "accept" | "reject" | "cap"
	Reason      string
	CreatedAt   time.Time
}

// #endregion provenance-entry
