package state

import (
	"time"

	"github.com/danielpatrickdp/honest-lab/internal/belief"
	"github.com/danielpatrickdp/honest-lab/internal/cycle"
)

// #region campaign
// Campaign is one seeded sequence of cycles.
type Campaign struct {
	CampaignID string
	Seed       int64
	ConfigJSON string
	CreatedAt  time.Time
}

// #endregion campaign

// #region belief-version
// BeliefVersion is a versioned snapshot of belief state taken at the end of a cycle.
type BeliefVersion struct {
	VersionID  string
	CampaignID string
	ParentID   string
	Cycle      cycle.Cycle
	Snapshot   belief.Snapshot
	CreatedAt  time.Time
}

// #endregion belief-version

// #region run-record
// RunRecord is one executed proposal.
type RunRecord struct {
	RunID           string
	CampaignID      string
	Cycle           cycle.Cycle
	Action          belief.Action
	Wells           int
	Digest          uint64
	ObservationJSON string
	CreatedAt       time.Time
}

// #endregion run-record
