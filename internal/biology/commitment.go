package biology

import (
	"fmt"
	"math"
	"strconv"

	"github.com/danielpatrickdp/honest-lab/internal/rngstream"
)

// #region commitment-mean
// CommitmentMeanHours is the mean delay before a population commits to death:
// base / sqrt(1 + doseRatio).
func (c Config) CommitmentMeanHours(doseRatio float64) float64 {
	return c.CommitmentBaseHours / math.Sqrt(1+doseRatio)
}

// #endregion commitment-mean

// #region commitment-key
// commitmentKey identifies one commitment draw. The exposure id is an integer
// assigned by the engine; float doses never appear in the key.
type commitmentKey struct {
	Compound string
	Exposure uint64
	Subpop   string
}

func (k commitmentKey) streamID(vesselID string) string {
	return vesselID + "/" + k.Compound + "/" + strconv.FormatUint(k.Exposure, 10) + "/" + k.Subpop
}

// #endregion commitment-key

// #region sample-delay
// SampleCommitmentDelay draws a commitment delay for one (compound, exposure,
// subpopulation) of a vessel. Doses below IC50 never commit: ok is false.
func (c Config) SampleCommitmentDelay(mgr *rngstream.Manager, vesselID string, compound string, exposureID uint64, subpop string, doseRatio float64) (delay float64, ok bool, err error) {
	if math.IsNaN(doseRatio) || math.IsInf(doseRatio, 0) || doseRatio < 0 {
		return 0, false, fmt.Errorf("%w: dose ratio %v for compound %q", ErrInvalidIC50, doseRatio, compound)
	}
	if doseRatio < 1 {
		return 0, false, nil
	}

	key := commitmentKey{Compound: compound, Exposure: exposureID, Subpop: subpop}
	r := mgr.Stream(rngstream.PurposeCommitment, key.streamID(vesselID))

	mean := c.CommitmentMeanHours(doseRatio)
	d := rngstream.Lognormal(r, mean, c.CommitmentCV)
	d = math.Min(math.Max(d, c.CommitmentMinHours), c.CommitmentMaxHours)

	if math.IsNaN(d) || d < c.CommitmentMinHours || d > c.CommitmentMaxHours {
		return 0, false, fmt.Errorf("%w: %v h for compound %q (bounds [%v, %v])",
			ErrInvalidDelay, d, compound, c.CommitmentMinHours, c.CommitmentMaxHours)
	}
	return d, true, nil
}

// #endregion sample-delay
