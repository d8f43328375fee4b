package noise

import (
	"github.com/danielpatrickdp/honest-lab/internal/biology"
	"github.com/danielpatrickdp/honest-lab/internal/observation"
	"github.com/danielpatrickdp/honest-lab/internal/plate"
	"github.com/danielpatrickdp/honest-lab/internal/rngstream"
)

// #region model
// Model turns true vessel signals into noisy, quantized readings.
type Model struct {
	cfg     Config
	streams *rngstream.Manager
	batch   string
}

// NewModel creates a measurement model drawing from the given streams.
func NewModel(cfg Config, streams *rngstream.Manager) *Model {
	return &Model{cfg: cfg, streams: streams}
}

// Config returns the model configuration.
func (m *Model) Config() Config {
	return m.cfg
}

// ForRun returns a model whose plate batch effects are scoped to one run, so
// plate "P1" in two runs is two physical plates.
func (m *Model) ForRun(runID string) *Model {
	c := *m
	c.batch = runID + "/"
	return &c
}

// #endregion model

// #region measure
// Measure reads every channel of a vessel at a position. Draws come from the
// measurement stream keyed by the vessel id, so the reading does not depend on
// which other vessels were measured first.
func (m *Model) Measure(vesselID string, pos plate.Position, sig biology.TrueSignals) map[observation.Channel]float64 {
	r := m.streams.Stream(rngstream.PurposeMeasurement, vesselID)
	truth := map[observation.Channel]float64{
		observation.ChannelViability:  sig.Viability,
		observation.ChannelER:         sig.ER,
		observation.ChannelMito:       sig.Mito,
		observation.ChannelTransport:  sig.Transport,
		observation.ChannelMorphology: sig.Morphology,
		observation.ChannelConfluence: sig.Confluence,
	}

	edge := 1.0
	if pos.Region() == plate.RegionEdge {
		edge = 1 - m.cfg.EdgeEffect
	}

	out := make(map[observation.Channel]float64, len(observation.Channels))
	for _, ch := range observation.Channels {
		batch := m.plateEffect(pos.Plate, ch)
		v := truth[ch]*batch*edge + m.cfg.Background[ch] + r.NormFloat64()*m.cfg.ReadSigma[ch]
		out[ch] = Quantize(v, m.cfg.Quantum[ch])
	}
	return out
}

// plateEffect is a per-(plate, channel) multiplicative batch effect.
func (m *Model) plateEffect(plateID string, ch observation.Channel) float64 {
	r := m.streams.Stream(rngstream.PurposePlateEffects, m.batch+plateID+"/"+string(ch))
	return rngstream.Lognormal(r, 1, m.cfg.PlateEffectCV)
}

// #endregion measure
