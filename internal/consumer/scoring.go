package consumer

// ScoreWeights are the pluggable coefficients of the scoring function. The
// exact values are product-tunable configuration, not part of the pipeline
// design.
type ScoreWeights struct {
	Like float64 `mapstructure:"like"`
	View float64 `mapstructure:"view"`
	// Sale scales quantity x unit price into a score contribution.
	Sale float64 `mapstructure:"sale"`
}

func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Like: 2, View: 1, Sale: 0.01}
}

// Scorer computes the ranking-score contribution of one event from its kind
// and magnitude.
type Scorer interface {
	LikeScore() float64
	ViewScore() float64
	SaleScore(quantity int64, unitPrice float64) float64
}

type weightedScorer struct {
	weights ScoreWeights
}

func NewScorer(weights ScoreWeights) Scorer {
	return &weightedScorer{weights: weights}
}

func (s *weightedScorer) LikeScore() float64 { return s.weights.Like }
func (s *weightedScorer) ViewScore() float64 { return s.weights.View }

func (s *weightedScorer) SaleScore(quantity int64, unitPrice float64) float64 {
	return float64(quantity) * unitPrice * s.weights.Sale
}
