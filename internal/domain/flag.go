package domain

// Built-in rule names. These appear verbatim as verdict reasons.
const (
	RuleStructuring = "structuring"
	RuleGeoRisk     = "geo_risk"
	RuleSpike       = "spike"

	// ReasonAnomaly is the reason added when the anomaly model marks a
	// transaction as an outlier. It is not a rule name.
	ReasonAnomaly = "anomaly"
)

// RuleFlag records that a rule fired for a transaction.
// Flags are additive: multiple rules may flag the same transaction and a
// rule never removes another rule's flag.
type RuleFlag struct {
	TxID     string         `json:"txId"`
	RuleName string         `json:"ruleName"`
	Evidence map[string]any `json:"evidence,omitempty"`
}

// AnomalyScore is the fitted model's output for one transaction.
// Score is normalized to [0,1], higher meaning more anomalous, and is
// relative to the batch it was computed over.
type AnomalyScore struct {
	TxID      string  `json:"txId"`
	Score     float64 `json:"score"`
	IsOutlier bool    `json:"isOutlier"`
}
