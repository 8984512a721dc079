package mcp

import (
	"fmt"

	"btc-stream/internal/domain"
)

const maxTailLimit = 5000

type tablesListInput struct{}

type tablesListOutput struct {
	Tables []string `json:"tables"`
}

type tableFetchInput struct {
	Table   string `json:"table" jsonschema:"day table name, e.g. btc_2024_01_31"`
	Tail    int    `json:"tail,omitempty" jsonschema:"optional number of most recent points to return, max 5000"`
	AfterID int64  `json:"after_id,omitempty" jsonschema:"optional id; only points with a larger id are returned"`
}

// point mirrors domain.DataPoint with a float value so the tool output
// schema stays a plain number.
type point struct {
	ID    int64   `json:"id"`
	Value float64 `json:"value"`
}

type tableFetchOutput struct {
	Table  string  `json:"table"`
	Total  int     `json:"total"`
	Points []point `json:"points"`
}

type tableSummaryInput struct {
	Table string `json:"table" jsonschema:"day table name, e.g. btc_2024_01_31"`
}

type tableSummaryOutput struct {
	Summary domain.TableSummary `json:"summary"`
}

// requireTableName passes the name through untouched so the query layer's
// validation sees exactly what the client sent.
func requireTableName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("table is required")
	}
	return name, nil
}

func normalizeTail(tail int) (int, error) {
	if tail < 0 {
		return 0, fmt.Errorf("tail must be positive")
	}
	if tail > maxTailLimit {
		return maxTailLimit, nil
	}
	return tail, nil
}

// selectPoints applies the after_id filter and then keeps the last tail
// points. A zero tail keeps everything.
func selectPoints(all []domain.DataPoint, afterID int64, tail int) []point {
	filtered := all
	if afterID > 0 {
		filtered = make([]domain.DataPoint, 0, len(all))
		for _, p := range all {
			if p.SequenceID > afterID {
				filtered = append(filtered, p)
			}
		}
	}
	if tail > 0 && len(filtered) > tail {
		filtered = filtered[len(filtered)-tail:]
	}

	out := make([]point, len(filtered))
	for i, p := range filtered {
		out[i] = point{ID: p.SequenceID, Value: p.Value.InexactFloat64()}
	}
	return out
}
