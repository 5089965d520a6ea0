package contractreview

import (
	"fmt"
	"strings"
)

// Validate checks the fields the extraction schema requires. Normalization
// already drops blank list items, so only partially filled records can fail.
func (r ExtractionRecord) Validate() error {
	for i, c := range r.Clauses {
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("clausulas[%d]: texto is required", i)
		}
	}
	for i, p := range r.Info.Parties {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("partes[%d]: nome is required", i)
		}
	}
	return nil
}

func (a AnalysisEvaluation) Validate() error {
	for i, w := range a.Warnings {
		if strings.TrimSpace(w.Warning) == "" {
			return fmt.Errorf("avisos[%d]: aviso is required", i)
		}
	}
	return nil
}
