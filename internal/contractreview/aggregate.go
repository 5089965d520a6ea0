package contractreview

// Merge concatenates every list of every record, in input order. Duplicates
// are kept. An empty input means no chunk survived extraction and is
// reported as ErrAllChunksFailed rather than as an empty success.
func Merge(records []ExtractionRecord) (ExtractionRecord, error) {
	if len(records) == 0 {
		return ExtractionRecord{}, ErrAllChunksFailed
	}
	var out ExtractionRecord
	for _, r := range records {
		out.Topics = append(out.Topics, r.Topics...)
		out.Clauses = append(out.Clauses, r.Clauses...)
		out.KeyPoints = append(out.KeyPoints, r.KeyPoints...)
		out.Info.Parties = append(out.Info.Parties, r.Info.Parties...)
		out.Info.Values = append(out.Info.Values, r.Info.Values...)
		out.Info.Dates = append(out.Info.Dates, r.Info.Dates...)
	}
	return out, nil
}
