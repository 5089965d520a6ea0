package contractreview

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMergeEmptyIsAllChunksFailed(t *testing.T) {
	if _, err := Merge(nil); !errors.Is(err, ErrAllChunksFailed) {
		t.Fatalf("Merge(nil) err = %v, want ErrAllChunksFailed", err)
	}
	if KindOf(ErrAllChunksFailed) != KindAllChunksFailed {
		t.Fatalf("unexpected kind %q", KindOf(ErrAllChunksFailed))
	}
}

func TestMergeSingle(t *testing.T) {
	e1 := ExtractionRecord{
		Topics:  []string{"objeto"},
		Clauses: []Clause{{Number: "1", Title: "DO OBJETO", Text: "Prestação de serviços"}},
		Info:    ExtractedInfo{Parties: []Party{{Name: "ACME"}}},
	}
	got, err := Merge([]ExtractionRecord{e1})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if diff := cmp.Diff(e1, got); diff != "" {
		t.Fatalf("Merge([e1]) mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeConcatenatesInOrderWithoutDedup(t *testing.T) {
	e1 := ExtractionRecord{
		Topics:    []string{"objeto", "prazo"},
		KeyPoints: []string{"multa"},
		Info: ExtractedInfo{
			Values: []MonetaryValue{{Description: "Mensalidade", Value: "R$ 1.000"}},
		},
	}
	e2 := ExtractionRecord{
		Topics:  []string{"prazo"},
		Clauses: []Clause{{Title: "DA MULTA", Text: "10%"}},
		Info: ExtractedInfo{
			Dates:  []DateEntry{{Description: "Início", Date: "01/01/2025"}},
			Values: []MonetaryValue{{Description: "Multa", Value: "10%"}},
		},
	}
	got, err := Merge([]ExtractionRecord{e1, e2})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := ExtractionRecord{
		Topics:    []string{"objeto", "prazo", "prazo"},
		Clauses:   []Clause{{Title: "DA MULTA", Text: "10%"}},
		KeyPoints: []string{"multa"},
		Info: ExtractedInfo{
			Values: []MonetaryValue{{Description: "Mensalidade", Value: "R$ 1.000"}, {Description: "Multa", Value: "10%"}},
			Dates:  []DateEntry{{Description: "Início", Date: "01/01/2025"}},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeDoesNotAliasInputs(t *testing.T) {
	e1 := ExtractionRecord{Topics: make([]string, 1, 4)}
	e1.Topics[0] = "a"
	got, err := Merge([]ExtractionRecord{e1, {Topics: []string{"b"}}})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	got.Topics[0] = "changed"
	if e1.Topics[0] != "a" {
		t.Fatal("Merge result shares backing storage with its input")
	}
}
