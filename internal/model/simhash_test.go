package model

import "testing"

func TestSimHashIdenticalTokenSetsMatch(t *testing.T) {
	a := ComputeSimHash("Paris trip in March")
	b := ComputeSimHash("march IN paris trip")
	if a != b {
		t.Fatalf("expected equal fingerprints for identical canonical token sets, got %s != %s", a, b)
	}
}

func TestHammingDistanceInRangeForNearDuplicates(t *testing.T) {
	a := ComputeSimHash("Paris trip in March")
	b := ComputeSimHash("Paris trip in March, a short vacation")
	dist, err := HammingDistanceHex(a, b)
	if err != nil {
		t.Fatalf("hamming distance: %v", err)
	}
	if dist > 63 {
		t.Fatalf("expected a sane hamming distance, got %d", dist)
	}
}

func TestSharesPrefix(t *testing.T) {
	if !SharesPrefix("0abc000000000000", "0fff000000000000") {
		t.Fatalf("expected shared leading nibble to report true")
	}
	if SharesPrefix("0abc000000000000", "1abc000000000000") {
		t.Fatalf("expected differing leading nibble to report false")
	}
}
