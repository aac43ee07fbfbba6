package indexer

import (
	"reflect"
	"testing"
)

func TestSplitRange(t *testing.T) {
	got, err := SplitRange(100, 105, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{
		{From: 100, To: 101},
		{From: 102, To: 103},
		{From: 104, To: 105},
	}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestSplitRangeSingle(t *testing.T) {
	got, err := SplitRange(5, 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{{From: 5, To: 5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestSplitRangeInvalid(t *testing.T) {
	if _, err := SplitRange(10, 9, 1); err == nil {
		t.Fatalf("expected error for invalid range")
	}
	if _, err := SplitRange(1, 10, 0); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}

func TestSplitRangeCoversEveryBlock(t *testing.T) {
	got, err := SplitRange(1, 10, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var total uint64
	next := uint64(1)
	for _, r := range got {
		if r.From != next {
			t.Fatalf("gap before %+v", r)
		}
		total += r.Len()
		next = r.To + 1
	}
	if total != 10 || len(got) != 4 {
		t.Fatalf("unexpected split: %+v", got)
	}
}

func TestSplitRangeNearMaxUint64(t *testing.T) {
	const maxBlock = ^uint64(0)
	got, err := SplitRange(maxBlock-2, maxBlock, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []BlockRange{{From: maxBlock - 2, To: maxBlock - 1}, {From: maxBlock, To: maxBlock}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}
