package lidmgr

import "testing"

func TestFreeRangesCarveAlignedWithinSingleRange(t *testing.T) {
	f := NewFreeRanges()
	f.Append(Range{Lo: 1, Hi: 0x1F})

	r, ok := f.Carve(4, 4)
	if !ok {
		t.Fatalf("expected carve to succeed")
	}

	if r != (Range{Lo: 4, Hi: 7}) {
		t.Fatalf("expected [4,7], got %+v", r)
	}

	remaining := f.Ranges()
	if len(remaining) != 1 || remaining[0] != (Range{Lo: 8, Hi: 0x1F}) {
		t.Fatalf("unexpected remaining ranges: %+v", remaining)
	}
}

func TestFreeRangesCarveExhaustsRange(t *testing.T) {
	f := NewFreeRanges()
	f.Append(Range{Lo: 4, Hi: 7})

	r, ok := f.Carve(4, 4)
	if !ok || r != (Range{Lo: 4, Hi: 7}) {
		t.Fatalf("unexpected carve result: %+v, %v", r, ok)
	}

	if len(f.Ranges()) != 0 {
		t.Fatalf("expected range list empty after exhausting the only range")
	}
}

func TestFreeRangesCarveSkipsTooSmallRanges(t *testing.T) {
	f := NewFreeRanges()
	f.Append(Range{Lo: 1, Hi: 2})
	f.Append(Range{Lo: 4, Hi: 11})

	r, ok := f.Carve(4, 4)
	if !ok {
		t.Fatalf("expected carve to succeed in the second range")
	}

	if r != (Range{Lo: 4, Hi: 7}) {
		t.Fatalf("expected [4,7], got %+v", r)
	}
}

func TestFreeRangesCarveUnalignedSingleLID(t *testing.T) {
	f := NewFreeRanges()
	f.Append(Range{Lo: 17, Hi: 20})

	r, ok := f.Carve(1, 1)
	if !ok || r != (Range{Lo: 17, Hi: 17}) {
		t.Fatalf("num_lids==1 must bypass alignment, got %+v, %v", r, ok)
	}
}

func TestFreeRangesCarveExhaustion(t *testing.T) {
	f := NewFreeRanges()
	f.Append(Range{Lo: 4, Hi: 15})

	for i := 0; i < 3; i++ {
		if _, ok := f.Carve(4, 4); !ok {
			t.Fatalf("expected carve %d to succeed", i)
		}
	}

	if _, ok := f.Carve(4, 4); ok {
		t.Fatalf("expected exhaustion on 4th carve")
	}
}
