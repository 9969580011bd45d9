package rediscache

import "testing"

func TestVectorCodecRoundTrip(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3.4028235e38}
	out, err := decode(encode(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len: want=%d got=%d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("value %d: want=%v got=%v", i, in[i], out[i])
		}
	}
}

func TestDecodeRejectsTruncatedBlob(t *testing.T) {
	if _, err := decode([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for truncated blob")
	}
}
