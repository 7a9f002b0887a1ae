package opus

import "testing"

func TestInt16sToBytes(t *testing.T) {
	t.Parallel()

	got := int16sToBytes([]int16{0x0102, -2})
	want := []byte{0x02, 0x01, 0xfe, 0xff}
	if len(got) != len(want) {
		t.Fatalf("expected %d bytes, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d: want %#x, got %#x", i, want[i], got[i])
		}
	}
}

func TestInt16sToBytes_Empty(t *testing.T) {
	t.Parallel()

	if got := int16sToBytes(nil); len(got) != 0 {
		t.Errorf("expected empty output, got %d bytes", len(got))
	}
}
