package audio

import "testing"

func TestInt16BytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 258}
	data := Int16SliceToBytesInto(nil, samples)
	if len(data) != 12 {
		t.Fatalf("len=%d, want 12", len(data))
	}
	if data[10] != 0x02 || data[11] != 0x01 {
		t.Fatalf("little endian bytes=%x, want 0201", data[10:])
	}
	back := BytesToInt16SliceInto(nil, data)
	for i := range samples {
		if back[i] != samples[i] {
			t.Fatalf("sample %d=%d, want %d", i, back[i], samples[i])
		}
	}
}

func TestBytesToInt16OddLength(t *testing.T) {
	got := BytesToInt16SliceInto(nil, []byte{0x01, 0x00, 0x7F})
	if len(got) != 2 || got[0] != 1 || got[1] != 0x7F {
		t.Fatalf("got=%v, want [1 127]", got)
	}
}

func TestFloatConversionsClip(t *testing.T) {
	got := Float32SliceToInt16SliceInto(nil, []float32{2, -2, 0, 0.5})
	want := []int16{32767, -32768, 0, 16383}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d=%d, want %d", i, got[i], want[i])
		}
	}
}

func TestScaleInt16(t *testing.T) {
	samples := []int16{1000, -1000, 32767}
	ScaleInt16(samples, 50)
	if samples[0] != 500 || samples[1] != -500 || samples[2] != 16383 {
		t.Fatalf("scaled=%v", samples)
	}
	ScaleInt16(samples, 100)
	if samples[0] != 500 {
		t.Fatalf("100%% changed samples: %v", samples)
	}
	ScaleInt16(samples, 0)
	for i, s := range samples {
		if s != 0 {
			t.Fatalf("sample %d=%d after mute, want 0", i, s)
		}
	}
}
