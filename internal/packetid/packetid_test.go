package packetid

import "testing"

func TestAddWraps(t *testing.T) {
	cases := []struct {
		id    ID
		delta uint32
		want  ID
	}{
		{0, 1, 1},
		{Space - 1, 1, 0},
		{Space - 1, 2, 1},
		{100, 0, 100},
	}
	for _, c := range cases {
		if got := Add(c.id, c.delta); got != c.want {
			t.Errorf("Add(%d, %d) = %d, want %d", c.id, c.delta, got, c.want)
		}
	}
}

func TestSubWraps(t *testing.T) {
	cases := []struct {
		a, b ID
		want uint32
	}{
		{1, 0, 1},
		{0, 1, Space - 1},
		{0, 0, 0},
		{5, Space - 5, 10},
	}
	for _, c := range cases {
		if got := Sub(c.a, c.b); got != c.want {
			t.Errorf("Sub(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestInWindow(t *testing.T) {
	cases := []struct {
		id, base ID
		win      uint32
		want     bool
	}{
		{0, 0, 4096, true},
		{4095, 0, 4096, true},
		{4096, 0, 4096, false},
		{Space - 1, 0, 4096, false},
		// wrap around: base near top of space, id wrapped to 0
		{0, Space - 1, 4096, true},
	}
	for _, c := range cases {
		if got := InWindow(c.id, c.base, c.win); got != c.want {
			t.Errorf("InWindow(%d, %d, %d) = %v, want %v", c.id, c.base, c.win, got, c.want)
		}
	}
}

func TestFrameWraps(t *testing.T) {
	var base FrameID = 0xFFFFFFFE
	id := FrameAdd(base, 3)
	if id != 1 {
		t.Errorf("FrameAdd wrap = %d, want 1", id)
	}
	if got := FrameSub(id, base); got != 3 {
		t.Errorf("FrameSub = %d, want 3", got)
	}
}
