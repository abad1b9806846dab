package billboard

import "testing"

func TestSlotCapacity(t *testing.T) {
	cases := []struct {
		name     string
		wallArea float64
		slotArea float64
		maxSlots int
		want     int
	}{
		{"tiny building floors to minimum", 96, 320, 8, 1},
		{"one slot exactly", 320, 320, 8, 1},
		{"just under two", 639, 320, 8, 1},
		{"two slots", 640, 320, 8, 2},
		{"mid-size tower", 2000, 320, 8, 6},
		{"skyscraper capped", 9600, 320, 8, 8},
		{"no cap", 9600, 320, 0, 30},
		{"zero slot area falls back to one", 2000, 0, 8, 1},
	}

	for _, tc := range cases {
		if got := SlotCapacity(tc.wallArea, tc.slotArea, tc.maxSlots); got != tc.want {
			t.Errorf("%s: SlotCapacity(%v, %v, %d) = %d, want %d",
				tc.name, tc.wallArea, tc.slotArea, tc.maxSlots, got, tc.want)
		}
	}
}
