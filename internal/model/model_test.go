package model

import (
	"testing"
	"time"
)

func TestInQuietWindowCrossingMidnight(t *testing.T) {
	start := TimeOfDay{Hour: 22, Minute: 0}
	end := TimeOfDay{Hour: 7, Minute: 0}

	cases := []struct {
		tod  TimeOfDay
		want bool
	}{
		{TimeOfDay{Hour: 3, Minute: 0}, true},   // inside the wrap
		{TimeOfDay{Hour: 23, Minute: 0}, true},  // inside the wrap, before midnight
		{TimeOfDay{Hour: 12, Minute: 0}, false}, // outside
		{TimeOfDay{Hour: 22, Minute: 0}, true},  // boundary
		{TimeOfDay{Hour: 7, Minute: 0}, true},   // boundary
		{TimeOfDay{Hour: 7, Minute: 1}, false},
	}
	for _, c := range cases {
		got := InQuietWindow(c.tod, start, end)
		if got != c.want {
			t.Errorf("InQuietWindow(%v, %v, %v) = %v, want %v", c.tod, start, end, got, c.want)
		}
	}
}

func TestInQuietWindowNoWrap(t *testing.T) {
	start := TimeOfDay{Hour: 1, Minute: 0}
	end := TimeOfDay{Hour: 5, Minute: 0}
	if !InQuietWindow(TimeOfDay{Hour: 3, Minute: 0}, start, end) {
		t.Fatal("03:00 should be inside 01:00-05:00")
	}
	if InQuietWindow(TimeOfDay{Hour: 6, Minute: 0}, start, end) {
		t.Fatal("06:00 should be outside 01:00-05:00")
	}
}

func TestUserOverdueAt(t *testing.T) {
	u := User{CycleDays: 7, GraceHours: 24}
	if _, ok := u.OverdueAt(); ok {
		t.Fatal("user with no last check-in must never be overdue")
	}
}

func TestContactEligible(t *testing.T) {
	c := Contact{ConsentStatus: ConsentApproved}
	now := time.Now()
	if !c.Eligible(now) {
		t.Fatal("approved contact with no expiry should be eligible")
	}
	c.ConsentStatus = ConsentPending
	if c.Eligible(now) {
		t.Fatal("pending contact should not be eligible")
	}
}
