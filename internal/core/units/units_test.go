package units

import (
	"errors"
	"testing"
)

func TestConvert(t *testing.T) {
	cases := []struct {
		v    float64
		conv Conversion
		dp   int
		want string
	}{
		{10, MetersPerSecToMilesPerHour, 1, "22.4"},
		{6.8, MetersPerSecToMilesPerHour, 1, "15.2"},
		{40000, MetersToMiles, 1, "24.9"},
		{304.8, MetersToFeet, 0, "1000"},
		{0, MetersToFeet, 0, "0"},
		{5, MetersPerSecToKmPerHour, 1, "18.0"},
		{12345, MetersToKilometers, 1, "12.3"},
		{212.4, MetersToMeters, 0, "212"},
	}
	for _, tc := range cases {
		got, err := Convert(tc.v, tc.conv, tc.dp)
		if err != nil {
			t.Fatalf("Convert(%v,%s): %v", tc.v, tc.conv, err)
		}
		if got != tc.want {
			t.Fatalf("Convert(%v,%s,%d)=%q want %q", tc.v, tc.conv, tc.dp, got, tc.want)
		}
	}
}

func TestConvert_Unknown(t *testing.T) {
	if _, err := Convert(1, Conversion("parsecs-furlongs"), 1); !errors.Is(err, ErrUnknownConversion) {
		t.Fatalf("err=%v want ErrUnknownConversion", err)
	}
}

func TestToFixed_TiesRoundAwayFromZero(t *testing.T) {
	cases := []struct {
		v    float64
		dp   int
		want string
	}{
		{2.5, 0, "3"},
		{0.25, 1, "0.3"},
		{-2.5, 0, "-3"},
		{1.005, 2, "1.00"}, // binary value is just below the tie
		{0.001, 2, "0.00"},
		{123.456, 1, "123.5"},
		{7, 2, "7.00"},
	}
	for _, tc := range cases {
		if got := ToFixed(tc.v, tc.dp); got != tc.want {
			t.Fatalf("ToFixed(%v,%d)=%q want %q", tc.v, tc.dp, got, tc.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[int]string{
		0:      "0:00",
		5:      "0:05",
		61:     "1:01",
		3600:   "1:00:00",
		14639:  "4:03:59",
		443039: "123:03:59",
		-10:    "0:00",
	}
	for in, want := range cases {
		if got := FormatDuration(in); got != want {
			t.Fatalf("FormatDuration(%d)=%q want %q", in, got, want)
		}
	}
}
