package media

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"10.5", 10.5},
		{"0", 0},
		{"59.999", 59.999},
		{"1:05.3", 65.3},
		{"0:30", 30},
		{"01:10:30.555", 4230.555},
		{"2:00:00", 7200},
		{" 45 ", 45},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, err := ParseTimestamp(c.in)
			require.NoError(t, err)
			require.InDelta(t, c.want, got, 1e-9)
		})
	}
}

func TestParseTimestampRejectsNonTimes(t *testing.T) {
	bad := []string{
		"",
		"   ",
		"abc",
		"1:60.0",       // seconds carry
		"1:75:00",      // minutes carry
		"-5",           // negative seconds
		"1:-5",         // negative embedded field
		"1:2:3:4",      // too many separators
		"1.5:30",       // fractional minutes
		"10:30:15:05.5",
	}
	for _, in := range bad {
		t.Run(in, func(t *testing.T) {
			_, err := ParseTimestamp(in)
			require.Error(t, err)
		})
	}
}
