package service

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanLines(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		given string
		then  []string
	}{
		{"", nil},
		{"one", []string{"one"}},
		{"one\ntwo\n", []string{"one", "two"}},
		{"one\r\ntwo\r\n", []string{"one", "two"}},
		{"10%\r20%\r30%\ndone", []string{"10%", "20%", "30%", "done"}},
		{"a\n\nb", []string{"a", "", "b"}},
		{"trailing\r", []string{"trailing"}},
	}

	for _, tc := range testCases {
		t.Run(tc.given, func(t *testing.T) {
			scanner := bufio.NewScanner(strings.NewReader(tc.given))
			scanner.Split(scanLines)
			var got []string
			for scanner.Scan() {
				got = append(got, scanner.Text())
			}
			require.NoError(t, scanner.Err())
			require.Equal(t, tc.then, got)
		})
	}
}

func TestSplitLines(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		given string
		then  []string
	}{
		{"short\n" + strings.Repeat("x", 20) + "\nafter\r\nend", []string{"short", "xxxxxxxx [truncated]", "after", "end"}},
		{strings.Repeat("y", 30), []string{"yyyyyyyy [truncated]"}},
		{strings.Repeat("z", 12) + "\r\n\ntail", []string{"zzzzzzzz [truncated]", "", "tail"}},
	}

	for _, tc := range testCases {
		t.Run(tc.then[0], func(t *testing.T) {
			scanner := bufio.NewScanner(strings.NewReader(tc.given))
			scanner.Buffer(make([]byte, 0, 4), 8)
			scanner.Split(splitLines(8))
			var got []string
			for scanner.Scan() {
				got = append(got, scanner.Text())
			}
			require.NoError(t, scanner.Err())
			require.Equal(t, tc.then, got)
		})
	}
}

func TestPhase(t *testing.T) {
	t.Parallel()
	require.False(t, PhaseInactive.Active())
	require.True(t, PhasePreparingData.Active())
	require.True(t, PhaseStarting.Active())
	require.True(t, PhaseRunning.Active())
	require.False(t, PhaseSucceeded.Active())
	require.False(t, PhaseFailed.Active())

	require.Equal(t, "training", PhaseStarting.State())
	require.Equal(t, "training", PhaseRunning.State())
	require.Equal(t, "preparing", PhasePreparingData.State())
	require.Equal(t, "inactive", PhaseInactive.State())
	require.Equal(t, "running", PhaseRunning.String())
}

func TestLineLog(t *testing.T) {
	t.Parallel()
	var log LineLog
	require.Empty(t, log.String())
	log.Append("one")
	log.Append("two")
	lines := log.Lines()
	lines[0] = "changed"
	require.Equal(t, "one\ntwo", log.String())
	require.Equal(t, 2, log.Len())
}
