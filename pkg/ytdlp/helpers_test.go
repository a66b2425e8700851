package ytdlp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamWriter_SplitsOnCRAndLF(t *testing.T) {
	var buf bytes.Buffer
	var lines []string
	w := &streamWriter{
		stream: "stdout",
		callback: func(stream string, line string) {
			lines = append(lines, stream+":"+line)
		},
		buffer: &buf,
	}

	_, err := w.Write([]byte("a\rb\nc\r\nd"))
	require.NoError(t, err)

	// No delimiter after trailing "d" yet.
	require.Equal(t, []string{"stdout:a", "stdout:b", "stdout:c"}, lines)

	_, err = w.Write([]byte("\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"stdout:a", "stdout:b", "stdout:c", "stdout:d"}, lines)

	require.Equal(t, "a\rb\nc\r\nd\n", buf.String())
}

func TestWrapExecError_TrimsOutput(t *testing.T) {
	err := wrapExecError("yt-dlp", []string{"--version"}, []byte(" out \n"), []byte(" err \n"), errors.New("boom"))
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, "yt-dlp", ee.Cmd)
	require.Equal(t, []string{"--version"}, ee.Args)
	require.Equal(t, 0, ee.ExitCode)
	require.Equal(t, "out", ee.Stdout)
	require.Equal(t, "err", ee.Stderr)
	require.Equal(t, "boom", ee.Cause.Error())
}

func TestExecError_Classification(t *testing.T) {
	tests := []struct {
		stderr      string
		unavailable bool
		noFormat    bool
	}{
		{"ERROR: [youtube] x: Video unavailable", true, false},
		{"ERROR: [youtube] x: Private video. Sign in if you've been granted access", true, false},
		{"ERROR: [youtube] x: Requested format is not available", false, true},
		{"ERROR: unable to download webpage: HTTP Error 503", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.stderr, func(t *testing.T) {
			ee := &ExecError{Stderr: tt.stderr}
			require.Equal(t, tt.unavailable, ee.Unavailable())
			require.Equal(t, tt.noFormat, ee.NoFormat())
		})
	}
}

func TestLastErrorLine(t *testing.T) {
	stderr := "WARNING: something\nERROR: the real problem\n[debug] trailing"
	require.Equal(t, "ERROR: the real problem", lastErrorLine(stderr))
	require.Equal(t, "plain", lastErrorLine("plain\n"))
}
