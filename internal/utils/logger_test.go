package utils

import (
	"bytes"
	"os"
	"regexp"
	"testing"

	"github.com/rs/zerolog/log"
)

func TestSetLogOutputRedirectsAndKeepsTimeFormat(t *testing.T) {
	var buf bytes.Buffer
	SetLogOutput(&buf)
	t.Cleanup(func() { SetLogOutput(os.Stderr) })

	log.Error().Msg("redirected line")
	out := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte("redirected line")) {
		t.Fatalf("log line did not reach the redirected writer: %q", out)
	}
	// same "2006-01-02 15:04:05" stamp as the console logger, no T separator
	if !regexp.MustCompile(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`).MatchString(out) {
		t.Errorf("timestamp not in date-time format: %q", out)
	}
}
