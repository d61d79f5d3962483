package speech

import (
	"bufio"
	"io"
	"strings"
)

// parseSSE reads server-sent events from reader and invokes fn with each
// complete data payload. fn returning an error stops the scan; io.EOF stops
// it silently (used for the [DONE] sentinel).
func parseSSE(reader io.Reader, fn func(data string) error) error {
	scanner := bufio.NewScanner(reader)
	// Audio deltas are base64 blobs; allow large payload lines.
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)

	var dataLines []string

	flush := func() error {
		if len(dataLines) == 0 {
			return nil
		}
		data := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]
		return fn(data)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}
