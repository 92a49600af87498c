package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/claude/formcheck/internal/pose"
)

// maxLineBytes bounds one JSONL line; a 33-landmark frame is well under this.
const maxLineBytes = 1 << 20

// ReadTrace decodes a JSONL landmark trace, one frame per line. Blank lines
// and lines starting with '#' are skipped.
func ReadTrace(r io.Reader) ([]pose.Frame, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	var frames []pose.Frame
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 || b[0] == '#' {
			continue
		}
		var f pose.Frame
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		frames = append(frames, f)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading trace: %w", err)
	}
	return frames, nil
}

// ReadTraceFile reads the trace stored at path.
func ReadTraceFile(path string) ([]pose.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTrace(f)
}
