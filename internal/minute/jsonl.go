package minute

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineBytes bounds one serialized record. A full 1/3-octave map stays
// well under 4 KiB; the margin covers future descriptor blocks.
const maxLineBytes = 1 << 20

// WriteRecords writes records as JSON Lines, one object per line.
func WriteRecords(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("minute: write record %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// ReadRecords reads a JSON Lines stream of records. Blank lines are
// skipped; a malformed line fails with its line number.
func ReadRecords(r io.Reader) ([]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var out []Record
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("minute: line %d: %w", lineNo, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("minute: read: %w", err)
	}
	return out, nil
}
