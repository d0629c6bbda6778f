package reading

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Batch is an ordered, non-empty sequence of Readings tagged with the
// offset token it will claim on append.
type Batch struct {
	Rows        []Reading
	OffsetToken string
}

// EncodeNDJSON serializes rows as newline-delimited JSON, one compact
// object per line, matching the wire format.
func EncodeNDJSON(rows []Reading) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, r := range rows {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("encoding row %d: %w", i, err)
		}
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeNDJSON parses newline-delimited JSON rows, for tests and for any
// downstream consumer that needs to round-trip a batch.
func DecodeNDJSON(r io.Reader) ([]Reading, error) {
	var rows []Reading
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var row Reading
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("decoding row: %w", err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning ndjson: %w", err)
	}
	return rows, nil
}
