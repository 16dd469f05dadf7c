// Package ingest reads raw club records produced by the ingestion passes.
package ingest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/miocrobos/habicht-directory/internal/domain/sourcerecord"
)

const (
	// Stdin is the path that selects standard input.
	Stdin        = "-"
	maxLineBytes = 4 << 20
)

// LineError is a JSON Lines entry that could not be decoded. The rest of
// the input is still read.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

type Batch struct {
	Records   []sourcerecord.RawRecord
	Malformed []LineError
}

// ReadFile reads path, or stdin when path is "-".
func ReadFile(path string) (Batch, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Batch{}, fmt.Errorf("input path is required")
	}
	if path == Stdin {
		return Read(os.Stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return Batch{}, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	batch, err := Read(f)
	if err != nil {
		return Batch{}, fmt.Errorf("read %s: %w", path, err)
	}
	return batch, nil
}

// Read accepts either a JSON array of records or JSON Lines. A malformed
// array fails as a whole; malformed lines are collected and skipped.
func Read(r io.Reader) (Batch, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	first, err := firstNonSpace(br)
	if err == io.EOF {
		return Batch{}, nil
	}
	if err != nil {
		return Batch{}, err
	}

	if first == '[' {
		var records []sourcerecord.RawRecord
		if err := sonic.ConfigDefault.NewDecoder(br).Decode(&records); err != nil {
			return Batch{}, fmt.Errorf("decode record array: %w", err)
		}
		return Batch{Records: records}, nil
	}
	return readLines(br)
}

func readLines(r io.Reader) (Batch, error) {
	var batch Batch

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		var raw sourcerecord.RawRecord
		if err := sonic.Unmarshal(line, &raw); err != nil {
			batch.Malformed = append(batch.Malformed, LineError{Line: lineNo, Err: err})
			continue
		}
		batch.Records = append(batch.Records, raw)
	}
	if err := scanner.Err(); err != nil {
		return batch, fmt.Errorf("scan input at line %d: %w", lineNo+1, err)
	}
	return batch, nil
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}
