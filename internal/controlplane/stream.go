package controlplane

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"time"
)

// lineDecoder reads newline-delimited JSON values from an io.Reader.
type lineDecoder struct {
	scanner *bufio.Scanner
}

func newLineDecoder(r io.Reader) *lineDecoder {
	return &lineDecoder{scanner: bufio.NewScanner(r)}
}

// next decodes the next line into v. ok is false once the stream is
// exhausted.
func (d *lineDecoder) next(v interface{}) (ok bool, err error) {
	if !d.scanner.Scan() {
		return false, d.scanner.Err()
	}
	line := d.scanner.Bytes()
	if len(line) == 0 {
		return true, nil
	}
	if err := json.Unmarshal(line, v); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSONLine(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func timeoutCtx(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
