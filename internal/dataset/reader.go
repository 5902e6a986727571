// Package dataset reads and writes the per-frame EAR and label files and turns them
// into labeled training windows.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrMalformedRow is returned when a line does not split into the expected columns.
var ErrMalformedRow = errors.New("malformed row")

// DefaultLabelColumn is the 0-based column holding the label in the eyeblink8 label files.
const DefaultLabelColumn = 3

// ReadEARSeries parses "frame_index:ear_value" lines. Row order defines the series index.
func ReadEARSeries(r io.Reader) ([]float64, error) {
	var out []float64
	err := scanRows(r, func(lineNo int, fields []string) error {
		if len(fields) < 2 {
			return fmt.Errorf("%w: line %d: want frame:ear, got %q", ErrMalformedRow, lineNo, strings.Join(fields, ":"))
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return fmt.Errorf("%w: line %d: bad EAR value %q: %v", ErrMalformedRow, lineNo, fields[1], err)
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// ReadLabels parses ':'-delimited rows and returns the value of column for each row.
func ReadLabels(r io.Reader, column int) ([]string, error) {
	if column < 0 {
		return nil, fmt.Errorf("label column must be >= 0, got %d", column)
	}
	var out []string
	err := scanRows(r, func(lineNo int, fields []string) error {
		if len(fields) <= column {
			return fmt.Errorf("%w: line %d: %d columns, label column is %d", ErrMalformedRow, lineNo, len(fields), column)
		}
		out = append(out, strings.TrimSpace(fields[column]))
		return nil
	})
	return out, err
}

// scanRows splits each line on ':' and hands it to fn. Blank lines are allowed only at the end
// of the input; anywhere else they would shift the frame alignment.
func scanRows(r io.Reader, fn func(lineNo int, fields []string) error) error {
	scanner := bufio.NewScanner(r)
	lineNo, blankAt := 0, 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if strings.TrimSpace(line) == "" {
			if blankAt == 0 {
				blankAt = lineNo
			}
			continue
		}
		if blankAt != 0 {
			return fmt.Errorf("%w: line %d: blank line inside the series", ErrMalformedRow, blankAt)
		}
		if err := fn(lineNo, strings.Split(line, ":")); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// LoadEARFile reads an EAR series from path.
func LoadEARFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	v, err := ReadEARSeries(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// LoadLabelFile reads a label series from path.
func LoadLabelFile(path string, column int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	v, err := ReadLabels(f, column)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}
