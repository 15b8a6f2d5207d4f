package matrixio

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sbinet/npyio"
	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/mat"

	"gopalm/internal/errors"
)

// P-value output transforms
const (
	TransformP        = "p"
	TransformOneMinus = "1-p"
	TransformLog      = "logp"
)

// ApplyPTransform rewrites p-values for output: unchanged, as 1-p, or as -log10(p)
func ApplyPTransform(p []float64, transform string) ([]float64, error) {
	out := make([]float64, len(p))
	switch transform {
	case "", TransformP:
		copy(out, p)
	case TransformOneMinus:
		for i, v := range p {
			out[i] = 1 - v
		}
	case TransformLog:
		for i, v := range p {
			out[i] = -math.Log10(v)
		}
	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unknown p-value transform %q", transform))
	}
	return out, nil
}

// MatrixWriter writes result maps as <prefix>_<name>.<format>
type MatrixWriter struct {
	prefix    string
	format    string
	transform string
	logger    *slog.Logger
}

// NewMatrixWriter creates a writer; format is csv, xlsx or npy
func NewMatrixWriter(prefix, format, transform string, logger *slog.Logger) (*MatrixWriter, error) {
	switch format {
	case TypeCSV, TypeXLSX, TypeNPY:
	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unsupported output format %q", format))
	}
	if _, err := ApplyPTransform(nil, transform); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MatrixWriter{
		prefix:    prefix,
		format:    format,
		transform: transform,
		logger:    logger.With("component", "matrixio"),
	}, nil
}

// Path returns the output file for a map name
func (w *MatrixWriter) Path(name string) string {
	return fmt.Sprintf("%s_%s.%s", w.prefix, name, w.format)
}

// WriteMap writes values as a single row
func (w *MatrixWriter) WriteMap(name string, values []float64) (string, error) {
	if len(values) == 0 {
		return "", errors.InvalidInput(fmt.Sprintf("map %s is empty", name))
	}
	return w.WriteMatrix(name, mat.NewDense(1, len(values), append([]float64(nil), values...)))
}

// WritePMap applies the configured transform, then writes p as a single row
func (w *MatrixWriter) WritePMap(name string, p []float64) (string, error) {
	out, err := ApplyPTransform(p, w.transform)
	if err != nil {
		return "", err
	}
	return w.WriteMap(name, out)
}

// WriteMatrix writes m in the configured format
func (w *MatrixWriter) WriteMatrix(name string, m *mat.Dense) (string, error) {
	path := w.Path(name)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", errors.IOError(dir, err)
		}
	}

	var err error
	switch w.format {
	case TypeXLSX:
		err = writeXLSX(path, m)
	default:
		err = writeFile(path, func(f io.Writer) error {
			if w.format == TypeNPY {
				return npyio.Write(f, m)
			}
			return writeCSV(f, m)
		})
	}
	if err != nil {
		return "", errors.IOError(path, err)
	}

	rows, cols := m.Dims()
	w.logger.Debug("map written", "path", path, "rows", rows, "cols", cols)
	return path, nil
}

func writeFile(path string, encode func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeCSV(dst io.Writer, m *mat.Dense) error {
	cw := csv.NewWriter(dst)
	rows, cols := m.Dims()
	record := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			record[j] = formatCell(m.At(i, j))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(path string, m *mat.Dense) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := make([]interface{}, cols)
		for j := 0; j < cols; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				row[j] = formatCell(v)
			} else {
				row[j] = v
			}
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

func formatCell(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return strings.TrimSpace(strconv.FormatFloat(v, 'g', -1, 64))
}
