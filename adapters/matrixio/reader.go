// Package matrixio reads and writes the numeric matrices consumed and produced by a
// permutation run: delimited text, Excel workbooks and NumPy arrays.
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
	"time"

	"github.com/sbinet/npyio"
	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/mat"

	"gopalm/internal/errors"
)

// File types understood by MatrixReader and MatrixWriter
const (
	TypeCSV  = "csv"
	TypeText = "txt"
	TypeXLSX = "xlsx"
	TypeNPY  = "npy"
)

// FileType maps a path to its matrix file type by extension
func FileType(path string) (string, error) {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case TypeCSV, TypeText, TypeXLSX, TypeNPY:
		return ext, nil
	case "tsv":
		return TypeText, nil
	default:
		return "", errors.InvalidInput(fmt.Sprintf("%s: unsupported matrix file type %q", path, ext))
	}
}

// MatrixReader loads one numeric matrix from a file
type MatrixReader struct {
	filePath string
	fileType string
	logger   *slog.Logger
}

// NewMatrixReader creates a reader for path; the type is inferred from the extension
func NewMatrixReader(filePath string, logger *slog.Logger) (*MatrixReader, error) {
	fileType, err := FileType(filePath)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MatrixReader{
		filePath: filePath,
		fileType: fileType,
		logger:   logger.With("component", "matrixio", "file", filePath),
	}, nil
}

// ReadMatrix reads the file as rows × columns. A leading non-numeric row in text and
// Excel files is taken as a header and skipped.
func (r *MatrixReader) ReadMatrix() (*mat.Dense, error) {
	if _, err := os.Stat(r.filePath); err != nil {
		return nil, errors.IOError(r.filePath, err)
	}

	start := time.Now()
	var (
		m   *mat.Dense
		err error
	)
	switch r.fileType {
	case TypeNPY:
		m, err = r.readNPY()
	case TypeXLSX:
		var rows [][]string
		if rows, err = r.readExcelRows(); err == nil {
			m, err = r.parseRows(rows)
		}
	default:
		var rows [][]string
		if rows, err = r.readTextRows(); err == nil {
			m, err = r.parseRows(rows)
		}
	}
	if err != nil {
		return nil, err
	}

	rows, cols := m.Dims()
	r.logger.Debug("matrix loaded", "type", r.fileType, "rows", rows, "cols", cols,
		"elapsed", time.Since(start).String())
	return m, nil
}

// ReadVector reads a single row or column as a flat vector
func (r *MatrixReader) ReadVector() ([]float64, error) {
	m, err := r.ReadMatrix()
	if err != nil {
		return nil, err
	}
	rows, cols := m.Dims()
	switch {
	case cols == 1:
		return mat.Col(nil, 0, m), nil
	case rows == 1:
		return mat.Row(nil, 0, m), nil
	default:
		return nil, errors.ShapeMismatch(r.filePath, "expected a single row or column, got %d×%d", rows, cols)
	}
}

// ReadLabels reads an integer vector such as exchangeability blocks or F-test groups
func (r *MatrixReader) ReadLabels() ([]int, error) {
	values, err := r.ReadVector()
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(values))
	for i, v := range values {
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return nil, errors.InvalidInput(fmt.Sprintf("%s: entry %d (%v) is not an integer label", r.filePath, i+1, v))
		}
		labels[i] = int(v)
	}
	return labels, nil
}

// ReadMask reads a 0/1 feature mask; any nonzero entry selects the feature
func (r *MatrixReader) ReadMask() ([]bool, error) {
	values, err := r.ReadVector()
	if err != nil {
		return nil, err
	}
	mask := make([]bool, len(values))
	for i, v := range values {
		mask[i] = v != 0 && !math.IsNaN(v)
	}
	return mask, nil
}

// readExcelRows reads the first sheet of a workbook
func (r *MatrixReader) readExcelRows() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, errors.IOError(r.filePath, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("%s: workbook has no sheets", r.filePath))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.IOError(r.filePath, err)
	}
	return rows, nil
}

// readTextRows splits on commas when present, otherwise on whitespace
func (r *MatrixReader) readTextRows() ([][]string, error) {
	raw, err := os.ReadFile(r.filePath)
	if err != nil {
		return nil, errors.IOError(r.filePath, err)
	}
	text := string(raw)
	if strings.Contains(text, ",") {
		reader := csv.NewReader(strings.NewReader(text))
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true
		rows, err := reader.ReadAll()
		if err != nil {
			return nil, errors.Wrapf(errors.InvalidInput(err.Error()), "%s: malformed CSV", r.filePath)
		}
		return rows, nil
	}

	var rows [][]string
	for _, line := range strings.Split(text, "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			rows = append(rows, fields)
		}
	}
	return rows, nil
}

// parseRows converts string cells into a dense matrix
func (r *MatrixReader) parseRows(rows [][]string) (*mat.Dense, error) {
	rows = dropEmptyRows(rows)
	if len(rows) > 0 && !numericRow(rows[0]) {
		rows = rows[1:]
	}
	if len(rows) == 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("%s: no numeric rows", r.filePath))
	}

	cols := len(rows[0])
	m := mat.NewDense(len(rows), cols, nil)
	for i, row := range rows {
		if len(row) != cols {
			return nil, errors.ShapeMismatch(r.filePath, "row %d has %d values, expected %d", i+1, len(row), cols)
		}
		for j, cell := range row {
			v, err := parseCell(cell)
			if err != nil {
				return nil, errors.InvalidInput(fmt.Sprintf("%s: row %d column %d: %q is not a number", r.filePath, i+1, j+1, cell))
			}
			m.Set(i, j, v)
		}
	}
	return m, nil
}

func dropEmptyRows(rows [][]string) [][]string {
	out := rows[:0:0]
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

func numericRow(row []string) bool {
	for _, cell := range row {
		if _, err := parseCell(cell); err != nil {
			return false
		}
	}
	return true
}

func parseCell(cell string) (float64, error) {
	s := strings.TrimSpace(cell)
	switch strings.ToLower(s) {
	case "nan":
		return math.NaN(), nil
	case "inf", "+inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	}
	return strconv.ParseFloat(s, 64)
}

// readNPY reads a one- or two-dimensional array; one-dimensional arrays become a column
func (r *MatrixReader) readNPY() (*mat.Dense, error) {
	f, err := os.Open(r.filePath)
	if err != nil {
		return nil, errors.IOError(r.filePath, err)
	}
	defer f.Close()
	return decodeNPY(f, r.filePath)
}

func decodeNPY(src io.Reader, name string) (*mat.Dense, error) {
	reader, err := npyio.NewReader(src)
	if err != nil {
		return nil, errors.Wrapf(errors.InvalidInput(err.Error()), "%s: invalid npy header", name)
	}

	shape := reader.Header.Descr.Shape
	var rows, cols int
	switch len(shape) {
	case 1:
		rows, cols = shape[0], 1
	case 2:
		rows, cols = shape[0], shape[1]
	default:
		return nil, errors.ShapeMismatch(name, "expected a 1D or 2D array, got shape %v", shape)
	}

	flat, err := readFlat(reader)
	if err != nil {
		return nil, errors.Wrapf(errors.InvalidInput(err.Error()), "%s: cannot decode array", name)
	}
	if len(flat) != rows*cols {
		return nil, errors.ShapeMismatch(name, "holds %d values for shape %v", len(flat), shape)
	}

	if !reader.Header.Descr.Fortran || len(shape) == 1 {
		return mat.NewDense(rows, cols, flat), nil
	}
	// column-major
	m := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			m.Set(i, j, flat[j*rows+i])
		}
	}
	return m, nil
}

// readFlat decodes the array body as float64 whatever its numeric dtype
func readFlat(reader *npyio.Reader) ([]float64, error) {
	dtype := strings.TrimLeft(reader.Header.Descr.Type, "<>|=")
	switch dtype {
	case "f8":
		var v []float64
		err := reader.Read(&v)
		return v, err
	case "f4":
		var v []float32
		if err := reader.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	case "i8":
		var v []int64
		if err := reader.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	case "i4":
		var v []int32
		if err := reader.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	case "u1":
		var v []uint8
		if err := reader.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	case "b1":
		var v []bool
		if err := reader.Read(&v); err != nil {
			return nil, err
		}
		out := make([]float64, len(v))
		for i, b := range v {
			if b {
				out[i] = 1
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported dtype %q", reader.Header.Descr.Type)
	}
}

func widen[T float32 | int64 | int32 | uint8](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
