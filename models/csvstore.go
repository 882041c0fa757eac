package models

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Columns is the fixed on-disk column order.
var Columns = []string{
	"visit_id", "client_id", "Date", "Direction", "ClientName", "Phone",
	"Service", "Price", "ReferredBy", "StudyPlace", "VkLink", "MailingConsent",
}

// identity columns may be absent in legacy files and are backfilled on load
var identityColumns = map[string]bool{"visit_id": true, "client_id": true}

// Store is what the ledger needs from persistence.
type Store interface {
	Load() (*Table, error)
	Save(t *Table) error
}

// CSVStore keeps the table in a single UTF-8 CSV file.
type CSVStore struct {
	path string
}

func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path}
}

func (s *CSVStore) Path() string {
	return s.path
}

// Load reads the file. A missing file is a fresh install and yields an empty
// table. A legacy file without identity columns is upgraded and written back
// once before returning.
func (s *CSVStore) Load() (*Table, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewTable(), nil
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrPersistence, s.path, err)
	}
	visits, backfilled, err := ReadCSV(f)
	// файл закрываем до rename в Save
	f.Close()
	if err != nil {
		return nil, err
	}

	table := NewTable(visits...)
	if backfilled {
		if err := s.Save(table); err != nil {
			return nil, fmt.Errorf("persist backfilled identities: %w", err)
		}
	}
	return table, nil
}

// Save replaces the file via a temp file and rename, so readers never see a
// partial write.
func (s *CSVStore) Save(t *Table) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := WriteCSV(tmp, t.Visits); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %w", ErrPersistence, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync %s: %w", ErrPersistence, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrPersistence, tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: replace %s: %w", ErrPersistence, s.path, err)
	}
	return nil
}

// WriteCSV writes a header row and visits in Columns order.
func WriteCSV(w io.Writer, visits []Visit) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, v := range visits {
		if err := cw.Write(visitRecord(v)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func visitRecord(v Visit) []string {
	return []string{
		v.VisitID, v.ClientID, v.Date, string(v.Direction), v.ClientName, v.Phone,
		v.Service, strconv.Itoa(v.Price), v.ReferredBy, v.StudyPlace, v.VkLink, v.MailingConsent,
	}
}

// ReadCSV parses a store file. backfilled reports that at least one
// identity column was missing and has been derived for every row.
func ReadCSV(r io.Reader) (visits []Visit, backfilled bool, err error) {
	reader := csv.NewReader(skipBOM(r))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		// пустой файл считаем пустой таблицей
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: read header: %w", ErrMalformedStore, err)
	}

	colIndex, err := columnIndex(header)
	if err != nil {
		return nil, false, err
	}
	_, hasVisitID := colIndex["visit_id"]
	_, hasClientID := colIndex["client_id"]

	line := 1
	for {
		line++
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, fmt.Errorf("%w: line %d: %w", ErrMalformedStore, line, err)
		}

		if len(rec) < len(header) {
			return nil, false, fmt.Errorf("%w: line %d: %d fields, header has %d",
				ErrMalformedStore, line, len(rec), len(header))
		}

		get := func(key string) string {
			if idx, ok := colIndex[key]; ok {
				return rec[idx]
			}
			return ""
		}

		direction := Direction(get("Direction"))
		rawPrice := strings.TrimSpace(get("Price"))
		if rawPrice == "" && direction != DirectionMailing {
			return nil, false, fmt.Errorf("%w: line %d: empty price", ErrMalformedStore, line)
		}
		price, err := parsePrice(rawPrice)
		if err != nil {
			return nil, false, fmt.Errorf("%w: line %d: %w", ErrMalformedStore, line, err)
		}

		v := Visit{
			VisitID:        get("visit_id"),
			ClientID:       get("client_id"),
			Date:           get("Date"),
			Direction:      direction,
			ClientName:     get("ClientName"),
			Phone:          get("Phone"),
			Service:        get("Service"),
			Price:          price,
			ReferredBy:     get("ReferredBy"),
			StudyPlace:     get("StudyPlace"),
			VkLink:         get("VkLink"),
			MailingConsent: get("MailingConsent"),
		}
		if !hasClientID {
			v.ClientID = ClientID(v.ClientName, v.Phone)
		}
		if !hasVisitID {
			v.VisitID = VisitID(v.Date, v.ClientName, v.Phone)
		}
		visits = append(visits, v)
	}

	return visits, !hasVisitID || !hasClientID, nil
}

func columnIndex(header []string) (map[string]int, error) {
	colIndex := make(map[string]int, len(header))
	for i, name := range header {
		colIndex[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, col := range Columns {
		if identityColumns[col] {
			continue
		}
		if _, ok := colIndex[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", ErrMalformedStore, strings.Join(missing, ", "))
	}
	return colIndex, nil
}

// parsePrice accepts integers and integral floats ("900.0"), which some
// spreadsheet tools write back. Empty means no price (mailing contacts).
func parsePrice(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative price %d", n)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f < 0 || f > math.MaxInt32 {
		return 0, fmt.Errorf("invalid price %q", s)
	}
	return int(f), nil
}

func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if peeked, err := br.Peek(3); err == nil && string(peeked) == "\xef\xbb\xbf" {
		br.Discard(3)
	}
	return br
}
