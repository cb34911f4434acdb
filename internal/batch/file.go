package batch

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FileRecord is one line of the partner interchange file:
//
//	transaction_id,partner_id,amount,status,timestamp
//
// Amounts travel in major currency units; timestamps are ISO-8601. Records
// may arrive in any order and lines may carry unknown trailing fields,
// which are preserved on decode and ignored otherwise.
type FileRecord struct {
	TransactionID string
	PartnerID     string
	Amount        int64 // minor units
	Status        string
	Timestamp     time.Time
	Extra         []string
}

const fileFieldCount = 5

// decimalExponent is the minor-unit exponent. Accounts are single-currency
// with two-digit minors throughout the core.
const decimalExponent = 2

// EncodeFile writes records as CSV lines.
func EncodeFile(w io.Writer, records []FileRecord) error {
	cw := csv.NewWriter(w)
	for _, rec := range records {
		major := decimal.New(rec.Amount, -decimalExponent)
		row := []string{
			rec.TransactionID,
			rec.PartnerID,
			major.StringFixed(decimalExponent),
			rec.Status,
			rec.Timestamp.UTC().Format(time.RFC3339),
		}
		row = append(row, rec.Extra...)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// EncodeFileString is EncodeFile into a string, used when pushing the file
// onto the settlement queue.
func EncodeFileString(records []FileRecord) (string, error) {
	var sb strings.Builder
	if err := EncodeFile(&sb, records); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// DecodeFile parses an interchange file. Unknown trailing fields are kept
// in Extra for forward compatibility; short rows are an error.
func DecodeFile(r io.Reader) ([]FileRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var records []FileRecord
	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("interchange file line %d: %w", line+1, err)
		}
		line++
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		if len(row) < fileFieldCount {
			return nil, fmt.Errorf("interchange file line %d: expected at least %d fields, got %d", line, fileFieldCount, len(row))
		}

		major, err := decimal.NewFromString(strings.TrimSpace(row[2]))
		if err != nil {
			return nil, fmt.Errorf("interchange file line %d: bad amount %q: %w", line, row[2], err)
		}
		minor := major.Shift(decimalExponent)
		if !minor.IsInteger() {
			return nil, fmt.Errorf("interchange file line %d: amount %q has sub-minor precision", line, row[2])
		}

		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(row[4]))
		if err != nil {
			return nil, fmt.Errorf("interchange file line %d: bad timestamp %q: %w", line, row[4], err)
		}

		rec := FileRecord{
			TransactionID: strings.TrimSpace(row[0]),
			PartnerID:     strings.TrimSpace(row[1]),
			Amount:        minor.IntPart(),
			Status:        strings.TrimSpace(row[3]),
			Timestamp:     ts,
		}
		if len(row) > fileFieldCount {
			rec.Extra = append(rec.Extra, row[fileFieldCount:]...)
		}
		records = append(records, rec)
	}
	return records, nil
}
