// Package ingest loads transaction batches from external sources.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CSV column order. The channel column is optional.
var csvHeader = []string{"id", "sender_id", "receiver_id", "amount", "timestamp", "location", "channel"}

// ReadCSV parses a transaction batch from CSV. The first row must be a
// header matching the documented columns; timestamps are RFC 3339. Parse
// failures are reported as validation errors with the offending row number
// so the caller's validation policy applies uniformly.
func ReadCSV(r io.Reader) ([]domain.Transaction, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}
	hasChannel := len(header) == len(csvHeader)

	var txs []domain.Transaction
	for row := 2; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}

		tx, err := parseRecord(record, hasChannel)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		txs = append(txs, tx)
	}

	return txs, nil
}

func checkHeader(header []string) error {
	want := csvHeader
	if len(header) == len(csvHeader)-1 {
		want = csvHeader[:len(csvHeader)-1]
	}
	if len(header) != len(want) {
		return fmt.Errorf("expected %d CSV columns, got %d", len(want), len(header))
	}
	for i, col := range header {
		if strings.TrimSpace(strings.ToLower(col)) != want[i] {
			return fmt.Errorf("unexpected CSV column %d: got %q, want %q", i+1, col, want[i])
		}
	}
	return nil
}

func parseRecord(record []string, hasChannel bool) (domain.Transaction, error) {
	want := len(csvHeader) - 1
	if hasChannel {
		want = len(csvHeader)
	}
	if len(record) != want {
		return domain.Transaction{}, fmt.Errorf("%w: expected %d fields, got %d", domain.ErrValidation, want, len(record))
	}

	amount, err := strconv.ParseFloat(strings.TrimSpace(record[3]), 64)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: malformed amount %q", domain.ErrValidation, record[3])
	}

	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(record[4]))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: malformed timestamp %q", domain.ErrValidation, record[4])
	}

	tx := domain.Transaction{
		ID:         strings.TrimSpace(record[0]),
		SenderID:   strings.TrimSpace(record[1]),
		ReceiverID: strings.TrimSpace(record[2]),
		Amount:     amount,
		Timestamp:  ts,
		Location:   strings.TrimSpace(record[5]),
	}
	if hasChannel {
		tx.Channel = strings.TrimSpace(record[6])
	}
	return tx, nil
}

// WriteCSV writes a batch in the same format ReadCSV accepts.
func WriteCSV(w io.Writer, txs []domain.Transaction) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, tx := range txs {
		record := []string{
			tx.ID,
			tx.SenderID,
			tx.ReceiverID,
			strconv.FormatFloat(tx.Amount, 'f', 2, 64),
			tx.Timestamp.UTC().Format(time.RFC3339),
			tx.Location,
			tx.Channel,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
