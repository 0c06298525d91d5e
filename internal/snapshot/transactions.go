package snapshot

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/farmtax/internal/model"
)

// TransactionHeader is the CSV header for transactions.csv.
const TransactionHeader = "transaction_id,entity_id,date,type,category,amount,prepaid,description"

const (
	txnFields    = 8
	colTxnID     = 0
	colTxnEntity = 1
	colTxnDate   = 2
	colTxnType   = 3
	colCategory  = 4
	colAmount    = 5
	colPrepaid   = 6
	colTxnDesc   = 7
)

// ReadTransactions reads transactions.csv.
func ReadTransactions(r io.Reader) ([]model.Transaction, error) {
	records, err := readAll(r, txnFields)
	if err != nil {
		return nil, fmt.Errorf("reading transactions CSV: %w", err)
	}

	var txns []model.Transaction
	for i, rec := range records {
		t, err := UnmarshalTransaction(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		txns = append(txns, t)
	}
	return txns, nil
}

// WriteTransactions writes transactions.csv, including the header.
func WriteTransactions(w io.Writer, txns []model.Transaction) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(strings.Split(TransactionHeader, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, t := range txns {
		if err := cw.Write(MarshalTransaction(t)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	return cw.Error()
}

// MarshalTransaction converts a Transaction to a CSV row.
func MarshalTransaction(t model.Transaction) []string {
	row := make([]string, txnFields)
	row[colTxnID] = t.ID
	row[colTxnEntity] = t.EntityID
	row[colTxnDate] = t.Date.Format(dateFormat)
	row[colTxnType] = string(t.Type)
	row[colCategory] = string(t.Category)
	row[colAmount] = t.Amount.StringFixed(2)
	if t.Prepaid {
		row[colPrepaid] = "true"
	}
	row[colTxnDesc] = t.Description
	return row
}

// UnmarshalTransaction converts a CSV row to a Transaction.
func UnmarshalTransaction(record []string) (model.Transaction, error) {
	if len(record) != txnFields {
		return model.Transaction{}, fmt.Errorf("expected %d fields, got %d", txnFields, len(record))
	}

	date, err := time.Parse(dateFormat, record[colTxnDate])
	if err != nil {
		return model.Transaction{}, fmt.Errorf("parsing date %q: %w", record[colTxnDate], err)
	}

	amount, err := decimal.NewFromString(record[colAmount])
	if err != nil {
		return model.Transaction{}, fmt.Errorf("parsing amount %q: %w", record[colAmount], err)
	}

	var prepaid bool
	if record[colPrepaid] != "" {
		prepaid, err = strconv.ParseBool(record[colPrepaid])
		if err != nil {
			return model.Transaction{}, fmt.Errorf("parsing prepaid %q: %w", record[colPrepaid], err)
		}
	}

	return model.Transaction{
		ID:          record[colTxnID],
		EntityID:    record[colTxnEntity],
		Date:        date,
		Type:        model.TransactionType(record[colTxnType]),
		Category:    model.Category(record[colCategory]),
		Amount:      amount,
		Prepaid:     prepaid,
		Description: record[colTxnDesc],
	}, nil
}
