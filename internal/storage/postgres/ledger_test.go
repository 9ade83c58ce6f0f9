package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/report-harvester/internal/harvest"
)

func TestRecordUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	digest := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	mock.ExpectExec("INSERT INTO report_downloads").
		WithArgs("run-1", "BR1", "succeeded_direct", true, (*string)(nil), &digest, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = ledger.Record(context.Background(), Entry{
		RunID:  "run-1",
		Result: harvest.Result{RecordID: "BR1", Outcome: harvest.OutcomeDirect},
		SHA256: digest,
		At:     now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCarriesError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "outcomes")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	msg := "worker panic: boom"
	mock.ExpectExec("INSERT INTO outcomes").
		WithArgs("run-1", "BR2", "failed", false, &msg, (*string)(nil), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = ledger.Record(context.Background(), Entry{
		RunID: "run-1",
		Result: harvest.Result{
			RecordID: "BR2",
			Outcome:  harvest.OutcomeFailed,
			Err:      errors.New(msg),
		},
		At: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPropagatesExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO report_downloads").WillReturnError(errors.New("conn reset"))
	err = ledger.Record(context.Background(), Entry{
		RunID:  "run-1",
		Result: harvest.Result{RecordID: "BR3", Outcome: harvest.OutcomeFailed},
		At:     time.Now(),
	})
	require.ErrorContains(t, err, "upsert outcome")
}

func TestRecordValidatesIDs(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, ledger.Record(context.Background(), Entry{Result: harvest.Result{RecordID: "BR1"}, At: time.Now()}))
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS report_downloads").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, ledger.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLedgerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewLedgerWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewLedgerWithPool(mock, "bad-name;drop")
	require.Error(t, err)

	_, err = NewLedger(context.Background(), LedgerConfig{})
	require.Error(t, err)
}
