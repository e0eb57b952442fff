package decision

import (
	"context"
	"testing"
	"time"

	"github.com/amirasaad/coopcredit/pkg/events"
	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/amirasaad/coopcredit/pkg/testutils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlers_Tally(t *testing.T) {
	ctx := context.Background()
	logger := testutils.DiscardLogger()
	stats := NewStats()
	meta := events.Meta{RequestID: uuid.New(), MemberID: "M-001", ParamsVersion: 2, Timestamp: time.Now()}

	require.NoError(t, HandleAdmitted(stats, logger)(ctx, &events.WithdrawalAdmitted{
		Meta:   meta,
		Amount: money.Must(10000, money.FC),
		Fee:    money.Must(300, money.FC),
	}))
	require.NoError(t, HandleRejected(stats, logger)(ctx, &events.WithdrawalRejected{Meta: meta, Kind: "MissingReason"}))
	require.NoError(t, HandleRejected(stats, logger)(ctx, &events.WithdrawalRejected{Meta: meta, Kind: "MissingReason"}))
	require.NoError(t, HandleFailed(stats, logger)(ctx, &events.WithdrawalFailed{Meta: meta, Kind: "PersistenceError"}))
	require.NoError(t, HandleParametersPublished(stats, logger)(ctx, &events.ParametersPublished{Version: 4}))
	require.NoError(t, HandleParametersPublished(stats, logger)(ctx, &events.ParametersPublished{Version: 3}))

	s := stats.Summary()
	assert.Equal(t, int64(1), s.Admitted)
	assert.Equal(t, map[string]int64{"MissingReason": 2}, s.Rejected)
	assert.Equal(t, map[string]int64{"PersistenceError": 1}, s.Failed)
	assert.Equal(t, int64(4), s.ParamsVersion)

	// The summary is a copy.
	s.Rejected["MissingReason"] = 99
	assert.Equal(t, int64(2), stats.Summary().Rejected["MissingReason"])
}

func TestHandlers_UnexpectedEvent(t *testing.T) {
	ctx := context.Background()
	logger := testutils.DiscardLogger()
	stats := NewStats()

	assert.Error(t, HandleAdmitted(stats, logger)(ctx, &events.WithdrawalRejected{}))
	assert.Error(t, HandleRejected(stats, logger)(ctx, &events.WithdrawalAdmitted{}))
	assert.Error(t, HandleFailed(stats, logger)(ctx, &events.ParametersPublished{}))
	assert.Error(t, HandleParametersPublished(stats, logger)(ctx, &events.WithdrawalFailed{}))
	assert.Equal(t, int64(0), stats.Summary().Admitted)
}
