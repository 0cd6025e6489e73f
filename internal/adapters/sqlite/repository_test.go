package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"smartTradeBot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "trade-ledger-test-*")
	require.NoError(t, err)

	repo, err := NewRepository(Config{
		DBPath: filepath.Join(tmpDir, "nested", "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}
	return repo, cleanup
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
}

func TestRepository_AppendAndLoadEvents(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ev := &domain.LedgerEvent{
			UserID:    1,
			TradeID:   "t1",
			Type:      domain.EventTakeProfit,
			Symbol:    "BTCUSDT",
			Side:      domain.SideLong,
			Price:     100 + float64(i),
			Quantity:  0.5,
			PnL:       float64(i),
			Level:     i%3 + 1,
			Timestamp: base.Add(time.Duration(i) * time.Nanosecond),
		}
		id, err := repo.AppendEvent(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, id, ev.ID)
	}
	_, err := repo.AppendEvent(ctx, &domain.LedgerEvent{
		UserID: 2, TradeID: "t2", Type: domain.EventTradeStart, Symbol: "ETHUSDT", Side: domain.SideShort,
		Message: "started", Timestamp: base,
	})
	require.NoError(t, err)

	events, err := repo.LoadRecentEvents(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, 102.0, events[0].Price, "oldest of the newest three for user 1")
	assert.Equal(t, 104.0, events[2].Price)
	assert.Equal(t, base.Add(4*time.Nanosecond), events[2].Timestamp.UTC())
	assert.Equal(t, int64(2), events[3].UserID)
	assert.Equal(t, "started", events[3].Message)
	assert.Equal(t, domain.SideShort, events[3].Side)
}

func TestRepository_PruneEvents(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := repo.AppendEvent(ctx, &domain.LedgerEvent{
			UserID: 9, TradeID: "t", Type: domain.EventTrailingUpdated, Symbol: "X", Side: domain.SideLong,
			Price: float64(i), Timestamp: time.Now(),
		})
		require.NoError(t, err)
	}

	require.NoError(t, repo.PruneEvents(ctx, 9, 2))

	events, err := repo.LoadRecentEvents(ctx, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 4.0, events[0].Price)
	assert.Equal(t, 5.0, events[1].Price)
}

func TestRepository_CompletedTrades(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	trades := []*domain.CompletedTrade{
		{UserID: 1, TradeID: "b", Symbol: "ETHUSDT", Side: domain.SideShort, EntryPrice: 3000, ExitPrice: 2900,
			Amount: 1, Leverage: 3, PnL: 300, Reason: domain.CloseReasonTakeProfit, DryRun: true,
			StartedAt: start, CompletedAt: start.Add(2 * time.Hour)},
		{UserID: 1, TradeID: "a", Symbol: "BTCUSDT", Side: domain.SideLong, EntryPrice: 100, ExitPrice: 90,
			Amount: 2, Leverage: 1, PnL: -20, Reason: domain.CloseReasonStopLoss,
			CompletedAt: start.Add(time.Hour)},
	}
	for _, tr := range trades {
		id, err := repo.SaveCompletedTrade(ctx, tr)
		require.NoError(t, err)
		assert.NotZero(t, id)
	}

	loaded, err := repo.LoadCompletedTrades(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	assert.Equal(t, "a", loaded[0].TradeID, "ordered by completion time")
	assert.True(t, loaded[0].StartedAt.IsZero())
	assert.Equal(t, domain.CloseReasonStopLoss, loaded[0].Reason)

	assert.Equal(t, "b", loaded[1].TradeID)
	assert.Equal(t, domain.SideShort, loaded[1].Side)
	assert.True(t, loaded[1].DryRun)
	assert.Equal(t, 3, loaded[1].Leverage)
	assert.Equal(t, 300.0, loaded[1].PnL)
	assert.Equal(t, start, loaded[1].StartedAt.UTC())
}
