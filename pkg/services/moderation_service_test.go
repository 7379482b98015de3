package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/apperrors"
	"github.com/AdminTLI/roommatematch-sub010/pkg/config"
	"github.com/AdminTLI/roommatematch-sub010/pkg/events"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
)

func newTestModerationService(t *testing.T, blocklist *mockBlocklistRepo, reports *mockReportRepo) ModerationService {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	return NewModerationService(blocklist, reports, &config.ModerationConfig{
		AutoBlockThreshold: 3,
		ReportWindowHours:  24,
	}, bus, newTestMetrics(), zap.NewNop())
}

func TestBlock_ExcludesBothDirections(t *testing.T) {
	blocklist := newMockBlocklistRepo()
	svc := newTestModerationService(t, blocklist, &mockReportRepo{})
	alice, bob := uuid.New(), uuid.New()

	entry, err := svc.Block(context.Background(), alice, bob)
	require.NoError(t, err)
	assert.Nil(t, entry.EndedAt)

	for _, pair := range [][2]uuid.UUID{{alice, bob}, {bob, alice}} {
		excluded, err := svc.IsExcluded(context.Background(), pair[0], pair[1])
		require.NoError(t, err)
		assert.True(t, excluded)
	}
}

func TestBlock_SelfBlockRejected(t *testing.T) {
	svc := newTestModerationService(t, newMockBlocklistRepo(), &mockReportRepo{})
	alice := uuid.New()
	_, err := svc.Block(context.Background(), alice, alice)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestCooldown_LapsesAtEndTime(t *testing.T) {
	blocklist := newMockBlocklistRepo()
	svc := newTestModerationService(t, blocklist, &mockReportRepo{})
	alice, bob := uuid.New(), uuid.New()

	entry, err := svc.Cooldown(context.Background(), alice, bob, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, entry.EndedAt)
	assert.True(t, entry.IsActive(time.Now()))
	assert.False(t, entry.IsActive(time.Now().Add(2*time.Hour)))
}

func TestCooldown_PastEndRejected(t *testing.T) {
	svc := newTestModerationService(t, newMockBlocklistRepo(), &mockReportRepo{})
	_, err := svc.Cooldown(context.Background(), uuid.New(), uuid.New(), time.Now().Add(-time.Minute))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestCooldown_DoesNotWeakenActiveBlock(t *testing.T) {
	blocklist := newMockBlocklistRepo()
	svc := newTestModerationService(t, blocklist, &mockReportRepo{})
	alice, bob := uuid.New(), uuid.New()

	_, err := svc.Block(context.Background(), alice, bob)
	require.NoError(t, err)

	// A decline after the block lands as a cooldown on the same pair; the
	// hard block must survive it.
	entry, err := svc.Cooldown(context.Background(), alice, bob, time.Now().Add(14*24*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, entry.EndedAt)

	excluded, err := svc.IsExcluded(context.Background(), alice, bob)
	require.NoError(t, err)
	assert.True(t, excluded)
	assert.True(t, entry.IsActive(time.Now().Add(15*24*time.Hour)),
		"entry must remain active past any cooldown horizon")
}

func TestCooldown_LaterEndSurvivesShorterOne(t *testing.T) {
	blocklist := newMockBlocklistRepo()
	svc := newTestModerationService(t, blocklist, &mockReportRepo{})
	alice, bob := uuid.New(), uuid.New()

	long, err := svc.Cooldown(context.Background(), alice, bob, time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, long.EndedAt)

	entry, err := svc.Cooldown(context.Background(), alice, bob, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, entry.EndedAt)
	assert.Equal(t, *long.EndedAt, *entry.EndedAt, "the shorter cooldown must not shrink the window")
}

func TestBlock_ReactivatesEndedEntry(t *testing.T) {
	blocklist := newMockBlocklistRepo()
	svc := newTestModerationService(t, blocklist, &mockReportRepo{})
	alice, bob := uuid.New(), uuid.New()

	past := time.Now().Add(-time.Hour)
	_, err := blocklist.Upsert(context.Background(), alice, bob, &past)
	require.NoError(t, err)

	excluded, err := svc.IsExcluded(context.Background(), alice, bob)
	require.NoError(t, err)
	require.False(t, excluded, "lapsed entry should not exclude")

	_, err = svc.Block(context.Background(), alice, bob)
	require.NoError(t, err)

	excluded, err = svc.IsExcluded(context.Background(), alice, bob)
	require.NoError(t, err)
	assert.True(t, excluded)
}

func TestRecordReport_ThirdReportAutoBlocks(t *testing.T) {
	blocklist := newMockBlocklistRepo()
	reports := &mockReportRepo{}
	svc := newTestModerationService(t, blocklist, reports)
	target := uuid.New()

	var last *models.Report
	for i := 0; i < 3; i++ {
		var err error
		last, err = svc.RecordReport(context.Background(), &models.Report{
			ReporterID:   uuid.New(),
			TargetUserID: target,
			Category:     models.ReportCategorySpam,
		})
		require.NoError(t, err)
	}

	assert.True(t, last.AutoBlocked, "third report in the window crosses the threshold")
	excluded, err := svc.IsExcluded(context.Background(), last.ReporterID, target)
	require.NoError(t, err)
	assert.True(t, excluded)
}

func TestRecordReport_TwoReportsDoNotAutoBlock(t *testing.T) {
	blocklist := newMockBlocklistRepo()
	svc := newTestModerationService(t, blocklist, &mockReportRepo{})
	target := uuid.New()

	var last *models.Report
	for i := 0; i < 2; i++ {
		var err error
		last, err = svc.RecordReport(context.Background(), &models.Report{
			ReporterID:   uuid.New(),
			TargetUserID: target,
			Category:     models.ReportCategoryHarassment,
		})
		require.NoError(t, err)
	}

	assert.False(t, last.AutoBlocked)
	assert.Empty(t, blocklist.entries)
}

func TestRecordReport_AutoBlockFailureKeepsReport(t *testing.T) {
	blocklist := newMockBlocklistRepo()
	reports := &mockReportRepo{}
	svc := newTestModerationService(t, blocklist, reports)
	target := uuid.New()

	for i := 0; i < 2; i++ {
		_, err := svc.RecordReport(context.Background(), &models.Report{
			ReporterID:   uuid.New(),
			TargetUserID: target,
			Category:     models.ReportCategorySpam,
		})
		require.NoError(t, err)
	}

	blocklist.upsertErr = assert.AnError
	report, err := svc.RecordReport(context.Background(), &models.Report{
		ReporterID:   uuid.New(),
		TargetUserID: target,
		Category:     models.ReportCategorySpam,
	})
	require.NoError(t, err, "report must stand even when the block write fails")
	assert.True(t, report.AutoBlocked)
	assert.Len(t, reports.reports, 3)
}

func TestRecordReport_InvalidCategoryRejected(t *testing.T) {
	svc := newTestModerationService(t, newMockBlocklistRepo(), &mockReportRepo{})
	_, err := svc.RecordReport(context.Background(), &models.Report{
		ReporterID:   uuid.New(),
		TargetUserID: uuid.New(),
		Category:     "rude",
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRecordReport_CountFailureSkipsAutoBlock(t *testing.T) {
	blocklist := newMockBlocklistRepo()
	reports := &mockReportRepo{countErr: assert.AnError}
	svc := newTestModerationService(t, blocklist, reports)

	report, err := svc.RecordReport(context.Background(), &models.Report{
		ReporterID:   uuid.New(),
		TargetUserID: uuid.New(),
		Category:     models.ReportCategoryOther,
	})
	require.NoError(t, err)
	assert.False(t, report.AutoBlocked)
	assert.Empty(t, blocklist.entries)
}
