package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yardops/tariff-engine/billing"
)

func TestFreeDaysLedger_GreedyConsumption(t *testing.T) {
	ledger := billing.NewFreeDaysLedger(7)

	free, billable := ledger.Consume(10)
	assert.Equal(t, 7, free)
	assert.Equal(t, 3, billable)
	assert.Equal(t, 0, ledger.Remaining())

	// Pool is exhausted; later periods are fully billable.
	free, billable = ledger.Consume(27)
	assert.Equal(t, 0, free)
	assert.Equal(t, 27, billable)
}

func TestFreeDaysLedger_SpansMultiplePeriods(t *testing.T) {
	ledger := billing.NewFreeDaysLedger(10)

	free, billable := ledger.Consume(4)
	assert.Equal(t, 4, free)
	assert.Equal(t, 0, billable)

	free, billable = ledger.Consume(4)
	assert.Equal(t, 4, free)
	assert.Equal(t, 0, billable)

	free, billable = ledger.Consume(4)
	assert.Equal(t, 2, free)
	assert.Equal(t, 2, billable)
	assert.Equal(t, 0, ledger.Remaining())
}

func TestFreeDaysLedger_Conservation(t *testing.T) {
	// Sum of free days used equals min(locked, total days) for any
	// sequence of period lengths.
	cases := [][]int{
		{37},
		{10, 27},
		{1, 1, 1, 1, 1},
		{3, 0, 9, 40},
		{100},
	}
	for _, periods := range cases {
		for _, locked := range []int{0, 1, 5, 7, 50} {
			ledger := billing.NewFreeDaysLedger(locked)
			totalDays, totalFree := 0, 0
			for _, days := range periods {
				free, billable := ledger.Consume(days)
				assert.Equal(t, days, free+billable)
				assert.LessOrEqual(t, free, locked)
				totalDays += days
				totalFree += free
			}
			want := locked
			if totalDays < locked {
				want = totalDays
			}
			assert.Equal(t, want, totalFree, "locked=%d periods=%v", locked, periods)
		}
	}
}

func TestFreeDaysLedger_NegativeLocked_TreatedAsZero(t *testing.T) {
	ledger := billing.NewFreeDaysLedger(-3)
	assert.Equal(t, 0, ledger.Locked())

	free, billable := ledger.Consume(5)
	assert.Equal(t, 0, free)
	assert.Equal(t, 5, billable)
}
