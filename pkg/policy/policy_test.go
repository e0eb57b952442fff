package policy_test

import (
	"sync"
	"testing"
	"time"

	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/amirasaad/coopcredit/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinshasa(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Africa/Kinshasa")
	if err != nil {
		// Africa/Kinshasa is UTC+1 without DST.
		return time.FixedZone("WAT", 3600)
	}
	return loc
}

func defaultSnapshot(t *testing.T) *policy.Snapshot {
	t.Helper()
	snap, err := policy.NewSnapshot(policy.DefaultDocument(), kinshasa(t))
	require.NoError(t, err)
	return snap
}

func TestComputeFee_Brackets(t *testing.T) {
	snap := defaultSnapshot(t)
	tests := []struct {
		name    string
		amount  money.Money
		wantFee int64
		tier    int
	}{
		{"FC first tier", money.Must(30000, money.FC), 900, 0},
		{"FC exactly on first boundary", money.Must(50000, money.FC), 1500, 0},
		{"FC just above first boundary", money.Must(50001, money.FC), 1250, 1},
		{"FC second tier", money.Must(450000, money.FC), 11250, 1},
		{"FC exactly on second boundary", money.Must(500000, money.FC), 12500, 1},
		{"FC last tier", money.Must(600000, money.FC), 12000, 2},
		{"FC rounds half up", money.Must(1050, money.FC), 32, 0},
		{"USD first tier", money.Must(1000, money.USD), 30, 0},
		{"USD boundary 20.00", money.Must(2000, money.USD), 60, 0},
		{"USD second tier", money.Must(10000, money.USD), 250, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, err := policy.ComputeFee(tt.amount, snap)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFee, fee.Amount.Amount())
			assert.Equal(t, tt.amount.Code(), fee.Amount.Code())
			assert.Equal(t, tt.tier, fee.TierIndex)
		})
	}
}

func TestComputeFee_Properties(t *testing.T) {
	snap := defaultSnapshot(t)
	for _, amt := range []int64{1, 999, 1000, 49999, 50000, 50001, 499999, 500000, 500001, 999999999} {
		a := money.Must(amt, money.FC)
		fee, err := policy.ComputeFee(a, snap)
		require.NoError(t, err)
		assert.False(t, fee.Amount.IsNegative())
		assert.LessOrEqual(t, fee.Amount.Amount(), a.Amount())

		// Selected tier is the smallest threshold at or above the amount.
		assert.GreaterOrEqual(t, fee.Tier.Max.Amount(), amt)
		if fee.TierIndex > 0 {
			assert.Less(t, snap.FeeTiers.FC[fee.TierIndex-1].Max.Amount(), amt)
		}
	}
}

func TestComputeFee_NoTierMatches(t *testing.T) {
	snap := defaultSnapshot(t)
	_, err := policy.ComputeFee(money.Must(1_000_000_000, money.FC), snap)
	assert.ErrorIs(t, err, policy.ErrConfiguration)

	_, err = policy.ComputeFee(money.Must(1, money.FC), nil)
	assert.ErrorIs(t, err, policy.ErrConfiguration)
}

func TestWithinWindow(t *testing.T) {
	loc := kinshasa(t)
	snap := defaultSnapshot(t)
	at := func(h, m, s int) time.Time { return time.Date(2025, 3, 10, h, m, s, 0, loc) }

	assert.True(t, policy.WithinWindow(at(8, 0, 0), snap), "start is inclusive")
	assert.True(t, policy.WithinWindow(at(12, 30, 0), snap))
	assert.True(t, policy.WithinWindow(at(22, 0, 0), snap), "end is inclusive")
	assert.True(t, policy.WithinWindow(at(22, 0, 59), snap), "minute granularity")
	assert.False(t, policy.WithinWindow(at(22, 1, 0), snap))
	assert.False(t, policy.WithinWindow(at(23, 0, 0), snap))
	assert.False(t, policy.WithinWindow(at(7, 59, 0), snap))

	// 21:30 UTC is 22:30 in Kinshasa.
	assert.False(t, policy.WithinWindow(time.Date(2025, 3, 10, 21, 30, 0, 0, time.UTC), snap))
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := policy.ParseTimeOfDay("08:05")
	require.NoError(t, err)
	assert.Equal(t, policy.TimeOfDay(485), tod)
	assert.Equal(t, "08:05", tod.String())

	for _, bad := range []string{"", "8h", "24:00", "12:60"} {
		_, err := policy.ParseTimeOfDay(bad)
		assert.ErrorIs(t, err, policy.ErrInvalidTimeOfDay, bad)
	}
}

func TestConvert(t *testing.T) {
	snap := defaultSnapshot(t)

	fc, err := policy.Convert(money.Must(1050, money.USD), money.FC, snap)
	require.NoError(t, err)
	assert.Equal(t, int64(29400), fc.Amount())
	assert.Equal(t, money.FC, fc.Code())

	usd, err := policy.Convert(money.Must(30000, money.FC), money.USD, snap)
	require.NoError(t, err)
	assert.Equal(t, int64(1071), usd.Amount()) // 10.714...

	same, err := policy.Convert(money.Must(42, money.FC), money.FC, snap)
	require.NoError(t, err)
	assert.Equal(t, int64(42), same.Amount())

	_, err = policy.Convert(money.Must(1, money.FC), money.Code("EUR"), snap)
	assert.ErrorIs(t, err, money.ErrInvalidCurrency)
}

func TestNewSnapshot_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *policy.Document)
	}{
		{"empty FC tiers", func(d *policy.Document) { d.Withdrawals.Fees.FC = nil }},
		{"tiers not ascending", func(d *policy.Document) {
			d.Withdrawals.Fees.USD = []policy.TierDocument{{Max: 200, Rate: 0.02}, {Max: 20, Rate: 0.03}}
		}},
		{"duplicate tier max", func(d *policy.Document) {
			d.Withdrawals.Fees.FC = []policy.TierDocument{{Max: 50000, Rate: 0.03}, {Max: 50000, Rate: 0.02}}
		}},
		{"negative rate", func(d *policy.Document) { d.Withdrawals.Fees.FC[0].Rate = -0.01 }},
		{"rate of one", func(d *policy.Document) { d.Withdrawals.Fees.FC[0].Rate = 1 }},
		{"start after end", func(d *policy.Document) { d.AllowedHours = policy.Hours{Start: "22:00", End: "08:00"} }},
		{"start equals end", func(d *policy.Document) { d.AllowedHours = policy.Hours{Start: "08:00", End: "08:00"} }},
		{"malformed hour", func(d *policy.Document) { d.AllowedHours.Start = "eight" }},
		{"zero rate", func(d *policy.Document) { d.USDToFCRate = 0 }},
		{"zero daily count", func(d *policy.Document) { d.MaxWithdrawalsPerDay = 0 }},
		{"min above max", func(d *policy.Document) { d.MinWithdrawalFC = 600000 }},
		{"negative min balance", func(d *policy.Document) { d.MinBalanceUSD = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := policy.DefaultDocument()
			tt.mutate(&doc)
			_, err := policy.NewSnapshot(doc, time.UTC)
			assert.ErrorIs(t, err, policy.ErrConfiguration)
		})
	}
}

func TestParseDocument_YAML(t *testing.T) {
	data := []byte(`
solde_min_fc: 10000
solde_min_usd: 5
montant_min_retrait_fc: 1000
montant_min_retrait_usd: 1
limite_retrait_jour_fc: 2000000
limite_retrait_jour_usd: 1000
max_retraits_par_jour: 3
montant_max_par_retrait_fc: 500000
montant_max_par_retrait_usd: 500
taux_usd_cdf: 2850
heures_autorisees: {debut: "07:30", fin: "18:00"}
motif_obligatoire: false
retraits:
  frais_retrait:
    FC: [{max: 100000, taux: 0.02}, {max: 999999999, taux: 0.01}]
    USD: [{max: 999999999, taux: 0.015}]
`)
	doc, err := policy.ParseDocument(data, policy.FormatFromPath("params.yml"))
	require.NoError(t, err)
	snap, err := policy.NewSnapshot(doc, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.MaxWithdrawalsPerDay)
	assert.False(t, snap.ReasonRequired)
	assert.Equal(t, "07:30-18:00", snap.AllowedWindow.String())
	assert.Len(t, snap.FeeTiers.FC, 2)
	assert.Equal(t, "2850", snap.USDToFCRate.String())

	_, err = policy.ParseDocument([]byte("{not json"), policy.FormatJSON)
	assert.ErrorIs(t, err, policy.ErrConfiguration)
}

func TestStore_PublishAndCurrent(t *testing.T) {
	clock := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	store := policy.NewStore(time.UTC, nil, policy.WithClock(func() time.Time { return clock }))

	_, err := store.Current()
	require.ErrorIs(t, err, policy.ErrConfiguration, "empty store has no snapshot")

	first, err := store.Publish(policy.DefaultDocument())
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)
	assert.Equal(t, clock, first.EffectiveAt)

	bad := policy.DefaultDocument()
	bad.Withdrawals.Fees.FC = nil
	_, err = store.Publish(bad)
	require.ErrorIs(t, err, policy.ErrConfiguration)

	cur, err := store.Current()
	require.NoError(t, err)
	assert.Same(t, first, cur, "invalid publish keeps the previous snapshot")

	edited := policy.DefaultDocument()
	edited.MaxWithdrawalsPerDay = 3
	second, err := store.Publish(edited)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, 5, first.MaxWithdrawalsPerDay, "older snapshot is never mutated")
}

func TestStore_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	store := policy.NewStore(time.UTC, nil)
	_, err := store.Publish(policy.DefaultDocument())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			doc := policy.DefaultDocument()
			doc.MaxWithdrawalsPerDay = n + 1
			doc.MinBalanceFC = float64((n + 1) * 1000)
			_, _ = store.Publish(doc)
		}(i)
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				snap, err := store.Current()
				if !assert.NoError(t, err) {
					return
				}
				if snap.Version > 1 {
					assert.Equal(t, int64(snap.MaxWithdrawalsPerDay*1000), snap.MinBalance.FC.Amount())
				}
			}
		}()
	}
	wg.Wait()

	last, err := store.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(5), last.Version)
}
