package snapshot

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/farmtax/internal/engine"
	"github.com/cleared-dev/farmtax/internal/model"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func testSnapshot() engine.Snapshot {
	return engine.Snapshot{
		Entities: []model.Entity{
			{ID: "farm", Name: "Parker Farms", Type: model.EntityTypeFarm, Basis: model.BasisCash, TaxID: "72-1234567", FormationDate: date(2015, 3, 1), State: "LA"},
			{ID: "grain", Name: "Parker Grain, LLC", Type: model.EntityTypeGrainHolding, Basis: model.BasisAccrual},
		},
		Assets: []model.Asset{
			{ID: "combine", EntityID: "farm", Description: "John Deere S780", AssetType: "Equipment", Cost: dec("485000"), PlacedInService: date(2024, 4, 10), Class: model.Class7Year},
			{ID: "bin", EntityID: "grain", Description: "Grain bin", Cost: dec("62000.50"), PlacedInService: date(2022, 9, 1), Class: model.Class10Year,
				Recorded: &model.Election{Section179: dec("20000"), BonusOptOut: true}},
			{ID: "barn", EntityID: "farm", Description: "Pole barn", Cost: dec("90000"), PlacedInService: date(2016, 6, 1), Class: model.Class20Year,
				Recorded:   &model.Election{BonusRate: decPtr("0.5")},
				DisposedOn: date(2024, 8, 15), Proceeds: dec("41000")},
		},
		Transactions: []model.Transaction{
			{ID: "t1", EntityID: "farm", Date: date(2024, 10, 2), Type: model.TypeIncome, Category: model.CategoryGrainSales, Amount: dec("125000"), Description: "Soybeans, elevator"},
			{ID: "t2", EntityID: "farm", Date: date(2024, 12, 20), Type: model.TypeExpense, Category: model.CategoryFertilizersLime, Amount: dec("18250.75"), Prepaid: true},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := testSnapshot()
	require.NoError(t, Save(dir, want))

	got, err := Load(dir)
	require.NoError(t, err)

	require.Len(t, got.Entities, 2)
	assert.Equal(t, want.Entities[0].Name, got.Entities[0].Name)
	assert.True(t, want.Entities[0].FormationDate.Equal(got.Entities[0].FormationDate))
	assert.True(t, got.Entities[1].FormationDate.IsZero())
	assert.Equal(t, model.BasisAccrual, got.Entities[1].Basis)
	assert.Equal(t, "LA", got.Entities[1].StateCode())

	require.Len(t, got.Assets, 3)
	assert.Equal(t, model.Class7Year, got.Assets[0].Class)
	assert.True(t, got.Assets[0].Cost.Equal(dec("485000")))
	assert.Nil(t, got.Assets[0].Recorded)
	require.NotNil(t, got.Assets[1].Recorded)
	assert.True(t, got.Assets[1].Recorded.Section179.Equal(dec("20000")))
	assert.True(t, got.Assets[1].Recorded.BonusOptOut)
	assert.Nil(t, got.Assets[1].Recorded.BonusRate)
	assert.False(t, got.Assets[1].IsDisposed())
	barn := got.Assets[2]
	require.NotNil(t, barn.Recorded)
	require.NotNil(t, barn.Recorded.BonusRate)
	assert.True(t, barn.Recorded.BonusRate.Equal(dec("0.5")))
	assert.True(t, barn.DisposedOn.Equal(date(2024, 8, 15)))
	assert.True(t, barn.Proceeds.Equal(dec("41000")))

	require.Len(t, got.Transactions, 2)
	assert.Equal(t, model.CategoryGrainSales, got.Transactions[0].Category)
	assert.False(t, got.Transactions[0].Prepaid)
	assert.True(t, got.Transactions[1].Prepaid)
	assert.True(t, got.Transactions[1].Amount.Equal(dec("18250.75")))
}

func TestLoadMissingFiles(t *testing.T) {
	got, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, got.Entities)
	assert.Empty(t, got.Assets)
	assert.Empty(t, got.Transactions)
}

func TestScaffold(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	require.NoError(t, Scaffold(dir))

	data, err := os.ReadFile(filepath.Join(dir, AssetsFile))
	require.NoError(t, err)
	assert.Equal(t, AssetHeader+"\n", string(data))

	// Existing files are left alone.
	require.NoError(t, Save(dir, testSnapshot()))
	require.NoError(t, Scaffold(dir))
	got, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, got.Assets, 3)
}

func TestWriteHeaders(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTransactions(&buf, nil))
	assert.Equal(t, TransactionHeader+"\n", buf.String())

	txns, err := ReadTransactions(&buf)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestUnmarshalAssetClass(t *testing.T) {
	row := []string{"a1", "farm", "Planter", "", "90000", "2024-05-01", "7-year", "", ""}
	a, err := UnmarshalAsset(row)
	require.NoError(t, err)
	assert.Equal(t, model.Class7Year, a.Class)

	// Unknown numeric classes survive parsing and fail validation later.
	row[6] = "9"
	a, err = UnmarshalAsset(row)
	require.NoError(t, err)
	assert.Equal(t, model.MACRSClass(9), a.Class)
	assert.ErrorIs(t, model.ValidateAsset(a), model.ErrInvalidAsset)

	row[6] = "forever"
	_, err = UnmarshalAsset(row)
	assert.Error(t, err)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name string
		read func() error
		want string
	}{
		{"bad date", func() error {
			_, err := ReadTransactions(strings.NewReader(TransactionHeader + "\nt1,farm,10/02/2024,income,grain_sales,100,,\n"))
			return err
		}, "row 2: parsing date"},
		{"bad amount", func() error {
			_, err := ReadTransactions(strings.NewReader(TransactionHeader + "\nt1,farm,2024-10-02,income,grain_sales,lots,,\n"))
			return err
		}, "parsing amount"},
		{"bad prepaid", func() error {
			_, err := ReadTransactions(strings.NewReader(TransactionHeader + "\nt1,farm,2024-10-02,expense,feed,100,maybe,\n"))
			return err
		}, "parsing prepaid"},
		{"field count", func() error {
			_, err := ReadEntities(strings.NewReader(EntityHeader + "\nfarm,Parker Farms\n"))
			return err
		}, "reading entities CSV"},
		{"bad formation date", func() error {
			_, err := ReadEntities(strings.NewReader(EntityHeader + "\nfarm,Parker Farms,farm,cash,,2015,LA\n"))
			return err
		}, "parsing formation_date"},
		{"bad section179", func() error {
			_, err := ReadAssets(strings.NewReader(AssetHeader + "\na1,farm,Planter,,90000,2024-05-01,7,all,,,,\n"))
			return err
		}, "parsing section179"},
		{"bad bonus rate", func() error {
			_, err := ReadAssets(strings.NewReader(AssetHeader + "\na1,farm,Planter,,90000,2015-05-01,7,,,half,,\n"))
			return err
		}, "parsing bonus_rate"},
		{"bad disposal date", func() error {
			_, err := ReadAssets(strings.NewReader(AssetHeader + "\na1,farm,Planter,,90000,2015-05-01,7,,,,last spring,100\n"))
			return err
		}, "parsing disposed_on"},
		{"bad proceeds", func() error {
			_, err := ReadAssets(strings.NewReader(AssetHeader + "\na1,farm,Planter,,90000,2015-05-01,7,,,,2024-03-01,lots\n"))
			return err
		}, "parsing proceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadReportsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, AssetsFile), []byte(AssetHeader+"\na1,farm,Planter,,x,2024-05-01,7,,,,,\n"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), AssetsFile)
}
