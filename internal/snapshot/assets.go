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

// AssetHeader is the CSV header for assets.csv. section179, bonus_opt_out and
// bonus_rate hold the election recorded when the asset was placed in
// service; disposed_on and proceeds are empty while the asset is in service.
const AssetHeader = "asset_id,entity_id,description,asset_type,cost,placed_in_service,macrs_class,section179,bonus_opt_out,bonus_rate,disposed_on,proceeds"

const (
	assetFields    = 12
	colAssetID     = 0
	colAssetEntity = 1
	colAssetDesc   = 2
	colAssetType   = 3
	colCost        = 4
	colPlaced      = 5
	colClass       = 6
	colSection179  = 7
	colBonusOptOut = 8
	colBonusRate   = 9
	colDisposedOn  = 10
	colProceeds    = 11
)

// ReadAssets reads assets.csv.
func ReadAssets(r io.Reader) ([]model.Asset, error) {
	records, err := readAll(r, assetFields)
	if err != nil {
		return nil, fmt.Errorf("reading assets CSV: %w", err)
	}

	var assets []model.Asset
	for i, rec := range records {
		a, err := UnmarshalAsset(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		assets = append(assets, a)
	}
	return assets, nil
}

// WriteAssets writes assets.csv, including the header.
func WriteAssets(w io.Writer, assets []model.Asset) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(strings.Split(AssetHeader, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, a := range assets {
		if err := cw.Write(MarshalAsset(a)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	return cw.Error()
}

// MarshalAsset converts an Asset to a CSV row.
func MarshalAsset(a model.Asset) []string {
	row := make([]string, assetFields)
	row[colAssetID] = a.ID
	row[colAssetEntity] = a.EntityID
	row[colAssetDesc] = a.Description
	row[colAssetType] = a.AssetType
	row[colCost] = a.Cost.StringFixed(2)
	row[colPlaced] = a.PlacedInService.Format(dateFormat)
	row[colClass] = strconv.Itoa(int(a.Class))
	if a.Recorded != nil {
		row[colSection179] = a.Recorded.Section179.StringFixed(2)
		row[colBonusOptOut] = strconv.FormatBool(a.Recorded.BonusOptOut)
		if a.Recorded.BonusRate != nil {
			row[colBonusRate] = a.Recorded.BonusRate.String()
		}
	}
	if a.IsDisposed() {
		row[colDisposedOn] = a.DisposedOn.Format(dateFormat)
		row[colProceeds] = a.Proceeds.StringFixed(2)
	}
	return row
}

// UnmarshalAsset converts a CSV row to an Asset. An unknown class number is
// kept so validation can reject the asset without failing the whole file.
func UnmarshalAsset(record []string) (model.Asset, error) {
	if len(record) != assetFields {
		return model.Asset{}, fmt.Errorf("expected %d fields, got %d", assetFields, len(record))
	}

	cost, err := decimal.NewFromString(record[colCost])
	if err != nil {
		return model.Asset{}, fmt.Errorf("parsing cost %q: %w", record[colCost], err)
	}

	placed, err := time.Parse(dateFormat, record[colPlaced])
	if err != nil {
		return model.Asset{}, fmt.Errorf("parsing placed_in_service %q: %w", record[colPlaced], err)
	}

	class, err := model.ParseMACRSClass(record[colClass])
	if err != nil {
		n, aerr := strconv.Atoi(strings.TrimSpace(record[colClass]))
		if aerr != nil {
			return model.Asset{}, err
		}
		class = model.MACRSClass(n)
	}

	a := model.Asset{
		ID:              record[colAssetID],
		EntityID:        record[colAssetEntity],
		Description:     record[colAssetDesc],
		AssetType:       record[colAssetType],
		Cost:            cost,
		PlacedInService: placed,
		Class:           class,
	}

	if record[colSection179] != "" || record[colBonusOptOut] != "" || record[colBonusRate] != "" {
		var el model.Election
		if record[colSection179] != "" {
			el.Section179, err = decimal.NewFromString(record[colSection179])
			if err != nil {
				return model.Asset{}, fmt.Errorf("parsing section179 %q: %w", record[colSection179], err)
			}
		}
		if record[colBonusOptOut] != "" {
			el.BonusOptOut, err = strconv.ParseBool(record[colBonusOptOut])
			if err != nil {
				return model.Asset{}, fmt.Errorf("parsing bonus_opt_out %q: %w", record[colBonusOptOut], err)
			}
		}
		if record[colBonusRate] != "" {
			rate, err := decimal.NewFromString(record[colBonusRate])
			if err != nil {
				return model.Asset{}, fmt.Errorf("parsing bonus_rate %q: %w", record[colBonusRate], err)
			}
			el.BonusRate = &rate
		}
		a.Recorded = &el
	}

	if record[colDisposedOn] != "" {
		a.DisposedOn, err = time.Parse(dateFormat, record[colDisposedOn])
		if err != nil {
			return model.Asset{}, fmt.Errorf("parsing disposed_on %q: %w", record[colDisposedOn], err)
		}
	}
	if record[colProceeds] != "" {
		a.Proceeds, err = decimal.NewFromString(record[colProceeds])
		if err != nil {
			return model.Asset{}, fmt.Errorf("parsing proceeds %q: %w", record[colProceeds], err)
		}
	}
	return a, nil
}
