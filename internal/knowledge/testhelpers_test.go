package knowledge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/panel-quote/internal/fetcher"
	"github.com/sells-group/panel-quote/internal/model"
)

func testLoader(strict bool) *Loader {
	opener := fetcher.NewOpener(fetcher.HTTPOptions{RatePerSec: 100, BaseBackoff: time.Millisecond}, fetcher.FTPOptions{})
	return NewLoader(opener, strict)
}

// fixtureSpecs is the catalog at level 1, the distributor CSV at level 2
// and the price-only web snapshot at level 3.
func fixtureSpecs() []SourceSpec {
	return []SourceSpec{
		{Name: "catalog", Level: 1, Kind: model.SourceCatalog, Location: filepath.Join("testdata", "catalog.yaml")},
		{Name: "distributor", Level: 2, Kind: model.SourceMatrix, Location: filepath.Join("testdata", "accessories.csv")},
		{Name: "web", Level: 3, Kind: model.SourceWebSnapshot, Location: filepath.Join("testdata", "web.json")},
	}
}

func loadFixtures(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := testLoader(true).Load(context.Background(), fixtureSpecs())
	require.NoError(t, err)
	return snap
}

func writeWorkbook(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "prices.xlsx")
	require.NoError(t, f.Save(path))
	return path
}
