package seeder

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// TransactionRow is the parquet schema of the demo transactions table. Column
// names line up with the shipped binding document so seeded data answers
// stock-history queries without extra mapping.
type TransactionRow struct {
	TransID   int64   `parquet:"trans_id"`
	ItemNo    string  `parquet:"item_no"`
	PlantCode string  `parquet:"plant_code"`
	BatchNo   string  `parquet:"batch_no"`
	TransType string  `parquet:"trans_type"`
	Quantity  float64 `parquet:"quantity"`
	Unit      string  `parquet:"unit"`
	TransDate string  `parquet:"trans_date"`
}

// ItemRow is the parquet schema of the demo items dimension table.
type ItemRow struct {
	ItemNo      string `parquet:"item_no"`
	Description string `parquet:"description"`
	Category    string `parquet:"category"`
	Unit        string `parquet:"unit"`
}

type Generator struct {
	rnd      *rand.Rand
	items    []ItemRow
	plants   []string
	sequence int64
}

func NewGenerator(seed int64, itemCardinality int) *Generator {
	if itemCardinality <= 0 {
		itemCardinality = 40
	}
	rnd := rand.New(rand.NewSource(seed))
	g := &Generator{
		rnd:    rnd,
		plants: []string{"P100", "P200", "P300"},
	}
	g.items = g.buildItems(itemCardinality)
	return g
}

// Items returns the dimension rows backing every generated transaction.
func (g *Generator) Items() []ItemRow {
	out := make([]ItemRow, len(g.items))
	copy(out, g.items)
	return out
}

// TransactionsForDay produces count movements dated to day, deterministic for
// a fixed seed.
func (g *Generator) TransactionsForDay(day time.Time, count int) []TransactionRow {
	rows := make([]TransactionRow, 0, count)
	date := day.UTC().Format("2006-01-02")
	for i := 0; i < count; i++ {
		g.sequence++
		item := g.items[g.rnd.Intn(len(g.items))]
		transType := g.pickTransType()
		rows = append(rows, TransactionRow{
			TransID:   g.sequence,
			ItemNo:    item.ItemNo,
			PlantCode: g.plants[g.rnd.Intn(len(g.plants))],
			BatchNo:   fmt.Sprintf("B%06d", g.rnd.Intn(900000)+100000),
			TransType: transType,
			Quantity:  g.pickQuantity(transType),
			Unit:      item.Unit,
			TransDate: date,
		})
	}
	return rows
}

func (g *Generator) buildItems(cardinality int) []ItemRow {
	categories := []string{"raw_material", "semi_finished", "finished_good", "packaging"}
	units := []string{"EA", "KG", "L", "M"}
	items := make([]ItemRow, 0, cardinality)
	for i := 0; i < cardinality; i++ {
		category := categories[g.rnd.Intn(len(categories))]
		items = append(items, ItemRow{
			ItemNo:      fmt.Sprintf("10-%04d", 1000+i),
			Description: fmt.Sprintf("%s item %04d", category, 1000+i),
			Category:    category,
			Unit:        units[g.rnd.Intn(len(units))],
		})
	}
	return items
}

func (g *Generator) pickTransType() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 40:
		return "goods_receipt"
	case p < 75:
		return "goods_issue"
	case p < 90:
		return "transfer"
	default:
		return "adjustment"
	}
}

func (g *Generator) pickQuantity(transType string) float64 {
	base := 1 + g.rnd.Float64()*499
	if transType == "goods_issue" || (transType == "adjustment" && g.rnd.Intn(2) == 0) {
		base = -base
	}
	return round2(base)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
