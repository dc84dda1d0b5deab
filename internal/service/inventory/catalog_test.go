package inventory

import (
	"context"
	"strings"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

const sampleCSV = `Nombre,Precio [El Guante],En inventario [El Guante],Categoria,Descripción,Handle,REF
Guante de arquero,15000,10,Guantes,Profesional,guante-arquero,G-1
Sin precio,,5,Guantes,,sin-precio,
,12000,3,Guantes,,sin-nombre,
Canillera,4500.5,2,Accesorios,,,C-9
Stock negativo,1000,-1,Accesorios,,neg,
Sin categoria,1000,1,,,cat,
`

func TestParseCSV(t *testing.T) {
	report, err := ParseCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ParseCSV failed: %v", err)
	}
	if len(report.Valid) != 2 {
		t.Fatalf("unexpected valid count: %d", len(report.Valid))
	}
	if len(report.Rejected) != 4 {
		t.Fatalf("unexpected rejected count: %d (%v)", len(report.Rejected), report.Rejected)
	}

	first := report.Valid[0]
	if first.ID != "guante-arquero" || first.PriceMinor != 15000_00 || first.Stock != 10 || first.Category != "Guantes" {
		t.Fatalf("unexpected first product: %+v", first)
	}
	second := report.Valid[1]
	if second.ID != "C-9" || second.PriceMinor != 4500_50 {
		t.Fatalf("unexpected second product: %+v", second)
	}
	if report.Rejected[0].Line != 3 {
		t.Fatalf("unexpected rejected line: %d", report.Rejected[0].Line)
	}
}

func TestParseCSV_MissingColumn(t *testing.T) {
	if _, err := ParseCSV(strings.NewReader("Nombre,Categoria\nA,B\n")); err == nil {
		t.Fatal("expected missing column error")
	}
}

func TestImport_DryRunDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	svc := NewService(repo, nil)

	report, err := svc.Import(ctx, strings.NewReader(sampleCSV), true)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if !report.DryRun || report.Imported != 0 {
		t.Fatalf("unexpected dry-run report: %+v", report)
	}
	list, _ := repo.List(ctx, domain.ProductFilter{})
	if len(list) != 0 {
		t.Fatalf("dry-run must not write, got %d products", len(list))
	}

	report, err = svc.Import(ctx, strings.NewReader(sampleCSV), false)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if report.Imported != 2 {
		t.Fatalf("unexpected imported count: %d", report.Imported)
	}
	if _, err := svc.Get(ctx, "guante-arquero"); err != nil {
		t.Fatalf("imported product missing: %v", err)
	}
}

func TestDecrementForOrder_ClampsAndSkipsUnknown(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	if err := repo.Upsert(ctx, domain.Product{ID: "p1", Name: "A", PriceMinor: 100, Stock: 2, Category: "c"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	svc := NewService(repo, nil)

	adj, err := svc.DecrementForOrder(ctx, "o1", []domain.OrderItem{
		{ProductID: "p1", Qty: 5},
		{ProductID: "ghost", Qty: 1},
		{Name: "custom", Qty: 1},
	})
	if err != nil {
		t.Fatalf("DecrementForOrder failed: %v", err)
	}
	if len(adj) != 1 || adj[0].Applied != 2 || adj[0].Remaining != 0 || !adj[0].Clamped() {
		t.Fatalf("unexpected adjustments: %+v", adj)
	}
}

type recordingObserver struct {
	changes []domain.PriceChange
}

func (o *recordingObserver) PriceChanged(_ context.Context, _ domain.Product, change domain.PriceChange) error {
	o.changes = append(o.changes, change)
	return nil
}

func TestImport_ReportsChangedPrices(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	svc := NewService(repo, nil)
	observer := &recordingObserver{}
	svc.SetPriceObserver(observer)

	if _, err := svc.Import(ctx, strings.NewReader(sampleCSV), false); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(observer.changes) != 0 {
		t.Fatalf("new products must not report price changes: %+v", observer.changes)
	}

	repriced := strings.Replace(sampleCSV, "Guante de arquero,15000", "Guante de arquero,12000", 1)
	if _, err := svc.Import(ctx, strings.NewReader(repriced), false); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(observer.changes) != 1 {
		t.Fatalf("expected one price change, got %+v", observer.changes)
	}
	change := observer.changes[0]
	if change.ProductID != "guante-arquero" || change.OldPriceMinor != 15000_00 || change.NewPriceMinor != 12000_00 {
		t.Fatalf("unexpected change: %+v", change)
	}
	if change.ChangedBy != "import" {
		t.Fatalf("unexpected author: %q", change.ChangedBy)
	}
}
