package normalizer

import "github.com/mmdatafocus/depletions_backend/models"

const (
	SourceDistributorDepletions = "distributor_depletions"
	SourceRetailerSales         = "retailer_sales"
	SourceWarehouseReceipts     = "warehouse_receipts"
	SourceInventoryAdjustments  = "inventory_adjustments"
	SourceAPIInventory          = "api:inventory"
	SourceAPIDepletions         = "api:depletions"
)

var apiDateFormats = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// registry is the closed set of known source layouts, in inference priority order.
var registry = []*Adapter{
	{
		ID:          SourceDistributorDepletions,
		Kind:        models.SourceKindFile,
		Description: "distributor depletion report (cases out to accounts)",
		EventType:   models.EventTypeDepletion,
		Inferable:   true,
		Fields: []FieldSpec{
			{Field: FieldSKU, Required: true, Synonyms: []string{"sku", "item code", "product code", "item #"}},
			{Field: FieldQuantity, Required: true, Synonyms: []string{"qty", "quantity", "cases", "units sold"}},
			{Field: FieldDate, Required: true, Synonyms: []string{"ship date", "shipdate", "date shipped"}},
			{Field: FieldLocation, Synonyms: []string{"warehouse", "depot", "location"}},
			{Field: FieldRecordID, Synonyms: []string{"line id", "transaction id"}},
			{Field: FieldOrderID, Synonyms: []string{"invoice #", "invoice number", "order id"}},
			{Field: FieldCounterparty, Synonyms: []string{"account", "retailer", "customer"}},
			{Field: FieldUnitPrice, Synonyms: []string{"price", "unit price"}},
		},
		DateFormats:     []string{"01/02/2006", "2006-01-02", "1/2/06", "02-Jan-2006"},
		DefaultLocation: "main",
	},
	{
		ID:          SourceRetailerSales,
		Kind:        models.SourceKindFile,
		Description: "retailer point-of-sale export (units sold per store)",
		EventType:   models.EventTypeDepletion,
		Inferable:   true,
		Fields: []FieldSpec{
			{Field: FieldSKU, Required: true, Synonyms: []string{"upc sku", "retailer sku", "product code"}},
			{Field: FieldQuantity, Required: true, Synonyms: []string{"units", "unit sales"}},
			{Field: FieldDate, Required: true, Synonyms: []string{"sale date", "week ending", "period end"}},
			{Field: FieldLocation, Required: true, Synonyms: []string{"store", "store id", "location"}},
			{Field: FieldChannel, Synonyms: []string{"channel", "segment"}},
			{Field: FieldRecordID, Synonyms: []string{"sales id"}},
			{Field: FieldCounterparty, Synonyms: []string{"banner", "retailer"}},
			{Field: FieldUnitPrice, Synonyms: []string{"avg price", "unit price"}},
		},
		DateFormats:    []string{"2006-01-02", "01/02/2006", "20060102"},
		DefaultChannel: "retail",
	},
	{
		ID:          SourceWarehouseReceipts,
		Kind:        models.SourceKindFile,
		Description: "warehouse receiving report (shipments in)",
		EventType:   models.EventTypeShipment,
		Inferable:   true,
		Fields: []FieldSpec{
			{Field: FieldSKU, Required: true, Synonyms: []string{"item", "item code", "sku"}},
			{Field: FieldQuantity, Required: true, Synonyms: []string{"received qty", "qty received", "receipt qty"}},
			{Field: FieldDate, Required: true, Synonyms: []string{"receipt date", "received date", "received on"}},
			{Field: FieldLocation, Required: true, Synonyms: []string{"warehouse", "location"}},
			{Field: FieldRecordID, Synonyms: []string{"receipt id", "grn"}},
			{Field: FieldOrderID, Synonyms: []string{"po number", "po #"}},
			{Field: FieldCounterparty, Synonyms: []string{"supplier", "vendor"}},
			{Field: FieldUnitPrice, Synonyms: []string{"unit cost", "unit price"}},
		},
		DateFormats: []string{"2006-01-02", "01/02/2006", "Jan 2, 2006"},
	},
	{
		ID:          SourceInventoryAdjustments,
		Kind:        models.SourceKindFile,
		Description: "signed inventory corrections",
		EventType:   models.EventTypeAdjustment,
		Inferable:   true,
		Quantity:    QuantitySignedNonZero,
		Fields: []FieldSpec{
			{Field: FieldSKU, Required: true, Synonyms: []string{"sku"}},
			{Field: FieldQuantity, Required: true, Synonyms: []string{"adjustment qty", "delta"}},
			{Field: FieldDate, Required: true, Synonyms: []string{"adjustment date", "effective date"}},
			{Field: FieldLocation, Required: true, Synonyms: []string{"location", "warehouse"}},
			{Field: FieldRecordID, Synonyms: []string{"adjustment id"}},
			{Field: FieldReason, Synonyms: []string{"reason", "note"}},
		},
		DateFormats: []string{"2006-01-02", "01/02/2006", "2006-01-02T15:04:05Z07:00"},
	},
	{
		ID:          SourceAPIInventory,
		Kind:        models.SourceKindAPI,
		Description: "depletion-tracking API inventory positions",
		EventType:   models.EventTypeSnapshot,
		Quantity:    QuantityNonNegative,
		Fields: []FieldSpec{
			{Field: FieldSKU, Required: true, Synonyms: []string{"sku"}},
			{Field: FieldQuantity, Required: true, Synonyms: []string{"quantity", "on_hand"}},
			{Field: FieldDate, Required: true, Synonyms: []string{"as_of"}},
			{Field: FieldLocation, Required: true, Synonyms: []string{"location", "warehouse"}},
			{Field: FieldRecordID, Synonyms: []string{"id"}},
		},
		DateFormats: apiDateFormats,
	},
	{
		ID:          SourceAPIDepletions,
		Kind:        models.SourceKindAPI,
		Description: "depletion-tracking API depletion events",
		EventType:   models.EventTypeDepletion,
		Fields: []FieldSpec{
			{Field: FieldSKU, Required: true, Synonyms: []string{"sku"}},
			{Field: FieldQuantity, Required: true, Synonyms: []string{"quantity"}},
			{Field: FieldDate, Required: true, Synonyms: []string{"occurred_at"}},
			{Field: FieldLocation, Required: true, Synonyms: []string{"location", "warehouse"}},
			{Field: FieldChannel, Synonyms: []string{"channel"}},
			{Field: FieldRecordID, Synonyms: []string{"id"}},
			{Field: FieldOrderID, Synonyms: []string{"order_id"}},
			{Field: FieldCounterparty, Synonyms: []string{"account"}},
		},
		DateFormats: apiDateFormats,
	},
}

var registryByID = func() map[string]*Adapter {
	m := make(map[string]*Adapter, len(registry))
	for _, a := range registry {
		m[a.ID] = a
	}
	return m
}()

// Adapters returns the known adapters in inference priority order.
func Adapters() []*Adapter {
	out := make([]*Adapter, len(registry))
	copy(out, registry)
	return out
}

func Lookup(id string) (*Adapter, bool) {
	a, ok := registryByID[id]
	return a, ok
}
