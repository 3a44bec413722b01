// Package models defines data structures for the purchase-order fetcher.
package models

import (
	"encoding/json"
	"time"
)

// OrderSummary is one entry of a listing page, already reduced to the
// fields the pipeline needs to decide whether an order is worth
// downloading in full.
type OrderSummary struct {
	Codigo        string
	Nombre        string
	CodigoEstado  string
	FechaCreacion time.Time
}

// ListingPage is the decoded body of one listing request. Total carries
// the API's "Cantidad" header when the payload included one; HasTotal
// distinguishes an explicit zero from an absent field.
type ListingPage struct {
	Items    []OrderSummary
	Total    int
	HasTotal bool
}

// DetailDates groups the timestamps of an order detail. The API returns
// them as strings in a handful of layouts, so they stay raw here and are
// parsed on demand.
type DetailDates struct {
	FechaCreacion   string `json:"FechaCreacion"`
	FechaEnvio      string `json:"FechaEnvio"`
	FechaAceptacion string `json:"FechaAceptacion"`
}

// Proveedor identifies the supplier of an order.
type Proveedor struct {
	Nombre       json.RawMessage `json:"Nombre"`
	RutProveedor json.RawMessage `json:"RutProveedor"`
	RutSucursal  json.RawMessage `json:"RutSucursal"`
}

// Comprador identifies the purchasing unit of an order. Nombre is the
// contact person, NombreUnidad the purchasing unit itself.
type Comprador struct {
	NombreUnidad         json.RawMessage `json:"NombreUnidad"`
	NombreOrganismo      json.RawMessage `json:"NombreOrganismo"`
	Nombre               json.RawMessage `json:"Nombre"`
	FuenteFinanciamiento json.RawMessage `json:"FuenteFinanciamiento"`
}

// DetailItem is one line item of an order detail.
type DetailItem struct {
	CodigoCategoria json.RawMessage `json:"CodigoCategoria"`
	Categoria       json.RawMessage `json:"Categoria"`
	CodigoProducto  json.RawMessage `json:"CodigoProducto"`
	Moneda          json.RawMessage `json:"Moneda"`
}

// OrderDetail is the full record of a purchase order as returned by the
// detail endpoint. The API serves most of these fields with more than
// one JSON shape (string, number, object, list), so they are kept as
// json.RawMessage and normalized by the parser package.
type OrderDetail struct {
	Codigo               json.RawMessage `json:"Codigo"`
	Nombre               json.RawMessage `json:"Nombre"`
	CodigoEstado         json.RawMessage `json:"CodigoEstado"`
	Descripcion          json.RawMessage `json:"Descripcion"`
	CodigoLicitacion     json.RawMessage `json:"CodigoLicitacion"`
	Tipo                 json.RawMessage `json:"Tipo"`
	Moneda               json.RawMessage `json:"Moneda"`
	Fechas               DetailDates     `json:"Fechas"`
	Total                json.RawMessage `json:"Total"`
	TotalNeto            json.RawMessage `json:"TotalNeto"`
	Proveedor            Proveedor       `json:"Proveedor"`
	Comprador            Comprador       `json:"Comprador"`
	FuenteFinanciamiento json.RawMessage `json:"FuenteFinanciamiento"`
	Financiamiento       json.RawMessage `json:"Financiamiento"`
	Items                []DetailItem    `json:"-"`
}

// Row is one finished output record. Index is the position the order was
// emitted at during listing and fixes its place in the output file.
type Row struct {
	Index                int
	CodigoOC             string
	Nombre               string
	CodigoEstado         string
	Descripcion          string
	CodigoLicitacion     string
	Tipo                 string
	Moneda               string
	FechaCreacion        string
	FechaEnvio           string
	FechaAceptacion      string
	Total                string
	TotalNeto            string
	Proveedor            string
	RutProveedor         string
	UnidadCompradora     string
	NombreOrganismo      string
	ContactoComprador    string
	FuenteFinanciamiento string
	CodigoCategoria      string
	Categoria            string
	CodigoProducto       string
}

// Columns returns the output header in its fixed order.
func Columns() []string {
	return []string{
		"Código OC",
		"Nombre",
		"Código Estado",
		"Descripción",
		"Código Licitación",
		"Tipo",
		"Moneda",
		"Fecha Creación",
		"Fecha Envío",
		"Fecha Aceptación",
		"Total",
		"Total Neto",
		"Proveedor",
		"Rut Proveedor",
		"Unidad Compradora",
		"Nombre Organismo",
		"Contacto Comprador",
		"Fuente Financiamiento",
		"Codigo categoria",
		"Categoría",
		"Codigo producto",
	}
}

// Record returns the row's fields in the same order as Columns.
func (r *Row) Record() []string {
	return []string{
		r.CodigoOC,
		r.Nombre,
		r.CodigoEstado,
		r.Descripcion,
		r.CodigoLicitacion,
		r.Tipo,
		r.Moneda,
		r.FechaCreacion,
		r.FechaEnvio,
		r.FechaAceptacion,
		r.Total,
		r.TotalNeto,
		r.Proveedor,
		r.RutProveedor,
		r.UnidadCompradora,
		r.NombreOrganismo,
		r.ContactoComprador,
		r.FuenteFinanciamiento,
		r.CodigoCategoria,
		r.Categoria,
		r.CodigoProducto,
	}
}

// FetchResult holds the overall result of a fetch run.
type FetchResult struct {
	StartTime     time.Time
	EndTime       time.Time
	Matched       int
	Enriched      int
	Failed        int
	Skipped       int
	Duplicates    int
	FilteredOut   int
	PageCount     int
	RequestCount  int
	RetryCount    int
	FailedCodigos []string
	ErrorsByType  map[string]int
}
