package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aluiziolira/go-fetch-ordenes/models"
)

// textKeys is the preference order used to pull a human-readable value
// out of an object-shaped field.
var textKeys = []string{"Nombre", "Descripcion", "DescripcionLarga", "DescripcionCorta", "Glosa", "Valor", "Codigo"}

// monedaKeys is the preference order for currency fields, which use a
// different vocabulary than plain text fields.
var monedaKeys = []string{"Nombre", "Descripcion", "DescripcionMoneda", "Codigo", "CodigoMoneda", "Moneda"}

// apiDateLayouts covers the timestamp shapes the API has been seen
// returning. Fractional seconds are accepted by time.Parse without being
// spelled in the layout.
var apiDateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
}

// ParseListingPage decodes one page of the listing endpoint. Entries
// without a usable order code are dropped; entries whose creation date
// does not parse keep a zero time and are filtered out downstream.
func ParseListingPage(data []byte) (*models.ListingPage, error) {
	var env struct {
		Cantidad json.Number       `json:"Cantidad"`
		Listado  []json.RawMessage `json:"Listado"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding listing page: %w", err)
	}

	page := &models.ListingPage{}
	if env.Cantidad != "" {
		if n, err := env.Cantidad.Int64(); err == nil {
			page.Total = int(n)
			page.HasTotal = true
		} else if f, err := env.Cantidad.Float64(); err == nil {
			page.Total = int(f)
			page.HasTotal = true
		}
	}

	for _, raw := range env.Listado {
		var entry struct {
			Codigo        json.RawMessage `json:"Codigo"`
			Nombre        json.RawMessage `json:"Nombre"`
			CodigoEstado  json.RawMessage `json:"CodigoEstado"`
			FechaCreacion json.RawMessage `json:"FechaCreacion"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("decoding listing entry: %w", err)
		}
		codigo := strings.TrimSpace(NormalizeText(entry.Codigo))
		if codigo == "" {
			continue
		}
		summary := models.OrderSummary{
			Codigo:       codigo,
			Nombre:       NormalizeText(entry.Nombre),
			CodigoEstado: NormalizeText(entry.CodigoEstado),
		}
		if t, ok := ParseAPIDate(NormalizeText(entry.FechaCreacion)); ok {
			summary.FechaCreacion = t
		}
		page.Items = append(page.Items, summary)
	}
	return page, nil
}

// detailRecord adds the raw Items envelope to an order detail so the
// polymorphic shapes (object with Listado, object with Item, bare list,
// single object) can be unwrapped after decoding.
type detailRecord struct {
	models.OrderDetail
	RawItems json.RawMessage `json:"Items"`
}

// ParseDetail decodes a detail payload. The second return value is false
// when the payload carries no order, which the API expresses as a
// missing, null or empty Listado.
func ParseDetail(data []byte) (*models.OrderDetail, bool, error) {
	var env struct {
		Listado json.RawMessage `json:"Listado"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("decoding detail payload: %w", err)
	}

	raw := bytes.TrimSpace(env.Listado)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, nil
	}

	var records []json.RawMessage
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, false, fmt.Errorf("decoding detail list: %w", err)
		}
	case '{':
		// Single order returned as an object instead of a one-element list.
		records = []json.RawMessage{raw}
	default:
		return nil, false, fmt.Errorf("unexpected detail listado shape")
	}
	if len(records) == 0 {
		return nil, false, nil
	}

	var rec detailRecord
	if err := json.Unmarshal(records[0], &rec); err != nil {
		return nil, false, fmt.Errorf("decoding detail record: %w", err)
	}
	det := rec.OrderDetail
	det.Items = parseItems(rec.RawItems)
	return &det, true, nil
}

// parseItems unwraps the Items field of a detail record. It accepts an
// envelope object keyed Listado or Item, a bare list, or a single item
// object.
func parseItems(raw json.RawMessage) []models.DetailItem {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	switch raw[0] {
	case '{':
		var env struct {
			Listado json.RawMessage `json:"Listado"`
			Item    json.RawMessage `json:"Item"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil
		}
		if items := itemList(env.Listado); items != nil {
			return items
		}
		return itemList(env.Item)
	case '[':
		return itemList(raw)
	}
	return nil
}

func itemList(raw json.RawMessage) []models.DetailItem {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	switch raw[0] {
	case '[':
		var items []models.DetailItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
		return items
	case '{':
		var item models.DetailItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil
		}
		return []models.DetailItem{item}
	}
	return nil
}

// ParseAPIDate parses a timestamp string from the API and reduces it to
// a UTC date. The second return value reports whether any known layout
// matched.
func ParseAPIDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range apiDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// FormatOutputDate renders an API timestamp as DD-MM-YYYY for the output
// file, or "" when the value does not parse.
func FormatOutputDate(value string) string {
	t, ok := ParseAPIDate(value)
	if !ok {
		return ""
	}
	return t.Format("02-01-2006")
}

// NormalizeText reduces a polymorphic JSON value to a string. Strings
// pass through, numbers keep their literal, lists yield their first
// non-empty element and objects are searched by the usual text keys.
func NormalizeText(raw json.RawMessage) string {
	return normalize(raw, textKeys)
}

// NormalizeMoneda is NormalizeText with the currency key vocabulary.
func NormalizeMoneda(raw json.RawMessage) string {
	return normalize(raw, monedaKeys)
}

func normalize(raw json.RawMessage, keys []string) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return ""
		}
		return s
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return ""
		}
		for _, el := range list {
			if v := normalize(el, keys); v != "" {
				return v
			}
		}
		return ""
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return ""
		}
		for _, key := range keys {
			if el, ok := obj[key]; ok {
				if v := normalize(el, keys); v != "" {
					return v
				}
			}
		}
		return ""
	default:
		// Number or boolean literal.
		return string(trimmed)
	}
}

// Moneda resolves the currency of an order, falling back to the first
// line item when the order itself carries none.
func Moneda(det *models.OrderDetail) string {
	if m := NormalizeMoneda(det.Moneda); m != "" {
		return m
	}
	if len(det.Items) > 0 {
		return NormalizeMoneda(det.Items[0].Moneda)
	}
	return ""
}

// FuenteFinanciamiento resolves the funding source of an order across
// the three places the API may put it.
func FuenteFinanciamiento(det *models.OrderDetail) string {
	if v := NormalizeText(det.FuenteFinanciamiento); v != "" {
		return v
	}
	if v := NormalizeText(det.Financiamiento); v != "" {
		return v
	}
	return NormalizeText(det.Comprador.FuenteFinanciamiento)
}

// RutProveedor resolves the supplier's tax id, preferring the supplier
// record over the branch record.
func RutProveedor(det *models.OrderDetail) string {
	if v := NormalizeText(det.Proveedor.RutProveedor); v != "" {
		return v
	}
	return NormalizeText(det.Proveedor.RutSucursal)
}

// BuildRow maps an order detail onto the fixed output columns.
func BuildRow(det *models.OrderDetail) *models.Row {
	var first models.DetailItem
	if len(det.Items) > 0 {
		first = det.Items[0]
	}
	return &models.Row{
		CodigoOC:             NormalizeText(det.Codigo),
		Nombre:               NormalizeText(det.Nombre),
		CodigoEstado:         NormalizeText(det.CodigoEstado),
		Descripcion:          NormalizeText(det.Descripcion),
		CodigoLicitacion:     NormalizeText(det.CodigoLicitacion),
		Tipo:                 NormalizeText(det.Tipo),
		Moneda:               Moneda(det),
		FechaCreacion:        FormatOutputDate(det.Fechas.FechaCreacion),
		FechaEnvio:           FormatOutputDate(det.Fechas.FechaEnvio),
		FechaAceptacion:      FormatOutputDate(det.Fechas.FechaAceptacion),
		Total:                NormalizeText(det.Total),
		TotalNeto:            NormalizeText(det.TotalNeto),
		Proveedor:            NormalizeText(det.Proveedor.Nombre),
		RutProveedor:         RutProveedor(det),
		UnidadCompradora:     NormalizeText(det.Comprador.NombreUnidad),
		NombreOrganismo:      NormalizeText(det.Comprador.NombreOrganismo),
		ContactoComprador:    NormalizeText(det.Comprador.Nombre),
		FuenteFinanciamiento: FuenteFinanciamiento(det),
		CodigoCategoria:      NormalizeText(first.CodigoCategoria),
		Categoria:            NormalizeText(first.Categoria),
		CodigoProducto:       NormalizeText(first.CodigoProducto),
	}
}

// ValidateRow ensures a row carries the fields the output cannot do
// without.
func ValidateRow(r *models.Row) error {
	if r == nil {
		return fmt.Errorf("row is nil")
	}
	if strings.TrimSpace(r.CodigoOC) == "" {
		return fmt.Errorf("row missing order code")
	}
	return nil
}
