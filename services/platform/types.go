// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package platform

// =============================================================================
// Record Types — Tagged Union over Artifact Kind Families
// =============================================================================
//
// The platform serializes every record as a flat JSON object of strings, no
// matter the collection. Passing those maps around untyped caused a steady
// stream of "field assumed present" bugs upstream, so the boundary decodes
// each record into a kind-family variant carrying only the fields that family
// actually uses, plus a shared envelope.
//
// Families are deliberately coarser than artifact kinds: a business rule and
// a script include are different kinds (different collections, different
// keywords) but the same family (a named server-side script). ~70 kinds
// collapse into 6 families plus a generic fallback.
//
// The union is closed: Record has an unexported method, so only this package
// can add variants. New collections decode to GenericRecord until someone
// teaches recordShapes about them.

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the platform's wire format for datetime fields (UTC).
const TimeLayout = "2006-01-02 15:04:05"

// Family identifies which variant a decoded record uses.
type Family string

const (
	FamilyGeneric     Family = "generic"
	FamilyScript      Family = "script"
	FamilyWidget      Family = "widget"
	FamilyFlow        Family = "flow"
	FamilyTable       Family = "table"
	FamilyCatalogItem Family = "catalog_item"
	FamilyPage        Family = "page"
)

// collectionFamilies maps known collections to their decode family.
// Collections absent from this map decode as FamilyGeneric, which is always
// safe — generic records keep every field as a string.
var collectionFamilies = map[string]Family{
	"sp_widget": FamilyWidget,

	"sys_script":             FamilyScript,
	"sys_script_include":     FamilyScript,
	"sys_script_client":      FamilyScript,
	"sys_script_fix":         FamilyScript,
	"sys_ui_script":          FamilyScript,
	"sysauto_script":         FamilyScript,
	"sysevent_script_action": FamilyScript,

	"sys_hub_flow":                   FamilyFlow,
	"sys_hub_action_type_definition": FamilyFlow,
	"wf_workflow":                    FamilyFlow,

	"sys_db_object": FamilyTable,

	"sc_cat_item":          FamilyCatalogItem,
	"sc_cat_item_producer": FamilyCatalogItem,
	"sc_cat_item_guide":    FamilyCatalogItem,

	"sp_page":     FamilyPage,
	"sys_ui_page": FamilyPage,
}

// FamilyForCollection returns the decode family for a collection,
// FamilyGeneric when the collection is not known.
func FamilyForCollection(collection string) Family {
	if f, ok := collectionFamilies[collection]; ok {
		return f
	}
	return FamilyGeneric
}

// nameFieldPriority is the order in which envelope decoding looks for a
// display name. Collections disagree about what their "name" is; this
// priority covers every known collection without a per-collection table.
var nameFieldPriority = []string{"name", "title", "short_description", "label", "number", "id"}

// =============================================================================
// Envelope
// =============================================================================

// RecordEnvelope carries the fields every collection shares. All variants
// embed one.
type RecordEnvelope struct {
	SysID      string
	Collection string
	Name       string
	UpdatedAt  time.Time
	Active     bool
}

// Record is the closed union of decoded platform records.
type Record interface {
	// Envelope returns the shared header fields.
	Envelope() RecordEnvelope

	// FieldMap returns every wire field as a string, for formatting,
	// archiving, and patch tooling. The map is owned by the record;
	// callers must not mutate it.
	FieldMap() map[string]string

	// isRecord keeps the union closed to this package.
	isRecord()
}

// =============================================================================
// Variants
// =============================================================================

// GenericRecord is the fallback variant for collections without a dedicated
// family. It carries no typed fields beyond the envelope.
type GenericRecord struct {
	Env    RecordEnvelope
	Fields map[string]string
}

func (r *GenericRecord) Envelope() RecordEnvelope    { return r.Env }
func (r *GenericRecord) FieldMap() map[string]string { return r.Fields }
func (r *GenericRecord) isRecord()                   {}

// ScriptRecord covers named server/client script artifacts: business rules,
// script includes, client scripts, fix scripts, scheduled scripts.
type ScriptRecord struct {
	Env         RecordEnvelope
	APIName     string
	Script      string
	Description string
	Fields      map[string]string
}

func (r *ScriptRecord) Envelope() RecordEnvelope    { return r.Env }
func (r *ScriptRecord) FieldMap() map[string]string { return r.Fields }
func (r *ScriptRecord) isRecord()                   {}

// WidgetRecord covers portal widgets: an HTML template plus optional CSS,
// client controller, and server script.
type WidgetRecord struct {
	Env          RecordEnvelope
	ID           string
	Title        string
	Template     string
	CSS          string
	ClientScript string
	ServerScript string
	Description  string
	Fields       map[string]string
}

func (r *WidgetRecord) Envelope() RecordEnvelope    { return r.Env }
func (r *WidgetRecord) FieldMap() map[string]string { return r.Fields }
func (r *WidgetRecord) isRecord()                   {}

// FlowRecord covers flows, subflows, actions, and legacy workflows.
type FlowRecord struct {
	Env         RecordEnvelope
	Description string
	TriggerType string
	RunAs       string
	Fields      map[string]string
}

func (r *FlowRecord) Envelope() RecordEnvelope    { return r.Env }
func (r *FlowRecord) FieldMap() map[string]string { return r.Fields }
func (r *FlowRecord) isRecord()                   {}

// TableRecord covers table definitions.
type TableRecord struct {
	Env     RecordEnvelope
	Label   string
	Extends string
	Fields  map[string]string
}

func (r *TableRecord) Envelope() RecordEnvelope    { return r.Env }
func (r *TableRecord) FieldMap() map[string]string { return r.Fields }
func (r *TableRecord) isRecord()                   {}

// CatalogItemRecord covers catalog items, record producers, and order guides.
type CatalogItemRecord struct {
	Env              RecordEnvelope
	ShortDescription string
	Category         string
	Price            string
	Fields           map[string]string
}

func (r *CatalogItemRecord) Envelope() RecordEnvelope    { return r.Env }
func (r *CatalogItemRecord) FieldMap() map[string]string { return r.Fields }
func (r *CatalogItemRecord) isRecord()                   {}

// PageRecord covers portal pages and UI pages.
type PageRecord struct {
	Env    RecordEnvelope
	Title  string
	CSS    string
	Fields map[string]string
}

func (r *PageRecord) Envelope() RecordEnvelope    { return r.Env }
func (r *PageRecord) FieldMap() map[string]string { return r.Fields }
func (r *PageRecord) isRecord()                   {}

// =============================================================================
// Decoding
// =============================================================================

// DecodeRecord converts one raw platform object into its family variant.
//
// # Description
//
// The wire format is a flat JSON object. Scalar values arrive as strings;
// reference fields arrive as {"value": "...", "link": "..."} objects, from
// which only the value survives. Unknown value shapes are dropped rather
// than erroring — a record with a surprising field is still a record.
//
// The envelope is filled from well-known fields: sys_id, the first present
// name-priority field, sys_updated_on (falling back to sys_created_on), and
// active (absent means active — most configuration collections have no
// active flag and their records are always "live").
//
// # Inputs
//
//   - collection: The collection the object came from. Selects the family.
//   - raw: Decoded JSON object. Nil or empty produces an empty GenericRecord.
//
// # Outputs
//
//   - Record: The decoded variant. Never nil.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func DecodeRecord(collection string, raw map[string]any) Record {
	fields := flattenFields(raw)
	env := decodeEnvelope(collection, fields)

	switch FamilyForCollection(collection) {
	case FamilyScript:
		return &ScriptRecord{
			Env:         env,
			APIName:     fields["api_name"],
			Script:      fields["script"],
			Description: fields["description"],
			Fields:      fields,
		}
	case FamilyWidget:
		return &WidgetRecord{
			Env:          env,
			ID:           fields["id"],
			Title:        fields["title"],
			Template:     fields["template"],
			CSS:          fields["css"],
			ClientScript: fields["client_script"],
			ServerScript: fields["script"],
			Description:  fields["description"],
			Fields:       fields,
		}
	case FamilyFlow:
		return &FlowRecord{
			Env:         env,
			Description: fields["description"],
			TriggerType: fields["trigger_type"],
			RunAs:       fields["run_as"],
			Fields:      fields,
		}
	case FamilyTable:
		return &TableRecord{
			Env:     env,
			Label:   fields["label"],
			Extends: fields["super_class"],
			Fields:  fields,
		}
	case FamilyCatalogItem:
		return &CatalogItemRecord{
			Env:              env,
			ShortDescription: fields["short_description"],
			Category:         fields["category"],
			Price:            fields["price"],
			Fields:           fields,
		}
	case FamilyPage:
		return &PageRecord{
			Env:    env,
			Title:  fields["title"],
			CSS:    fields["css"],
			Fields: fields,
		}
	default:
		return &GenericRecord{Env: env, Fields: fields}
	}
}

// DecodeRecords converts a list of raw platform objects, preserving order.
func DecodeRecords(collection string, raw []map[string]any) []Record {
	records := make([]Record, 0, len(raw))
	for _, r := range raw {
		records = append(records, DecodeRecord(collection, r))
	}
	return records
}

// flattenFields converts a raw JSON object into flat string fields.
// Reference objects contribute their "value"; other non-strings are dropped.
func flattenFields(raw map[string]any) map[string]string {
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case map[string]any:
			if inner, ok := val["value"].(string); ok {
				fields[k] = inner
			}
		case bool:
			if val {
				fields[k] = "true"
			} else {
				fields[k] = "false"
			}
		case float64:
			// JSON numbers are rare on this wire (everything is stringly
			// typed) but some aggregate endpoints emit them.
			fields[k] = trimFloat(val)
		}
	}
	return fields
}

// decodeEnvelope extracts the shared header fields.
func decodeEnvelope(collection string, fields map[string]string) RecordEnvelope {
	env := RecordEnvelope{
		SysID:      fields["sys_id"],
		Collection: collection,
		Active:     true,
	}

	for _, f := range nameFieldPriority {
		if v := strings.TrimSpace(fields[f]); v != "" {
			env.Name = v
			break
		}
	}

	ts := fields["sys_updated_on"]
	if ts == "" {
		ts = fields["sys_created_on"]
	}
	if ts != "" {
		if t, err := time.Parse(TimeLayout, ts); err == nil {
			env.UpdatedAt = t.UTC()
		}
	}

	if v, ok := fields["active"]; ok {
		env.Active = strings.EqualFold(v, "true")
	}
	return env
}

// trimFloat renders a JSON number, without decimals when it is integral.
func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// KnownCollections returns the collections with a dedicated decode family,
// sorted, for the debug endpoint.
func KnownCollections() []string {
	out := make([]string, 0, len(collectionFamilies))
	for c := range collectionFamilies {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
