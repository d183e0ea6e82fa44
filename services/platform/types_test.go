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

import (
	"testing"
	"time"
)

func TestDecodeRecord_WidgetFamily(t *testing.T) {
	raw := map[string]any{
		"sys_id":         "0af5b3d20b10220050192f15d6673ae1",
		"name":           "incident_dashboard",
		"title":          "Incident Dashboard",
		"template":       "<div>{{c.data.count}}</div>",
		"css":            ".panel { color: red; }",
		"client_script":  "function() {}",
		"script":         "(function() {})()",
		"sys_updated_on": "2026-08-20 09:15:00",
	}

	record := DecodeRecord("sp_widget", raw)
	widget, ok := record.(*WidgetRecord)
	if !ok {
		t.Fatalf("DecodeRecord returned %T, want *WidgetRecord", record)
	}

	if widget.Env.Name != "incident_dashboard" {
		t.Errorf("Name = %q, want %q (the name field outranks title)", widget.Env.Name, "incident_dashboard")
	}
	if widget.Title != "Incident Dashboard" {
		t.Errorf("Title = %q", widget.Title)
	}
	if widget.Template == "" || widget.CSS == "" || widget.ClientScript == "" || widget.ServerScript == "" {
		t.Error("widget body fields should all be populated")
	}

	want := time.Date(2026, 8, 20, 9, 15, 0, 0, time.UTC)
	if !widget.Env.UpdatedAt.Equal(want) {
		t.Errorf("UpdatedAt = %v, want %v", widget.Env.UpdatedAt, want)
	}
}

func TestDecodeRecord_NamePriority(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		want   string
	}{
		{
			name:   "name wins over title",
			fields: map[string]any{"name": "api_name", "title": "Display Title"},
			want:   "api_name",
		},
		{
			name:   "title when no name",
			fields: map[string]any{"title": "Display Title", "short_description": "desc"},
			want:   "Display Title",
		},
		{
			name:   "short_description as fallback",
			fields: map[string]any{"short_description": "Request a laptop"},
			want:   "Request a laptop",
		},
		{
			name:   "label for table definitions",
			fields: map[string]any{"label": "Incident"},
			want:   "Incident",
		},
		{
			name:   "blank name is skipped",
			fields: map[string]any{"name": "   ", "title": "Real Title"},
			want:   "Real Title",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := DecodeRecord("some_collection", tt.fields)
			if got := record.Envelope().Name; got != tt.want {
				t.Errorf("Name = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeRecord_ReferenceFieldsFlattened(t *testing.T) {
	raw := map[string]any{
		"sys_id": "abc",
		"name":   "Laptop",
		"category": map[string]any{
			"value": "hardware123",
			"link":  "https://instance/api/now/table/sc_category/hardware123",
		},
	}

	record := DecodeRecord("sc_cat_item", raw)
	item, ok := record.(*CatalogItemRecord)
	if !ok {
		t.Fatalf("DecodeRecord returned %T, want *CatalogItemRecord", record)
	}
	if item.Category != "hardware123" {
		t.Errorf("Category = %q, want the reference value", item.Category)
	}
}

func TestDecodeRecord_ActiveFlag(t *testing.T) {
	absent := DecodeRecord("sp_widget", map[string]any{"sys_id": "a"})
	if !absent.Envelope().Active {
		t.Error("records without an active field should default to active")
	}

	inactive := DecodeRecord("sp_widget", map[string]any{"sys_id": "a", "active": "false"})
	if inactive.Envelope().Active {
		t.Error("active=false should decode as inactive")
	}

	boolTrue := DecodeRecord("sp_widget", map[string]any{"sys_id": "a", "active": true})
	if !boolTrue.Envelope().Active {
		t.Error("boolean true should decode as active")
	}
}

func TestDecodeRecord_MalformedTimestampIsZero(t *testing.T) {
	record := DecodeRecord("sp_widget", map[string]any{
		"sys_id":         "a",
		"sys_updated_on": "not a timestamp",
	})
	if !record.Envelope().UpdatedAt.IsZero() {
		t.Errorf("UpdatedAt = %v, want zero time for malformed input", record.Envelope().UpdatedAt)
	}
}

func TestDecodeRecord_UnknownCollectionIsGeneric(t *testing.T) {
	record := DecodeRecord("x_custom_app_table", map[string]any{
		"sys_id": "a",
		"name":   "Something",
		"extra":  "kept",
	})
	generic, ok := record.(*GenericRecord)
	if !ok {
		t.Fatalf("DecodeRecord returned %T, want *GenericRecord", record)
	}
	if generic.Fields["extra"] != "kept" {
		t.Error("generic records should keep all string fields")
	}
}

func TestDecodeRecords_PreservesOrder(t *testing.T) {
	raw := []map[string]any{
		{"sys_id": "1", "name": "first"},
		{"sys_id": "2", "name": "second"},
		{"sys_id": "3", "name": "third"},
	}
	records := DecodeRecords("sys_script", raw)
	if len(records) != 3 {
		t.Fatalf("len = %d, want 3", len(records))
	}
	for i, want := range []string{"1", "2", "3"} {
		if got := records[i].Envelope().SysID; got != want {
			t.Errorf("records[%d].SysID = %q, want %q", i, got, want)
		}
	}
}

func TestFamilyForCollection(t *testing.T) {
	tests := []struct {
		collection string
		want       Family
	}{
		{"sp_widget", FamilyWidget},
		{"sys_script_include", FamilyScript},
		{"sys_hub_flow", FamilyFlow},
		{"sys_db_object", FamilyTable},
		{"sc_cat_item", FamilyCatalogItem},
		{"sp_page", FamilyPage},
		{"never_heard_of_it", FamilyGeneric},
	}
	for _, tt := range tests {
		if got := FamilyForCollection(tt.collection); got != tt.want {
			t.Errorf("FamilyForCollection(%q) = %q, want %q", tt.collection, got, tt.want)
		}
	}
}
