package memory

import (
	"strings"
	"testing"
	"time"
)

func validRecord() *Record {
	now := time.Now()
	return &Record{
		ID:           "mem-1",
		OwnerID:      "alice",
		Type:         TypeFact,
		Content:      "prefers dark mode",
		Confidence:   0.7,
		Importance:   0.5,
		LastAccessed: now,
		CreatedAt:    now,
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validRecord().Validate(); err != nil {
		t.Fatalf("expected valid record, got %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Record)
		field  string
	}{
		{"empty owner", func(r *Record) { r.OwnerID = "" }, "owner_id"},
		{"whitespace owner", func(r *Record) { r.OwnerID = "   " }, "owner_id"},
		{"empty content", func(r *Record) { r.Content = "" }, "content"},
		{"unknown type", func(r *Record) { r.Type = "opinion" }, "type"},
		{"confidence below range", func(r *Record) { r.Confidence = -0.1 }, "confidence"},
		{"confidence above range", func(r *Record) { r.Confidence = 1.1 }, "confidence"},
		{"importance above range", func(r *Record) { r.Importance = 2 }, "importance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(rec)
			err := rec.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			verr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, verr.Field)
			}
		})
	}
}

func TestTypeValid(t *testing.T) {
	for _, typ := range []Type{TypeFact, TypePreference, TypePattern, TypeRelationship, TypeGoal, TypeCorrection} {
		if !typ.Valid() {
			t.Errorf("expected %q to be valid", typ)
		}
	}
	if Type("").Valid() {
		t.Error("empty type should be invalid")
	}
	if Type("hunch").Valid() {
		t.Error("unknown type should be invalid")
	}
}

func TestFeedbackKindValid(t *testing.T) {
	for _, kind := range []FeedbackKind{FeedbackUp, FeedbackDown, FeedbackCorrection} {
		if !kind.Valid() {
			t.Errorf("expected %q to be valid", kind)
		}
	}
	if FeedbackKind("sideways").Valid() {
		t.Error("unknown kind should be invalid")
	}
}

func TestArchived(t *testing.T) {
	rec := validRecord()
	if rec.Archived() {
		t.Error("fresh record should not be archived")
	}
	at := time.Now()
	rec.ArchivedAt = &at
	if !rec.Archived() {
		t.Error("record with archived_at should be archived")
	}
}

func TestClamp01(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{1.5, 1},
	}
	for _, tt := range tests {
		if got := Clamp01(tt.in); got != tt.want {
			t.Errorf("Clamp01(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHash("prefers dark mode")
	b := ContentHash("prefers dark mode")
	c := ContentHash("prefers light mode")

	if a != b {
		t.Error("identical content should hash identically")
	}
	if a == c {
		t.Error("different content should hash differently")
	}
	if len(a) != 64 || strings.ToLower(a) != a {
		t.Errorf("expected lowercase hex sha256, got %q", a)
	}
}
