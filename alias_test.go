package saft

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLookupUnmappedField(t *testing.T) {
	got := DefaultAliases.Lookup("NoSuchField")
	if len(got) != 1 || got[0] != "NoSuchField" {
		t.Errorf("Lookup fallback = %v, want the field's own name", got)
	}
}

func TestCloneIndependence(t *testing.T) {
	clone := DefaultAliases.Clone()
	clone["VoucherID"] = append(clone["VoucherID"], "Bilagsnr")
	for _, sp := range DefaultAliases["VoucherID"] {
		if sp == "Bilagsnr" {
			t.Fatal("Clone mutated the source table")
		}
	}
}

func TestLoadAliasOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	overlay := "VoucherID:\n  - Bilagsnr\n  - TransactionID\nNewField:\n  - Spelling\n"
	if err := os.WriteFile(path, []byte(overlay), 0o644); err != nil {
		t.Fatal(err)
	}

	merged, err := LoadAliasOverlay(DefaultAliases, path)
	if err != nil {
		t.Fatal(err)
	}

	spellings := merged.Lookup("VoucherID")
	count := map[string]int{}
	for _, sp := range spellings {
		count[sp]++
	}
	if count["Bilagsnr"] != 1 {
		t.Errorf("overlay spelling not merged: %v", spellings)
	}
	if count["TransactionID"] != 1 {
		t.Errorf("existing spelling duplicated: %v", spellings)
	}
	if spellings[0] != "TransactionID" {
		t.Errorf("overlay reordered built-in priority: %v", spellings)
	}
	if got := merged.Lookup("NewField"); len(got) != 1 || got[0] != "Spelling" {
		t.Errorf("overlay-introduced field = %v", got)
	}
}

func TestLoadAliasOverlayMissingFile(t *testing.T) {
	if _, err := LoadAliasOverlay(DefaultAliases, "/no/such/file.yaml"); err == nil {
		t.Fatal("expected error for missing overlay file")
	}
}

func TestKnownTagsCoverAliases(t *testing.T) {
	for field, spellings := range DefaultAliases {
		for _, sp := range spellings {
			if !knownTags[sp] {
				t.Errorf("spelling %q of %s missing from the census whitelist", sp, field)
			}
		}
	}
	if knownTags["Frobnicator"] {
		t.Error("census whitelist should not invent names")
	}
}
