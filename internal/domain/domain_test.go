package domain_test

import (
	"encoding/base64"
	"testing"

	"creativeline/internal/domain"
)

func TestRenditionDownloadsBothEncodings(t *testing.T) {
	png := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	jpg := base64.StdEncoding.EncodeToString([]byte("jpg-bytes"))
	r := domain.Rendition{Encodings: map[domain.Encoding]string{
		domain.EncodingPNG: png,
		domain.EncodingJPG: jpg,
	}}
	downloads := r.Downloads("square")
	if len(downloads) != 2 {
		t.Fatalf("expected 2 downloads, got %d", len(downloads))
	}
	want := map[domain.Encoding]string{domain.EncodingPNG: "png-bytes", domain.EncodingJPG: "jpg-bytes"}
	for _, d := range downloads {
		data, err := d.Bytes()
		if err != nil {
			t.Fatalf("decode %s: %v", d.Encoding, err)
		}
		if string(data) != want[d.Encoding] {
			t.Fatalf("%s payload mismatch: %q", d.Encoding, data)
		}
	}
	if downloads[0].Filename != "creative_square.png" || downloads[1].Filename != "creative_square.jpg" {
		t.Fatalf("unexpected filenames: %s, %s", downloads[0].Filename, downloads[1].Filename)
	}
	if downloads[1].MIMEType != "image/jpeg" {
		t.Fatalf("unexpected jpg mime: %s", downloads[1].MIMEType)
	}
	if r.Display() != png {
		t.Fatalf("display should prefer png")
	}
}

func TestRenditionSingleEncodingOffersOneHandle(t *testing.T) {
	jpg := base64.StdEncoding.EncodeToString([]byte("only-jpg"))
	r := domain.Rendition{Encodings: map[domain.Encoding]string{domain.EncodingJPG: jpg}}
	downloads := r.Downloads("story")
	if len(downloads) != 1 || downloads[0].Encoding != domain.EncodingJPG {
		t.Fatalf("expected a single jpg handle, got %+v", downloads)
	}
	if r.Display() != jpg {
		t.Fatalf("display should fall back to jpg")
	}

	inline := domain.Rendition{Inline: "iVBORw0"}
	if got := inline.Downloads("landscape"); len(got) != 0 {
		t.Fatalf("inline rendition must not offer handles: %+v", got)
	}
	if inline.Display() != "iVBORw0" {
		t.Fatalf("inline display mismatch")
	}
}

func TestSpecWithOverridesIsAuthoritative(t *testing.T) {
	extracted := domain.Spec{"main_message": "Gin", "confirm_people": false}
	o := domain.Overrides{}
	o.Set(domain.OverrideConfirmPeople)
	got := extracted.WithOverrides(o)
	if got["confirm_people"] != true {
		t.Fatalf("confirm_people not injected: %v", got)
	}
	if got["confirm_drinkaware"] != false {
		t.Fatalf("confirm_drinkaware must be present and false: %v", got)
	}
	if extracted["confirm_people"] != false {
		t.Fatalf("source spec mutated")
	}
}

func TestOverridesAreMonotonic(t *testing.T) {
	o := domain.Overrides{}
	o.Set(domain.OverrideConfirmPeople)
	o.Set(domain.OverrideConfirmPeople)
	if !o.Active(domain.OverrideConfirmPeople) {
		t.Fatalf("double set toggled the flag off")
	}
	if len(o.List()) != 1 {
		t.Fatalf("unexpected active list: %v", o.List())
	}
}

func TestExtractFieldsSendEveryField(t *testing.T) {
	o := domain.Overrides{}
	o.Set(domain.OverrideConfirmDrinkaware)
	pairs := domain.ExtractFields{Draft: domain.NewDraft(), Overrides: o}.Pairs()
	got := map[string]string{}
	for _, p := range pairs {
		got[p[0]] = p[1]
	}
	for _, field := range []string{
		"main_message", "sub_message", "cta_text", "style", "background_color", "badge_color", "badge_shape",
		"value_tile_type", "clubcard_price", "regular_price", "clubcard_end_date", "tesco_tag",
	} {
		if _, ok := got[field]; !ok {
			t.Fatalf("field %s missing from %v", field, pairs)
		}
	}
	if len(pairs) != 14 {
		t.Fatalf("expected 12 fields and 2 overrides, got %d", len(pairs))
	}
	if got["confirm_drinkaware"] != "true" || got["confirm_people"] != "false" {
		t.Fatalf("overrides not stringified: %v", got)
	}
	if got["style"] != domain.DefaultStyle {
		t.Fatalf("style default not sent: %q", got["style"])
	}
}

func TestValidFormat(t *testing.T) {
	for _, name := range []string{"square", "story", "landscape_wide", "a-1"} {
		if !domain.ValidFormat(name) {
			t.Fatalf("%q rejected", name)
		}
	}
	for _, name := range []string{"", "..", "../x", "a/b", `a\b`, ".hidden", "a b"} {
		if domain.ValidFormat(name) {
			t.Fatalf("%q accepted", name)
		}
	}
}

func TestImageRecordLocationPrefersURLMap(t *testing.T) {
	r := domain.ImageRecord{URL: "legacy.png", URLs: map[domain.Encoding]string{domain.EncodingJPG: "new.jpg"}}
	if r.Location() != "new.jpg" {
		t.Fatalf("expected url map to win, got %s", r.Location())
	}
	if len(r.Downloads()) != 1 {
		t.Fatalf("expected one download, got %+v", r.Downloads())
	}
	legacy := domain.ImageRecord{URL: "legacy.png"}
	if legacy.Location() != "legacy.png" || len(legacy.Downloads()) != 0 {
		t.Fatalf("legacy record resolved wrongly: %s %+v", legacy.Location(), legacy.Downloads())
	}
}
