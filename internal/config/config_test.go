package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultTemplateValidates(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault("Fresh Juice")))
	if err != nil {
		t.Fatalf("default template invalid: %v", err)
	}
	if cfg.Draft.MainMessage != "Fresh Juice" || cfg.Draft.Style != "clean" {
		t.Fatalf("unexpected draft: %+v", cfg.Draft)
	}
	if cfg.Assets.Logo != "logo.png" || len(cfg.Assets.Products) != 1 {
		t.Fatalf("unexpected assets: %+v", cfg.Assets)
	}
}

func TestMissingFieldsKeepDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("draft:\n  main_message: Hi\nassets:\n  logo: l.png\n  products: [p.png]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Draft.BackgroundColor != "#a8ddef" || cfg.Draft.BadgeColor != "#daa520" {
		t.Fatalf("defaults lost: %+v", cfg.Draft)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"badge_shape": "draft:\n  badge_shape: star\nassets:\n  logo: l.png\n  products: [p.png]\n",
		"#rrggbb":     "draft:\n  badge_color: gold\nassets:\n  logo: l.png\n  products: [p.png]\n",
		"logo":        "assets:\n  products: [p.png]\n",
		"at least":    "assets:\n  logo: l.png\n",
		"at most":     "assets:\n  logo: l.png\n  products: [a, b, c, d]\n",
		"style":       "draft:\n  style: \"\"\nassets:\n  logo: l.png\n  products: [p.png]\n",
	}
	for want, doc := range cases {
		_, err := FromYAML([]byte(doc))
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error mentioning %q, got %v", want, err)
		}
	}
}

func TestLoadAssetsResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "logo.png"), []byte("logo"), 0o644); err != nil {
		t.Fatalf("write logo: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "product.png"), []byte("product"), 0o644); err != nil {
		t.Fatalf("write product: %v", err)
	}
	path := filepath.Join(dir, "campaign.yml")
	if err := os.WriteFile(path, []byte(GenerateDefault("Hi")), 0o644); err != nil {
		t.Fatalf("write campaign: %v", err)
	}
	cfg, err := FromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	set, err := cfg.LoadAssets(dir)
	if err != nil {
		t.Fatalf("assets: %v", err)
	}
	if !set.Complete() || set.Logo.Name != "logo.png" || string(set.Products[0].Data) != "product" {
		t.Fatalf("unexpected asset set: %+v", set)
	}
	if _, err := FromFile(filepath.Join(dir, "missing.yml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
