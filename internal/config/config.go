package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"creativeline/internal/domain"
)

// Campaign models a campaign.yml draft file. Override flags are not part of
// it: they can only be switched on by answering a confirmation.
type Campaign struct {
	Draft  domain.CampaignDraft `yaml:"draft"`
	Assets struct {
		Logo     string   `yaml:"logo"`
		Products []string `yaml:"products"`
	} `yaml:"assets"`
}

var (
	colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	badgeShapes  = map[string]bool{"": true, "circle": true, "square": true, "hexagon": true}
)

// Validate ensures the campaign file meets required structure.
func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Draft.Style) == "" {
		return fmt.Errorf("draft.style is required")
	}
	if !badgeShapes[c.Draft.BadgeShape] {
		return fmt.Errorf("draft.badge_shape must be one of circle, square, hexagon")
	}
	for name, v := range map[string]string{
		"draft.background_color": c.Draft.BackgroundColor,
		"draft.badge_color":      c.Draft.BadgeColor,
	} {
		if v != "" && !colorPattern.MatchString(v) {
			return fmt.Errorf("%s must look like #rrggbb, got %q", name, v)
		}
	}
	if strings.TrimSpace(c.Assets.Logo) == "" {
		return fmt.Errorf("assets.logo is required")
	}
	if len(c.Assets.Products) == 0 {
		return fmt.Errorf("assets.products needs at least one image")
	}
	if len(c.Assets.Products) > domain.MaxProducts {
		return fmt.Errorf("assets.products accepts at most %d images", domain.MaxProducts)
	}
	for i, p := range c.Assets.Products {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("assets.products[%d] is empty", i)
		}
	}
	return nil
}

// LoadAssets reads the referenced images. Relative paths resolve against dir.
func (c *Campaign) LoadAssets(dir string) (domain.AssetSet, error) {
	var set domain.AssetSet
	logo, err := ReadAsset(resolve(dir, c.Assets.Logo))
	if err != nil {
		return set, err
	}
	set.Logo = &logo
	for _, p := range c.Assets.Products {
		a, err := ReadAsset(resolve(dir, p))
		if err != nil {
			return set, err
		}
		set.Products = append(set.Products, a)
	}
	return set, nil
}

// ReadAsset loads one image file as an asset named after its base name.
func ReadAsset(path string) (domain.Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("read asset: %w", err)
	}
	if len(data) == 0 {
		return domain.Asset{}, fmt.Errorf("asset %s is empty", path)
	}
	return domain.Asset{Name: filepath.Base(path), Data: data}, nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}

// Path returns the default campaign file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "campaign.yml")
}

// GenerateDefault returns a starter campaign file.
func GenerateDefault(mainMessage string) string {
	return fmt.Sprintf(defaultTemplate, mainMessage, domain.DefaultStyle, domain.DefaultBackgroundColor, domain.DefaultBadgeColor)
}

// FromYAML parses and validates a campaign from raw YAML bytes. Fields left
// out of the file keep their defaults.
func FromYAML(data []byte) (*Campaign, error) {
	cfg := Campaign{Draft: domain.NewDraft()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid campaign yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads a YAML campaign from the given path.
func FromFile(path string) (*Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("campaign file %s not found; create one with cl draft create --template", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `draft:
  main_message: %q
  sub_message: ""
  cta_text: "Shop now"
  style: %s
  background_color: "%s"
  badge_color: "%s"
  badge_shape: circle
  # value_tile_type: clubcard
  # clubcard_price: "1.50"
  # regular_price: "2.00"
  # clubcard_end_date: "2025-12-31"
  # tesco_tag: ""

assets:
  logo: logo.png
  products:
    - product.png
`
