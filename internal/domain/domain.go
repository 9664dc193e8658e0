package domain

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// Draft defaults mirror the studio form.
const (
	DefaultStyle           = "clean"
	DefaultBackgroundColor = "#a8ddef"
	DefaultBadgeColor      = "#daa520"
)

// Override names a user confirmation forwarded to the rendering service.
type Override string

const (
	OverrideConfirmPeople     Override = "confirm_people"
	OverrideConfirmDrinkaware Override = "confirm_drinkaware"
)

// KnownOverrides lists every override in wire order.
var KnownOverrides = []Override{OverrideConfirmPeople, OverrideConfirmDrinkaware}

// Overrides accumulate across attempts. Flags are only ever switched on.
type Overrides map[Override]bool

// Set switches an override on. Setting it twice is a no-op.
func (o Overrides) Set(flag Override) {
	o[flag] = true
}

func (o Overrides) Active(flag Override) bool {
	return o[flag]
}

// Clone returns an independent copy.
func (o Overrides) Clone() Overrides {
	out := Overrides{}
	for k, v := range o {
		if v {
			out[k] = true
		}
	}
	return out
}

// List returns the active flags in wire order.
func (o Overrides) List() []Override {
	var out []Override
	for _, flag := range KnownOverrides {
		if o[flag] {
			out = append(out, flag)
		}
	}
	return out
}

// CampaignDraft holds the user-entered campaign fields.
type CampaignDraft struct {
	MainMessage     string `json:"main_message" yaml:"main_message"`
	SubMessage      string `json:"sub_message" yaml:"sub_message"`
	CTAText         string `json:"cta_text" yaml:"cta_text"`
	Style           string `json:"style" yaml:"style"`
	BackgroundColor string `json:"background_color" yaml:"background_color"`
	BadgeColor      string `json:"badge_color" yaml:"badge_color"`
	BadgeShape      string `json:"badge_shape" yaml:"badge_shape"`
	ValueTileType   string `json:"value_tile_type,omitempty" yaml:"value_tile_type"`
	ClubcardPrice   string `json:"clubcard_price,omitempty" yaml:"clubcard_price"`
	RegularPrice    string `json:"regular_price,omitempty" yaml:"regular_price"`
	ClubcardEndDate string `json:"clubcard_end_date,omitempty" yaml:"clubcard_end_date"`
	TescoTag        string `json:"tesco_tag,omitempty" yaml:"tesco_tag"`
}

// NewDraft returns a draft populated with the form defaults.
func NewDraft() CampaignDraft {
	return CampaignDraft{
		Style:           DefaultStyle,
		BackgroundColor: DefaultBackgroundColor,
		BadgeColor:      DefaultBadgeColor,
	}
}

// ExtractFields is the scalar payload sent to the extraction endpoint.
type ExtractFields struct {
	Draft     CampaignDraft
	Overrides Overrides
}

// Pairs returns every form field in a stable order. Empty fields are sent
// as empty strings and overrides as "true" or "false".
func (f ExtractFields) Pairs() [][2]string {
	d := f.Draft
	pairs := [][2]string{
		{"main_message", d.MainMessage},
		{"sub_message", d.SubMessage},
		{"cta_text", d.CTAText},
		{"style", d.Style},
		{"background_color", d.BackgroundColor},
		{"badge_color", d.BadgeColor},
		{"badge_shape", d.BadgeShape},
		{"value_tile_type", d.ValueTileType},
		{"clubcard_price", d.ClubcardPrice},
		{"regular_price", d.RegularPrice},
		{"clubcard_end_date", d.ClubcardEndDate},
		{"tesco_tag", d.TescoTag},
	}
	for _, flag := range KnownOverrides {
		pairs = append(pairs, [2]string{string(flag), strconv.FormatBool(f.Overrides.Active(flag))})
	}
	return pairs
}

// Asset is an opaque binary blob selected by the user.
type Asset struct {
	Name string `json:"name"`
	Data []byte `json:"-"`
}

func (a *Asset) Present() bool {
	return a != nil && len(a.Data) > 0
}

// MaxProducts bounds the product images sent with one generation request.
const MaxProducts = 3

// AssetSet carries one logo and one to three ordered product images.
type AssetSet struct {
	Logo     *Asset  `json:"logo,omitempty"`
	Products []Asset `json:"products,omitempty"`
}

// Complete reports whether the set satisfies the submission precondition.
func (s AssetSet) Complete() bool {
	return s.Logo.Present() && len(s.Products) > 0 && s.Products[0].Present()
}

// Spec is the normalized campaign specification returned by extraction.
// Its shape is owned by the service.
type Spec map[string]any

// WithOverrides returns a copy of the spec whose override keys reflect
// exactly the given flags, whatever extraction echoed back.
func (s Spec) WithOverrides(o Overrides) Spec {
	out := make(Spec, len(s)+len(KnownOverrides))
	for k, v := range s {
		out[k] = v
	}
	for _, flag := range KnownOverrides {
		out[string(flag)] = o.Active(flag)
	}
	return out
}

// Verdict is the service's judgement on a generation attempt.
type Verdict struct {
	Valid                bool     `json:"valid"`
	Errors               []string `json:"errors"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
	RequiresCompliance   bool     `json:"requires_compliance"`
}

// Encoding names an image encoding offered for a rendition.
type Encoding string

const (
	EncodingPNG Encoding = "png"
	EncodingJPG Encoding = "jpg"
)

// Encodings lists the encodings in preference order.
var Encodings = []Encoding{EncodingPNG, EncodingJPG}

func (e Encoding) MIMEType() string {
	if e == EncodingJPG {
		return "image/jpeg"
	}
	return "image/png"
}

// Rendition is one rendered output for a format: either a single inline
// image or a set of alternative encodings.
type Rendition struct {
	Inline    string              `json:"inline,omitempty"`
	Encodings map[Encoding]string `json:"encodings,omitempty"`
}

// Display returns the base64 image to show, preferring png over jpg over
// the inline image.
func (r Rendition) Display() string {
	for _, enc := range Encodings {
		if v := r.Encodings[enc]; v != "" {
			return v
		}
	}
	return r.Inline
}

// Download is a handle on one encoding of one rendition.
type Download struct {
	Format   string   `json:"format"`
	Encoding Encoding `json:"encoding"`
	Filename string   `json:"filename"`
	MIMEType string   `json:"mime_type"`
	payload  string
}

// Bytes decodes the handle's own payload.
func (d Download) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(d.payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", d.Format, d.Encoding, err)
	}
	return data, nil
}

// Downloads returns one handle per encoding present on the rendition.
func (r Rendition) Downloads(format string) []Download {
	var out []Download
	for _, enc := range Encodings {
		payload := r.Encodings[enc]
		if payload == "" {
			continue
		}
		out = append(out, Download{
			Format:   format,
			Encoding: enc,
			Filename: fmt.Sprintf("creative_%s.%s", format, enc),
			MIMEType: enc.MIMEType(),
			payload:  payload,
		})
	}
	return out
}

var formatName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidFormat reports whether a format name is safe to use in file names
// and URL paths.
func ValidFormat(name string) bool {
	return len(name) <= 64 && formatName.MatchString(name)
}

// Result maps output format names to renditions.
type Result map[string]Rendition

// Formats returns the format names sorted.
func (r Result) Formats() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// OutcomeKind tags a decoded generation response.
type OutcomeKind string

const (
	OutcomeResult  OutcomeKind = "result"
	OutcomeInvalid OutcomeKind = "invalid"
)

// Outcome is the tagged union returned by the generation client.
type Outcome struct {
	Kind    OutcomeKind
	Result  Result
	Verdict *Verdict
}
