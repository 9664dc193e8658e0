package server

import (
	"sort"
	"time"

	"creativeline/internal/domain"
)

// Request payloads

type CreateDraftRequest struct {
	MainMessage     string `json:"main_message,omitempty"`
	SubMessage      string `json:"sub_message,omitempty"`
	CTAText         string `json:"cta_text,omitempty"`
	Style           string `json:"style,omitempty"`
	BackgroundColor string `json:"background_color,omitempty" pattern:"^#[0-9a-fA-F]{6}$"`
	BadgeColor      string `json:"badge_color,omitempty" pattern:"^#[0-9a-fA-F]{6}$"`
	BadgeShape      string `json:"badge_shape,omitempty" enum:"circle,square,hexagon"`
	ValueTileType   string `json:"value_tile_type,omitempty"`
	ClubcardPrice   string `json:"clubcard_price,omitempty"`
	RegularPrice    string `json:"regular_price,omitempty"`
	ClubcardEndDate string `json:"clubcard_end_date,omitempty"`
	TescoTag        string `json:"tesco_tag,omitempty"`
}

// UpdateDraftRequest carries only the fields to change. Override flags are
// deliberately absent: they are switched on through /retry.
type UpdateDraftRequest struct {
	MainMessage     *string `json:"main_message,omitempty"`
	SubMessage      *string `json:"sub_message,omitempty"`
	CTAText         *string `json:"cta_text,omitempty"`
	Style           *string `json:"style,omitempty" minLength:"1"`
	BackgroundColor *string `json:"background_color,omitempty" pattern:"^#[0-9a-fA-F]{6}$"`
	BadgeColor      *string `json:"badge_color,omitempty" pattern:"^#[0-9a-fA-F]{6}$"`
	BadgeShape      *string `json:"badge_shape,omitempty" enum:",circle,square,hexagon"`
	ValueTileType   *string `json:"value_tile_type,omitempty"`
	ClubcardPrice   *string `json:"clubcard_price,omitempty"`
	RegularPrice    *string `json:"regular_price,omitempty"`
	ClubcardEndDate *string `json:"clubcard_end_date,omitempty"`
	TescoTag        *string `json:"tesco_tag,omitempty"`
}

func (r CreateDraftRequest) draft() domain.CampaignDraft {
	d := domain.NewDraft()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&d.MainMessage, r.MainMessage)
	set(&d.SubMessage, r.SubMessage)
	set(&d.CTAText, r.CTAText)
	set(&d.Style, r.Style)
	set(&d.BackgroundColor, r.BackgroundColor)
	set(&d.BadgeColor, r.BadgeColor)
	set(&d.BadgeShape, r.BadgeShape)
	set(&d.ValueTileType, r.ValueTileType)
	set(&d.ClubcardPrice, r.ClubcardPrice)
	set(&d.RegularPrice, r.RegularPrice)
	set(&d.ClubcardEndDate, r.ClubcardEndDate)
	set(&d.TescoTag, r.TescoTag)
	return d
}

func (r UpdateDraftRequest) empty() bool {
	for _, p := range r.fields() {
		if p.src != nil {
			return false
		}
	}
	return true
}

type fieldUpdate struct {
	src *string
	dst func(*domain.CampaignDraft) *string
}

func (r UpdateDraftRequest) fields() []fieldUpdate {
	return []fieldUpdate{
		{r.MainMessage, func(d *domain.CampaignDraft) *string { return &d.MainMessage }},
		{r.SubMessage, func(d *domain.CampaignDraft) *string { return &d.SubMessage }},
		{r.CTAText, func(d *domain.CampaignDraft) *string { return &d.CTAText }},
		{r.Style, func(d *domain.CampaignDraft) *string { return &d.Style }},
		{r.BackgroundColor, func(d *domain.CampaignDraft) *string { return &d.BackgroundColor }},
		{r.BadgeColor, func(d *domain.CampaignDraft) *string { return &d.BadgeColor }},
		{r.BadgeShape, func(d *domain.CampaignDraft) *string { return &d.BadgeShape }},
		{r.ValueTileType, func(d *domain.CampaignDraft) *string { return &d.ValueTileType }},
		{r.ClubcardPrice, func(d *domain.CampaignDraft) *string { return &d.ClubcardPrice }},
		{r.RegularPrice, func(d *domain.CampaignDraft) *string { return &d.RegularPrice }},
		{r.ClubcardEndDate, func(d *domain.CampaignDraft) *string { return &d.ClubcardEndDate }},
		{r.TescoTag, func(d *domain.CampaignDraft) *string { return &d.TescoTag }},
	}
}

func (r UpdateDraftRequest) apply(d *domain.CampaignDraft) {
	for _, f := range r.fields() {
		if f.src != nil {
			*f.dst(d) = *f.src
		}
	}
}

type RetryRequest struct {
	Actions []string `json:"actions" minItems:"1" enum:"confirm_people,acknowledge_compliance"`
}

type PrescreenRequest struct {
	MainMessage string `json:"main_message"`
	SubMessage  string `json:"sub_message,omitempty"`
}

// Response payloads

type AssetResponse struct {
	Slot string `json:"slot"`
	Name string `json:"name"`
	Size int    `json:"size"`
}

type DownloadResponse struct {
	Encoding string `json:"encoding"`
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	URL      string `json:"url,omitempty"`
}

type RenditionResponse struct {
	Format    string             `json:"format"`
	Display   string             `json:"display"`
	Downloads []DownloadResponse `json:"downloads"`
}

type DraftResponse struct {
	ID              string               `json:"id"`
	Draft           domain.CampaignDraft `json:"draft"`
	Overrides       []string             `json:"overrides"`
	Assets          []AssetResponse      `json:"assets"`
	Ready           bool                 `json:"ready"`
	State           string               `json:"state"`
	Condition       string               `json:"condition,omitempty"`
	Message         string               `json:"message,omitempty"`
	Errors          []string             `json:"errors"`
	Pending         []string             `json:"pending"`
	Results         []RenditionResponse  `json:"results"`
	AlcoholAdvisory bool                 `json:"alcohol_advisory"`
	Attempts        int                  `json:"attempts"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

type AttemptResponse struct {
	ID         string    `json:"id"`
	Number     int       `json:"number"`
	Overrides  []string  `json:"overrides"`
	Actions    []string  `json:"actions"`
	State      string    `json:"state"`
	Condition  string    `json:"condition,omitempty"`
	Errors     []string  `json:"errors"`
	Formats    []string  `json:"formats"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type SubmitResponse struct {
	Draft   DraftResponse   `json:"draft"`
	Attempt AttemptResponse `json:"attempt"`
}

type EventResponse struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	DraftID   string         `json:"draft_id,omitempty"`
	AttemptID string         `json:"attempt_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type RecordResponse struct {
	ID        string             `json:"id,omitempty"`
	Format    string             `json:"format"`
	Color     string             `json:"color"`
	Location  string             `json:"location"`
	Downloads []DownloadResponse `json:"downloads"`
}

type BatchResponse struct {
	Key       string           `json:"key"`
	Fallback  bool             `json:"fallback"`
	Color     string           `json:"color"`
	CreatedAt string           `json:"created_at,omitempty"`
	Records   []RecordResponse `json:"records"`
}

func draftResponse(s domain.Session) DraftResponse {
	resp := DraftResponse{
		ID:              s.ID,
		Draft:           s.Draft,
		Overrides:       []string{},
		Assets:          []AssetResponse{},
		Ready:           s.Assets.Complete(),
		State:           string(s.State),
		Condition:       string(s.Condition),
		Message:         s.Message,
		Errors:          append([]string{}, s.Errors...),
		Pending:         []string{},
		Results:         []RenditionResponse{},
		AlcoholAdvisory: s.AlcoholAdvisory,
		Attempts:        s.Attempts,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	for _, o := range s.Overrides.List() {
		resp.Overrides = append(resp.Overrides, string(o))
	}
	for slot, a := range s.Assets.Slots() {
		resp.Assets = append(resp.Assets, AssetResponse{Slot: slot, Name: a.Name, Size: len(a.Data)})
	}
	sort.Slice(resp.Assets, func(i, j int) bool { return resp.Assets[i].Slot < resp.Assets[j].Slot })
	for _, p := range s.Pending {
		resp.Pending = append(resp.Pending, string(p))
	}
	for _, format := range s.Result.Formats() {
		r := s.Result[format]
		rr := RenditionResponse{Format: format, Display: r.Display(), Downloads: []DownloadResponse{}}
		for _, d := range r.Downloads(format) {
			rr.Downloads = append(rr.Downloads, DownloadResponse{Encoding: string(d.Encoding), Filename: d.Filename, MIMEType: d.MIMEType})
		}
		resp.Results = append(resp.Results, rr)
	}
	return resp
}

func attemptResponse(a domain.Attempt) AttemptResponse {
	resp := AttemptResponse{
		ID:         a.ID,
		Number:     a.Number,
		Overrides:  []string{},
		Actions:    []string{},
		State:      string(a.State),
		Condition:  string(a.Condition),
		Errors:     append([]string{}, a.Errors...),
		Formats:    append([]string{}, a.Formats...),
		StartedAt:  a.StartedAt,
		FinishedAt: a.FinishedAt,
	}
	for _, o := range a.Overrides {
		resp.Overrides = append(resp.Overrides, string(o))
	}
	for _, act := range a.Actions {
		resp.Actions = append(resp.Actions, string(act))
	}
	return resp
}

func batchResponses(batches []domain.Batch) []BatchResponse {
	out := make([]BatchResponse, 0, len(batches))
	for _, b := range batches {
		br := BatchResponse{Key: b.Key, Fallback: b.Fallback, Color: b.Color, CreatedAt: b.CreatedAt, Records: []RecordResponse{}}
		for _, r := range b.Records {
			rr := RecordResponse{ID: r.ID, Format: r.Format, Color: r.Color, Location: r.Location(), Downloads: []DownloadResponse{}}
			for _, d := range r.Downloads() {
				rr.Downloads = append(rr.Downloads, DownloadResponse{
					Encoding: string(d.Encoding),
					Filename: "creative_" + r.Format + "." + string(d.Encoding),
					MIMEType: d.Encoding.MIMEType(),
					URL:      d.URL,
				})
			}
			br.Records = append(br.Records, rr)
		}
		out = append(out, br)
	}
	return out
}
