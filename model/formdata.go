package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
)

// Keys written into CV form data once enrichment has run.
const (
	MarkerAIGenerated   = "aiGenerated"
	MarkerAIGeneratedAt = "aiGeneratedAt"
)

// FormData is the submitted payload of an order, one variant per service kind.
type FormData interface {
	Kind() Kind
}

// CVForm backs cv and cover-letter orders.
type CVForm struct {
	Doc CVDocument
}

func (CVForm) Kind() Kind { return KindCV }

// AgreementForm backs agreement orders: a flat field map.
type AgreementForm struct {
	Fields map[string]string
}

func (AgreementForm) Kind() Kind { return KindAgreement }

// Keys returns the field names in stable order.
func (a AgreementForm) Keys() []string {
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type CVDocument struct {
	PersonalInfo PersonalInfo `json:"personalInfo"`
	Summary      string       `json:"summary,omitempty"`
	Experience   []Experience `json:"experience,omitempty"`
	Education    []Education  `json:"education,omitempty"`
	Skills       []string     `json:"skills,omitempty"`
	Languages    []string     `json:"languages,omitempty"`
	CoverLetter  *CoverLetter `json:"coverLetter,omitempty"`

	AIGenerated   bool   `json:"aiGenerated,omitempty"`
	AIGeneratedAt string `json:"aiGeneratedAt,omitempty"`
}

type PersonalInfo struct {
	FullName string `json:"fullName"`
	Headline string `json:"headline,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
	PhotoURL string `json:"photoUrl,omitempty"`
}

type Experience struct {
	JobTitle     string   `json:"jobTitle"`
	Company      string   `json:"company"`
	Location     string   `json:"location,omitempty"`
	StartDate    string   `json:"startDate,omitempty"`
	EndDate      string   `json:"endDate,omitempty"`
	Current      bool     `json:"current,omitempty"`
	Description  string   `json:"description,omitempty"`
	Achievements []string `json:"achievements,omitempty"`
}

type Education struct {
	Degree      string `json:"degree"`
	Institution string `json:"institution"`
	StartDate   string `json:"startDate,omitempty"`
	EndDate     string `json:"endDate,omitempty"`
}

type CoverLetter struct {
	Recipient string `json:"recipient,omitempty"`
	Company   string `json:"company,omitempty"`
	Position  string `json:"position,omitempty"`
	Body      string `json:"body,omitempty"`
}

// HasCoverLetter reports whether the document carries a cover letter page.
func (d CVDocument) HasCoverLetter() bool {
	cl := d.CoverLetter
	return cl != nil && (cl.Recipient != "" || cl.Company != "" || cl.Position != "" || cl.Body != "")
}

// DecodeFormData validates raw against the variant selected by st.
func DecodeFormData(st ServiceType, raw json.RawMessage) (FormData, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: form_data is required", apperr.ErrValidation)
	}

	if st.IsAgreement() {
		return decodeAgreement(raw)
	}

	var doc CVDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: form_data: %v", apperr.ErrValidation, err)
	}
	if strings.TrimSpace(doc.PersonalInfo.FullName) == "" {
		return nil, fmt.Errorf("%w: personalInfo.fullName is required", apperr.ErrValidation)
	}
	if st.WantsCoverLetter() && doc.CoverLetter == nil {
		doc.CoverLetter = &CoverLetter{}
	}
	return CVForm{Doc: doc}, nil
}

func decodeAgreement(raw json.RawMessage) (AgreementForm, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return AgreementForm{}, fmt.Errorf("%w: agreement form_data must be an object: %v", apperr.ErrValidation, err)
	}
	if len(m) == 0 {
		return AgreementForm{}, fmt.Errorf("%w: agreement form_data is empty", apperr.ErrValidation)
	}

	fields := make(map[string]string, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			fields[k] = ""
		case string:
			fields[k] = val
		case bool:
			fields[k] = strconv.FormatBool(val)
		case float64:
			fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			return AgreementForm{}, fmt.Errorf("%w: agreement field %q must be a scalar", apperr.ErrValidation, k)
		}
	}
	return AgreementForm{Fields: fields}, nil
}

// IsEnriched reports whether raw CV data already carries the enrichment marker.
func IsEnriched(raw json.RawMessage) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	v, ok := probe[MarkerAIGenerated]
	return ok && string(v) == "true"
}
