package chat

import "time"

// PayloadKind discriminates the structured payload a resolved message carries.
type PayloadKind string

const (
	PayloadNone     PayloadKind = "none"
	PayloadOverview PayloadKind = "overview"
	PayloadFindings PayloadKind = "findings"
	PayloadVendor   PayloadKind = "vendor"
)

// Payload is a tagged union. Only the field matching Kind is set.
type Payload struct {
	Kind             PayloadKind       `json:"payloadKind,omitempty"`
	CompanySummary   *CompanySummary   `json:"companySummary,omitempty"`
	ResearchFindings *ResearchFindings `json:"researchFindings,omitempty"`
	VendorProfile    *VendorProfile    `json:"vendorProfile,omitempty"`
}

func OverviewPayload(s *CompanySummary) Payload {
	return Payload{Kind: PayloadOverview, CompanySummary: s}
}

func FindingsPayload(f *ResearchFindings) Payload {
	return Payload{Kind: PayloadFindings, ResearchFindings: f}
}

func VendorPayload(v *VendorProfile) Payload {
	return Payload{Kind: PayloadVendor, VendorProfile: v}
}

// Valid reports whether exactly the field named by Kind is set.
func (p Payload) Valid() bool {
	switch p.Kind {
	case "", PayloadNone:
		return p.CompanySummary == nil && p.ResearchFindings == nil && p.VendorProfile == nil
	case PayloadOverview:
		return p.CompanySummary != nil && p.ResearchFindings == nil && p.VendorProfile == nil
	case PayloadFindings:
		return p.ResearchFindings != nil && p.CompanySummary == nil && p.VendorProfile == nil
	case PayloadVendor:
		return p.VendorProfile != nil && p.CompanySummary == nil && p.ResearchFindings == nil
	default:
		return false
	}
}

// IsSet reports whether the payload carries data.
func (p Payload) IsSet() bool {
	return p.Kind != "" && p.Kind != PayloadNone
}

// payloadFrom picks the first non-nil field when a loosely typed source sets
// more than one.
func payloadFrom(s *CompanySummary, f *ResearchFindings, v *VendorProfile) Payload {
	switch {
	case s != nil:
		return OverviewPayload(s)
	case f != nil:
		return FindingsPayload(f)
	case v != nil:
		return VendorPayload(v)
	default:
		return Payload{Kind: PayloadNone}
	}
}

// CompanySummary is the result of a company_overview research.
type CompanySummary struct {
	Name          string   `json:"name"`
	Domain        string   `json:"domain,omitempty"`
	Industry      string   `json:"industry,omitempty"`
	Headquarters  string   `json:"headquarters,omitempty"`
	Founded       string   `json:"founded,omitempty"`
	EmployeeCount string   `json:"employeeCount,omitempty"`
	Revenue       string   `json:"revenue,omitempty"`
	Description   string   `json:"description,omitempty"`
	KeyFacts      []string `json:"keyFacts,omitempty"`
	Sources       []Source `json:"sources,omitempty"`
}

// Finding is one item of a ResearchFindings result.
type Finding struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	Confidence string `json:"confidence,omitempty"`
	SourceIDs  []int  `json:"sourceIds,omitempty"`
}

// ResearchFindings is the result of any research area except the overview.
type ResearchFindings struct {
	ResearchAreaID string    `json:"researchAreaId"`
	Title          string    `json:"title,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	Findings       []Finding `json:"findings,omitempty"`
	Sources        []Source  `json:"sources,omitempty"`
	GeneratedAt    time.Time `json:"generatedAt,omitempty"`
}

// VendorProfile describes the salesperson's own company.
type VendorProfile struct {
	Name         string   `json:"name"`
	Domain       string   `json:"domain,omitempty"`
	Description  string   `json:"description,omitempty"`
	Industry     string   `json:"industry,omitempty"`
	Products     []string `json:"products,omitempty"`
	TargetMarket string   `json:"targetMarket,omitempty"`
}
