package claimexport

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ehr/claimexport/internal/platform/x12"
)

// Placeholders substituted for missing optional values. Every substitution
// is recorded as a ReviewFlag on the claim.
const (
	PlaceholderNPI           = "0000000000"
	PlaceholderTaxID         = "000000000"
	PlaceholderAddressLine   = "ADDRESS UNKNOWN"
	PlaceholderCity          = "UNKNOWN"
	PlaceholderState         = "XX"
	PlaceholderZip           = "00000"
	PlaceholderProviderLast  = "UNKNOWN"
	PlaceholderProviderFirst = "PROVIDER"
	PlaceholderPayerName     = "UNKNOWN PAYER"
)

// Fixed claim codes.
const (
	hlBillingProvider = "20"
	hlSubscriber      = "22"
	payerPrimary      = "P"
	relationshipSelf  = "18"
	filingCommercial  = "CI"
	placeOfService    = "11" // office
	facilityQualifier = "B"
	frequencyOriginal = "1"
	serviceDateQual   = "472"
	reportSupportData = "OZ"
	reportElectronic  = "EL"
	unitQualifier     = "UN"
	procedureHCPCS    = "HC"
	diagPrincipal     = "ABK"
	diagOther         = "ABF"
)

// Address is a street address for N3/N4.
type Address struct {
	Line  string `mapstructure:"line"`
	City  string `mapstructure:"city"`
	State string `mapstructure:"state"`
	Zip   string `mapstructure:"zip"`
}

// claimSegments renders the ordered segments of one claim. Missing optional
// values become placeholders and are reported through flags.
type claimSegments struct {
	settings Settings
	rec      *ClaimRecord
	flags    []ReviewFlag
}

// BuildClaimSegments renders rec with the billing settings s. rec must
// already carry its claim number and HL ids. A record missing a field the
// claim cannot be written without is rejected.
func BuildClaimSegments(s Settings, rec *ClaimRecord) ([]x12.Segment, []ReviewFlag, error) {
	row := EncounterRow{Encounter: rec.Encounter, Patient: rec.Patient, Provider: rec.Provider}
	if reason := missingRequired(row); reason != "" {
		return nil, nil, fmt.Errorf("encounter %s: %s", rec.Encounter.ID, reason)
	}
	cb := &claimSegments{settings: s, rec: rec}
	return cb.build(), cb.flags, nil
}

func (cb *claimSegments) flag(field, note string) {
	cb.flags = append(cb.flags, ReviewFlag{EncounterID: cb.rec.Encounter.ID, Field: field, Note: note})
}

// fallback returns v trimmed, or placeholder when v is empty.
func (cb *claimSegments) fallback(v *string, placeholder, field string) string {
	if v != nil {
		if t := strings.TrimSpace(*v); t != "" {
			return t
		}
	}
	cb.flag(field, "missing; placeholder "+strconv.Quote(placeholder)+" used")
	return placeholder
}

func (cb *claimSegments) build() []x12.Segment {
	rec := cb.rec
	enc := rec.Encounter
	serviceDate := x12.D8(enc.EncounterDate)
	amount := enc.ChargeAmount.StringFixed(2)

	var segs []x12.Segment

	// 2000A billing provider
	segs = append(segs, x12.New("HL", strconv.Itoa(rec.BillingHL), "", hlBillingProvider, "1"))
	segs = append(segs, cb.billingProvider()...)

	// 2000B subscriber
	segs = append(segs, x12.New("HL", strconv.Itoa(rec.SubscriberHL), strconv.Itoa(rec.BillingHL), hlSubscriber, "0"))
	segs = append(segs, x12.New("SBR", payerPrimary, relationshipSelf, strings.TrimSpace(deref(rec.Patient.GroupNumber)),
		"", "", "", "", "", filingCommercial))
	segs = append(segs, cb.subscriber()...)
	segs = append(segs, cb.payer())

	// 2300 claim
	segs = append(segs, x12.Segment{ID: "CLM"}.With(
		x12.Simple(rec.ClaimID()),
		x12.Simple(amount),
		x12.Simple(""),
		x12.Simple(""),
		x12.Composite(placeOfService, facilityQualifier, frequencyOriginal),
		x12.Simple("Y"),
		x12.Simple("A"),
		x12.Simple("Y"),
		x12.Simple("Y"),
	))
	segs = append(segs, x12.New("DTP", serviceDateQual, "D8", serviceDate))
	segs = append(segs, x12.New("PWK", reportSupportData, reportElectronic))

	// 2310B rendering provider
	segs = append(segs, cb.renderingProvider())

	// 2400 service line
	segs = append(segs, x12.New("LX", "1"))
	modifier := strings.TrimSpace(deref(enc.Modifier))
	segs = append(segs, x12.Segment{ID: "SV1"}.With(
		x12.Composite(procedureHCPCS, strings.ToUpper(strings.TrimSpace(enc.CPTCode)), strings.ToUpper(modifier)),
		x12.Simple(amount),
		x12.Simple(unitQualifier),
		x12.Simple("1"),
	))
	segs = append(segs, x12.New("DTP", serviceDateQual, "D8", serviceDate))

	segs = append(segs, diagnosisSegment(rec.Diagnosis))
	return segs
}

func (cb *claimSegments) billingProvider() []x12.Segment {
	s := cb.settings
	npi := strings.TrimSpace(s.BillingNPI)
	if npi == "" {
		npi = cb.fallback(cb.rec.Provider.NPI, PlaceholderNPI, "billing_provider.npi")
	}
	taxID := strings.TrimSpace(deref(cb.rec.Provider.TaxID))
	if taxID == "" {
		taxID = strings.TrimSpace(s.BillingTaxID)
	}
	if taxID == "" {
		taxID = PlaceholderTaxID
		cb.flag("billing_provider.tax_id", "missing; placeholder "+strconv.Quote(PlaceholderTaxID)+" used")
	}
	addr := s.BillingAddress
	return []x12.Segment{
		x12.New("NM1", "85", "2", x12.Name(s.BillingName), "", "", "", "", "XX", npi),
		x12.New("N3", x12.Fold(addr.Line)),
		x12.New("N4", x12.Fold(addr.City), strings.ToUpper(addr.State), addr.Zip),
		x12.New("REF", "EI", strings.ReplaceAll(taxID, "-", "")),
	}
}

func (cb *claimSegments) subscriber() []x12.Segment {
	p := cb.rec.Patient

	memberID := strings.TrimSpace(deref(p.InsuranceID))
	if memberID == "" {
		memberID = strings.TrimSpace(deref(p.MRN))
		cb.flag("subscriber.member_id", "insurance member id missing; MRN used")
	}

	line := cb.fallback(p.Address, PlaceholderAddressLine, "subscriber.address")
	city := cb.fallback(p.City, PlaceholderCity, "subscriber.city")
	state := cb.fallback(p.State, PlaceholderState, "subscriber.state")
	zip := cb.fallback(p.Zip, PlaceholderZip, "subscriber.zip")

	return []x12.Segment{
		x12.New("NM1", "IL", "1", x12.Name(p.LastName), x12.Name(p.FirstName), "", "", "", "MI", memberID),
		x12.New("N3", x12.Fold(line)),
		x12.New("N4", x12.Fold(city), strings.ToUpper(state), zip),
		x12.New("DMG", "D8", x12.D8(*p.DOB), cb.sexCode()),
	}
}

func (cb *claimSegments) sexCode() string {
	switch strings.ToLower(strings.TrimSpace(deref(cb.rec.Patient.Sex))) {
	case "m", "male":
		return "M"
	case "f", "female":
		return "F"
	}
	cb.flag("subscriber.sex", "missing or unrecognized; U used")
	return "U"
}

func (cb *claimSegments) payer() x12.Segment {
	name := cb.fallback(cb.rec.Patient.InsuranceCompany, PlaceholderPayerName, "payer.name")
	return x12.New("NM1", "PR", "2", x12.Name(name), "", "", "", "", "PI", cb.settings.PayerID)
}

func (cb *claimSegments) renderingProvider() x12.Segment {
	pr := cb.rec.Provider
	last := cb.fallback(pr.LastName, PlaceholderProviderLast, "rendering_provider.last_name")
	first := cb.fallback(pr.FirstName, PlaceholderProviderFirst, "rendering_provider.first_name")
	npi := cb.fallback(pr.NPI, PlaceholderNPI, "rendering_provider.npi")
	return x12.New("NM1", "82", "1", x12.Name(last), x12.Name(first), "", "", "", "XX", npi)
}

func diagnosisSegment(d DiagnosisCodePair) x12.Segment {
	seg := x12.Segment{ID: "HI"}.With(x12.Composite(diagPrincipal, d.Primary))
	if d.Secondary != nil && *d.Secondary != "" {
		seg = seg.With(x12.Composite(diagOther, *d.Secondary))
	}
	return seg
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
