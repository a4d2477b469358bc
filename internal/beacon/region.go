package beacon

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cast"
)

// Record is the generic wire shape exchanged with the host.
type Record = map[string]interface{}

// Region is a named iBeacon identity filter. ProximityUUID, Major and Minor are
// nil when the region does not constrain them.
type Region struct {
	Identifier    string
	ProximityUUID *uuid.UUID
	Major         *uint16
	Minor         *uint16
}

// NewRegion builds a region matching every beacon with the given proximity UUID.
func NewRegion(identifier string, proximityUUID uuid.UUID) Region {
	u := proximityUUID
	return Region{Identifier: identifier, ProximityUUID: &u}
}

// WithMajor returns a copy of r constrained to major.
func (r Region) WithMajor(major uint16) Region {
	r.Major = &major
	return r
}

// WithMinor returns a copy of r constrained to minor.
func (r Region) WithMinor(minor uint16) Region {
	r.Minor = &minor
	return r
}

// Matches reports whether b satisfies every identifier the region carries.
func (r Region) Matches(b Beacon) bool {
	if r.ProximityUUID != nil && *r.ProximityUUID != b.ProximityUUID {
		return false
	}
	if r.Major != nil && *r.Major != b.Major {
		return false
	}
	if r.Minor != nil && *r.Minor != b.Minor {
		return false
	}
	return true
}

func (r Region) String() string {
	var sb strings.Builder
	sb.WriteString(r.Identifier)
	if r.ProximityUUID != nil {
		sb.WriteString(" ")
		sb.WriteString(strings.ToUpper(r.ProximityUUID.String()))
	}
	if r.Major != nil {
		fmt.Fprintf(&sb, " major=%d", *r.Major)
	}
	if r.Minor != nil {
		fmt.Fprintf(&sb, " minor=%d", *r.Minor)
	}
	return sb.String()
}

// DecodeRegion turns a region record into a Region.
//
// identifier and proximityUUID are required; major and minor are optional
// integers in 0..65535. A minor without a major is rejected: iBeacon identifiers
// are positional and a minor alone cannot be matched.
func DecodeRegion(m map[string]interface{}) (Region, error) {
	if m == nil {
		return Region{}, &DecodeError{Field: "region", Reason: "record is nil"}
	}

	identifier, err := cast.ToStringE(m["identifier"])
	if err != nil {
		return Region{}, &DecodeError{Field: "identifier", Reason: "not a string", Err: err}
	}
	if identifier == "" {
		return Region{}, missingField("identifier")
	}

	proximityUUID, err := decodeUUID(m, "proximityUUID")
	if err != nil {
		return Region{}, err
	}

	region := NewRegion(identifier, proximityUUID)

	major, err := decodeOptionalUint16(m, "major")
	if err != nil {
		return Region{}, err
	}
	minor, err := decodeOptionalUint16(m, "minor")
	if err != nil {
		return Region{}, err
	}
	if minor != nil && major == nil {
		return Region{}, &DecodeError{Field: "minor", Reason: "minor requires major"}
	}
	region.Major = major
	region.Minor = minor

	return region, nil
}

// EncodeRegion turns a Region into its wire record. proximityUUID, major and minor
// are present only when the region carries them.
func EncodeRegion(r Region) Record {
	rec := Record{"identifier": r.Identifier}
	if r.ProximityUUID != nil {
		rec["proximityUUID"] = strings.ToUpper(r.ProximityUUID.String())
	}
	if r.Major != nil {
		rec["major"] = int(*r.Major)
	}
	if r.Minor != nil {
		rec["minor"] = int(*r.Minor)
	}
	return rec
}

// DecodeRegions decodes every map in list, skipping entries that fail.
// The returned errors are the per-entry failures, in input order.
func DecodeRegions(list []interface{}) ([]Region, []error) {
	regions := make([]Region, 0, len(list))
	var errs []error
	for i, item := range list {
		m, err := cast.ToStringMapE(item)
		if err != nil {
			errs = append(errs, fmt.Errorf("region %d: %w", i, &DecodeError{Field: "region", Reason: "not a record", Err: err}))
			continue
		}
		region, err := DecodeRegion(m)
		if err != nil {
			errs = append(errs, fmt.Errorf("region %d: %w", i, err))
			continue
		}
		regions = append(regions, region)
	}
	return regions, errs
}

func decodeUUID(m map[string]interface{}, field string) (uuid.UUID, error) {
	raw, ok := m[field]
	if !ok || raw == nil {
		return uuid.Nil, missingField(field)
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		return uuid.Nil, &DecodeError{Field: field, Reason: "not a string", Err: err}
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, &DecodeError{Field: field, Reason: fmt.Sprintf("%q is not a UUID", s), Err: err}
	}
	return u, nil
}

func decodeOptionalUint16(m map[string]interface{}, field string) (*uint16, error) {
	raw, ok := m[field]
	if !ok || raw == nil {
		return nil, nil
	}
	n, err := ToInt(raw)
	if err != nil {
		return nil, &DecodeError{Field: field, Reason: "not an integer", Err: err}
	}
	if n < 0 || n > math.MaxUint16 {
		return nil, &DecodeError{Field: field, Reason: fmt.Sprintf("%d out of range 0..65535", n)}
	}
	v := uint16(n)
	return &v, nil
}
