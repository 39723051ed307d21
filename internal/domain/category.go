package domain

import (
	"fmt"
	"slices"
	"strings"
)

// AccumulationCategory classifies how a variable's values relate to time.
type AccumulationCategory int

const (
	Instantaneous AccumulationCategory = iota + 1
	Accum60Min
	AccumSinceStart
	AccumSinceStartBucket
	Accum24H
	AccumMonth
	Constant
)

// IntegrationAttr is the variable attribute that declares its category.
const IntegrationAttr = "integration_length"

// Integration length texts as they appear in the CONUS404 metadata table.
const (
	IntegrationInstantaneous    = "instantaneous"
	Integration60Min            = "accumulated over prior 60 minutes"
	IntegrationSinceStart       = "accumulated since 1979-10-01 00:00:00"
	IntegrationSinceStartBucket = "accumulated since 1979-10-01 00:00:00 bucket"
	Integration24H              = "24-hour accumulation"
	IntegrationMonth            = "month accumulation"
)

// BucketCounters are the overflow counters of the bucket-split radiation
// totals, and the only variables in the bucket category. Their remainders
// carry the bucket text in the metadata table but are since-start totals.
var BucketCounters = []string{"I_ACLWDNB", "I_ACLWUPB", "I_ACSWDNB", "I_ACSWDNT", "I_ACSWUPB"}

var categoryNames = map[AccumulationCategory]string{
	Instantaneous:         "instantaneous",
	Accum60Min:            "accum_60min",
	AccumSinceStart:       "accum_since_start",
	AccumSinceStartBucket: "accum_since_start_bucket",
	Accum24H:              "accum_24h",
	AccumMonth:            "accum_month",
	Constant:              "constant",
}

var categoryTexts = map[string]AccumulationCategory{
	IntegrationInstantaneous:    Instantaneous,
	Integration60Min:            Accum60Min,
	IntegrationSinceStart:       AccumSinceStart,
	IntegrationSinceStartBucket: AccumSinceStartBucket,
	Integration24H:              Accum24H,
	IntegrationMonth:            AccumMonth,
}

func (c AccumulationCategory) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return fmt.Sprintf("AccumulationCategory(%d)", int(c))
}

// IntegrationLength returns the metadata text for the category. Constant has
// none.
func (c AccumulationCategory) IntegrationLength() string {
	for text, cat := range categoryTexts {
		if cat == c {
			return text
		}
	}
	return ""
}

// ParseCategory parses the short category names used in profiles and flags.
func ParseCategory(s string) (AccumulationCategory, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, name := range categoryNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown accumulation category %q", s)
}

// CategoryFromIntegration maps an integration_length text to its category.
func CategoryFromIntegration(text string) (AccumulationCategory, bool) {
	c, ok := categoryTexts[strings.TrimSpace(text)]
	return c, ok
}

// ClassifyVariable returns the category of a single variable. Variables
// without a time dimension are always Constant. Time-varying variables with no
// recognised integration_length are treated as Instantaneous.
func ClassifyVariable(v *Variable) AccumulationCategory {
	if !v.IsTimeVarying() {
		return Constant
	}
	text, ok := v.Attrs.String(IntegrationAttr)
	if !ok {
		return Instantaneous
	}
	c, ok := CategoryFromIntegration(text)
	if !ok {
		return Instantaneous
	}
	counter := slices.Contains(BucketCounters, v.Name)
	switch {
	case c == AccumSinceStart && counter:
		return AccumSinceStartBucket
	case c == AccumSinceStartBucket && !counter:
		return AccumSinceStart
	}
	return c
}

// Classification maps each category to the sorted names of its variables.
type Classification map[AccumulationCategory][]string

// Classify partitions every variable in ds into exactly one category.
func Classify(ds *GridDataset) Classification {
	out := Classification{}
	for _, name := range ds.VarNames() {
		c := ClassifyVariable(ds.Vars[name])
		out[c] = append(out[c], name)
	}
	return out
}

// Of returns the category a variable was placed in.
func (c Classification) Of(name string) (AccumulationCategory, bool) {
	for cat, names := range c {
		if slices.Contains(names, name) {
			return cat, true
		}
	}
	return 0, false
}

// Names returns the variables in any of the given categories, sorted.
func (c Classification) Names(cats ...AccumulationCategory) []string {
	var out []string
	for _, cat := range cats {
		out = append(out, c[cat]...)
	}
	slices.Sort(out)
	return out
}
