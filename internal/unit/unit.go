// Package unit normalises mixed-unit stock quantities into a canonical
// base unit (kilograms) and formats canonical quantities back into the
// "N KG M g" form used on delivery documents.
package unit

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Unit identifies a measurement unit attached to a stock line.
type Unit string

const (
	Kilogram   Unit = "KG"
	Gram       Unit = "G"
	Litre      Unit = "L"
	Millilitre Unit = "ML"
)

// subPerWhole is the number of sub-units (grams) in one canonical unit.
const subPerWhole = 1000.0

// Normalize maps common spellings onto the supported unit set. Unknown
// spellings pass through unchanged and are treated as dimensionless.
func Normalize(raw string) Unit {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "KG", "KGS", "KILOGRAM", "KILOGRAMS":
		return Kilogram
	case "G", "GM", "GMS", "GRAM", "GRAMS":
		return Gram
	case "L", "LT", "LTR", "LITRE", "LITER":
		return Litre
	case "ML", "MILLILITRE", "MILLILITER":
		return Millilitre
	default:
		return Unit(strings.TrimSpace(raw))
	}
}

// ToCanonical converts qty expressed in u into the canonical base unit.
// Kilograms and litres map one-to-one, grams and millilitres divide by
// a thousand, and anything unrecognised is already canonical. Total
// function: it never fails.
func ToCanonical(qty float64, u Unit) float64 {
	switch Normalize(string(u)) {
	case Kilogram, Litre:
		return qty
	case Gram, Millilitre:
		return qty / subPerWhole
	default:
		return qty
	}
}

// Format renders a canonical quantity as a mixed whole/sub-unit string,
// e.g. 2.35 -> "2 KG 350 g". The sub-unit remainder is rounded to the
// nearest gram and the result re-normalised so rounding never leaves an
// overflowed remainder (2.9996 -> "3 KG", not "2 KG 1000 g").
func Format(canonical float64) string {
	neg := canonical < 0
	abs := math.Abs(canonical)

	whole := math.Floor(abs)
	sub := math.Round((abs - whole) * subPerWhole)
	if sub >= subPerWhole {
		whole++
		sub -= subPerWhole
	}

	var b strings.Builder
	if neg && (whole > 0 || sub > 0) {
		b.WriteString("-")
	}
	switch {
	case whole == 0 && sub == 0:
		b.WriteString("0 KG")
	case sub == 0:
		b.WriteString(strconv.FormatFloat(whole, 'f', -1, 64))
		b.WriteString(" KG")
	case whole == 0:
		b.WriteString(strconv.FormatFloat(sub, 'f', -1, 64))
		b.WriteString(" g")
	default:
		b.WriteString(strconv.FormatFloat(whole, 'f', -1, 64))
		b.WriteString(" KG ")
		b.WriteString(strconv.FormatFloat(sub, 'f', -1, 64))
		b.WriteString(" g")
	}
	return b.String()
}

// FormatIn renders qty in its own unit. Weight and volume units go
// through the canonical mixed format; dimensionless units render as a
// plain count with their label.
func FormatIn(qty float64, u Unit) string {
	switch Normalize(string(u)) {
	case Kilogram, Gram, Litre, Millilitre:
		return Format(ToCanonical(qty, u))
	default:
		label := strings.TrimSpace(string(u))
		if label == "" {
			return strconv.FormatFloat(qty, 'f', -1, 64)
		}
		return fmt.Sprintf("%s %s", strconv.FormatFloat(qty, 'f', -1, 64), label)
	}
}
