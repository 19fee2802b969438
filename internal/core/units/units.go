// Package units converts raw activity measurements into display strings.
package units

import (
	"errors"
	"math"
	"math/big"
	"strconv"
	"strings"
)

var ErrUnknownConversion = errors.New("conversion not defined")

type Conversion string

const (
	MetersPerSecToMilesPerHour Conversion = "meterssec-mileshr"
	MetersPerSecToKmPerHour    Conversion = "meterssec-kmhr"
	MetersToMiles              Conversion = "meters-miles"
	MetersToKilometers         Conversion = "meters-kilometers"
	MetersToFeet               Conversion = "meters-feet"
	MetersToMeters             Conversion = "meters-meters"
)

var factors = map[Conversion]float64{
	MetersPerSecToMilesPerHour: 2.236936,
	MetersPerSecToKmPerHour:    3.6,
	MetersToMiles:              0.0006213711922,
	MetersToKilometers:         0.001,
	MetersToFeet:               3.280839895,
	MetersToMeters:             1,
}

// Convert scales v by the conversion factor and formats it with dp decimals.
func Convert(v float64, conv Conversion, dp int) (string, error) {
	f, ok := factors[conv]
	if !ok {
		return "", ErrUnknownConversion
	}
	return ToFixed(v*f, dp), nil
}

// ToFixed formats v with dp decimals, rounding ties away from zero on the
// exact binary value.
func ToFixed(v float64, dp int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', dp, 64)
	}
	if dp < 0 {
		dp = 0
	}
	if dp > 20 {
		dp = 20
	}

	var sign string
	if v < 0 {
		sign = "-"
		v = -v
	}

	// 256 bits hold a float64 times 10^20 exactly
	x := new(big.Float).SetPrec(256).SetFloat64(v)
	x.Mul(x, new(big.Float).SetPrec(256).SetFloat64(math.Pow10(dp)))
	x.Add(x, big.NewFloat(0.5))
	n, _ := x.Int(nil)

	digits := n.String()
	if dp == 0 {
		return sign + digits
	}
	if len(digits) <= dp {
		digits = strings.Repeat("0", dp-len(digits)+1) + digits
	}
	cut := len(digits) - dp
	return sign + digits[:cut] + "." + digits[cut:]
}

// FormatDuration renders seconds as "m:ss" or "h:mm:ss".
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	hrs := seconds / 3600
	mins := (seconds % 3600) / 60
	secs := seconds % 60

	var b strings.Builder
	if hrs > 0 {
		b.WriteString(strconv.Itoa(hrs))
		b.WriteByte(':')
		if mins < 10 {
			b.WriteByte('0')
		}
	}
	b.WriteString(strconv.Itoa(mins))
	b.WriteByte(':')
	if secs < 10 {
		b.WriteByte('0')
	}
	b.WriteString(strconv.Itoa(secs))
	return b.String()
}
