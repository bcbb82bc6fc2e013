package call

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalizeNumber strips spaces, dashes and parentheses from a dial string.
// The leading + and any DTMF suffix characters are preserved.
func NormalizeNumber(number string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	return replacer.Replace(number)
}

// FormatNumber normalizes a number and, when a country is known, formats it
// to E.164 for dialing. Unparseable numbers are returned normalized but
// otherwise untouched; short strings like internal extensions pass through.
func FormatNumber(number, countryCode string) string {
	number = NormalizeNumber(number)
	if countryCode == "" {
		return number
	}

	parsed, err := phonenumbers.Parse(number, strings.ToUpper(countryCode))
	if err != nil {
		return number
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return number
	}
	return phonenumbers.Format(parsed, phonenumbers.E164)
}
