package booking

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// successMarker is the line the purchase collaborator prints when a booking
// went through; the confirmation code follows it.
const successMarker = "PNR Code:"

// errorMessageLimit caps the stored failure text. Only the most recent
// failure is kept, not an accumulating log.
const errorMessageLimit = 500

const fallbackFailure = "Booking failed - no PNR code found"

// ansiPattern matches the SGR color sequences the collaborator styles its
// terminal output with.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// StripANSI removes terminal styling so stored values are plain text.
func StripANSI(s string) string {
	return strings.TrimSpace(ansiPattern.ReplaceAllString(s, ""))
}

// ExtractPNR scans collaborator output for the success marker and returns
// the confirmation code that follows it.
func ExtractPNR(output string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, successMarker) {
			continue
		}
		idx := strings.LastIndex(line, successMarker)
		pnr := StripANSI(line[idx+len(successMarker):])
		if pnr != "" {
			return pnr, true
		}
	}
	return "", false
}

// FailureMessage distills the most specific error text available from a
// failed attempt: the collaborator's returned error first, then up to three
// error-looking output lines, then a fixed fallback. Always bounded.
func FailureMessage(output string, err error) string {
	if err != nil {
		return truncate("Booking execution error: " + err.Error())
	}

	var errLines []string
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(strings.ToLower(line), "error") {
			errLines = append(errLines, StripANSI(line))
			if len(errLines) == 3 {
				break
			}
		}
	}
	if len(errLines) > 0 {
		return truncate(strings.Join(errLines, "; "))
	}
	return fallbackFailure
}

// truncate caps s at the limit, backing up so a multi-byte rune is never
// split.
func truncate(s string) string {
	if len(s) <= errorMessageLimit {
		return s
	}
	cut := errorMessageLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
