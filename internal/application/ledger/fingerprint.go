package ledger

import (
	"strings"
	"unicode"
)

var legalSuffixes = []string{
	"private limited", "pvt ltd", "pvt", "limited", "ltd", "llc", "llp",
	"inc", "incorporated", "corp", "corporation", "co", "gmbh", "plc",
}

// Fingerprint identifies an application family: every email about the
// same company, role and platform folds into one record.
func Fingerprint(company, role, platform string) string {
	return normalizeCompany(company) + "|" + normalizeText(role) + "|" + normalizeText(platform)
}

func normalizeText(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '+' || r == '#' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func normalizeCompany(s string) string {
	name := normalizeText(s)
	for {
		trimmed := false
		for _, suffix := range legalSuffixes {
			if name != suffix && strings.HasSuffix(name, " "+suffix) {
				name = strings.TrimSuffix(name, " "+suffix)
				trimmed = true
			}
		}
		if !trimmed {
			return name
		}
	}
}
