package classifier

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"skillspring-backend/internal/application/domain"
)

const maxRoleLength = 80

// Labels that are part of a public suffix rather than an organisation name.
var suffixLabels = map[string]struct{}{
	"com": {}, "co": {}, "in": {}, "org": {}, "net": {}, "io": {}, "ai": {},
	"dev": {}, "uk": {}, "us": {}, "edu": {}, "gov": {}, "ac": {}, "tech": {},
	"app": {}, "biz": {}, "me": {}, "xyz": {}, "info": {},
}

var nonNames = map[string]struct{}{
	"the": {}, "our": {}, "your": {}, "this": {}, "we": {}, "us": {}, "you": {},
	"hiring": {}, "recruitment": {}, "team": {},
}

const titleRun = `[A-Z][A-Za-z0-9&'.-]*(?: [A-Z][A-Za-z0-9&'.-]*)*`

var companyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bat (` + titleRun + `)`),
	regexp.MustCompile(`\bfrom (` + titleRun + `)`),
	regexp.MustCompile(`(` + titleRun + `) [Tt]eam\b`),
}

const roleRun = `[A-Z][A-Za-z0-9+#&/.-]*(?: (?:[A-Z][A-Za-z0-9+#&/.-]*|of|and|&))*`

var rolePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bfor the ([^\n]{2,80}?) position\b`),
	regexp.MustCompile(`(` + roleRun + `) [Rr]ole\b`),
	regexp.MustCompile(`\bas an? (` + roleRun + `)`),
	regexp.MustCompile(`\bfor (?:the )?(` + roleRun + `) (?:at|with)\b`),
}

var (
	replyPrefix  = regexp.MustCompile(`(?i)^\s*(?:(?:re|fw|fwd)\s*:\s*)+`)
	addressInRaw = regexp.MustCompile(`[A-Za-z0-9._%+-]+@([A-Za-z0-9.-]+)`)
)

// ExtractCompany prefers the sender's organisation domain, then phrases
// like "at Acme", "from Acme" and "Acme Team".
func (c *Classifier) ExtractCompany(email *domain.RawEmail) string {
	if email == nil {
		return domain.UnknownCompany
	}
	if name := c.companyFromDomain(senderDomain(email.From)); name != "" {
		return name
	}
	text := strings.Join([]string{email.Subject, email.Snippet, email.Body}, "\n")
	for _, re := range companyPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if name := c.cleanCompany(m[1]); name != "" {
				return name
			}
		}
	}
	return domain.UnknownCompany
}

func (c *Classifier) companyFromDomain(d string) string {
	if d == "" || c.platformForDomain(d) != "" {
		return ""
	}
	labels := strings.Split(d, ".")
	for _, l := range labels {
		if _, ok := c.genericDomains[l]; ok {
			return ""
		}
	}
	for len(labels) > 1 {
		if _, ok := suffixLabels[labels[len(labels)-1]]; !ok {
			break
		}
		labels = labels[:len(labels)-1]
	}
	for i := len(labels) - 1; i >= 0; i-- {
		l := labels[i]
		if l == "" {
			continue
		}
		if _, ok := c.genericLabels[l]; ok {
			continue
		}
		if _, ok := suffixLabels[l]; ok {
			continue
		}
		return titleCase(l)
	}
	return ""
}

func (c *Classifier) cleanCompany(raw string) string {
	name := strings.Trim(raw, " .,'-&")
	name = strings.TrimSuffix(strings.TrimSuffix(name, " Team"), " team")
	for {
		first, rest, ok := strings.Cut(name, " ")
		if !ok {
			break
		}
		if _, skip := nonNames[strings.ToLower(first)]; !skip {
			break
		}
		name = rest
	}
	if name == "" {
		return ""
	}
	if _, skip := nonNames[strings.ToLower(name)]; skip {
		return ""
	}
	for _, p := range c.platforms {
		if strings.EqualFold(p.name, name) {
			return ""
		}
	}
	return name
}

// ExtractRole looks for "for the X position", "X role", "as a X" and
// "for X at Y"; otherwise it falls back to the cleaned subject line.
func (c *Classifier) ExtractRole(email *domain.RawEmail) string {
	if email == nil {
		return domain.UnknownPosition
	}
	text := strings.Join([]string{email.Subject, email.Snippet, email.Body}, "\n")
	for _, re := range rolePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if role := cleanRole(m[1]); role != "" {
				return role
			}
		}
	}
	if subject := cleanRole(replyPrefix.ReplaceAllString(email.Subject, "")); subject != "" {
		return subject
	}
	return domain.UnknownPosition
}

func cleanRole(raw string) string {
	role := strings.TrimSpace(raw)
	role = strings.TrimPrefix(role, "the ")
	role = strings.TrimPrefix(role, "The ")
	role = strings.Trim(role, " .,:;!-&")
	if _, skip := nonNames[strings.ToLower(role)]; skip {
		return ""
	}
	if utf8.RuneCountInString(role) > maxRoleLength {
		role = strings.TrimSpace(string([]rune(role)[:maxRoleLength]))
	}
	return role
}

// ExtractPlatform matches the sender domain, then the text, against the
// platform table. Mail sent by the employer itself is "Direct".
func (c *Classifier) ExtractPlatform(email *domain.RawEmail) string {
	if email == nil {
		return domain.PlatformDirect
	}
	if name := c.platformForDomain(senderDomain(email.From)); name != "" {
		return name
	}
	text := normalize(strings.Join([]string{email.Subject, email.Snippet, email.Body}, " "))
	for _, p := range c.platforms {
		for _, d := range p.domains {
			if strings.Contains(text, d) {
				return p.name
			}
		}
		for _, k := range p.keywords {
			if k.in(text) {
				return p.name
			}
		}
	}
	return domain.PlatformDirect
}

func (c *Classifier) platformForDomain(d string) string {
	if d == "" {
		return ""
	}
	for _, p := range c.platforms {
		for _, pd := range p.domains {
			if d == pd || strings.HasSuffix(d, "."+pd) {
				return p.name
			}
		}
	}
	return ""
}

func senderDomain(from string) string {
	addr := ""
	if a, err := mail.ParseAddress(from); err == nil {
		addr = a.Address
	} else if m := addressInRaw.FindString(from); m != "" {
		addr = m
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ""
	}
	return strings.Trim(strings.ToLower(addr[at+1:]), " .>")
}

func titleCase(s string) string {
	parts := strings.Split(s, "-")
	for i, p := range parts {
		r, size := utf8.DecodeRuneInString(p)
		if r == utf8.RuneError {
			continue
		}
		parts[i] = string(unicode.ToUpper(r)) + p[size:]
	}
	return strings.Join(parts, "-")
}

// PlatformDomains maps each platform name to its primary domain.
func (c *Classifier) PlatformDomains() map[string]string {
	out := make(map[string]string, len(c.platforms))
	for _, p := range c.platforms {
		if len(p.domains) > 0 {
			out[p.name] = p.domains[0]
		}
	}
	return out
}
