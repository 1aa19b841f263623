package classifier

import (
	"errors"
	"regexp"
	"strings"

	"skillspring-backend/internal/application/domain"
)

// Most specific category first; the first category with a hit wins.
var categoryOrder = []domain.ApplicationType{
	domain.TypeHackathon,
	domain.TypeInternship,
	domain.TypeJob,
}

// Outcome groups in priority order.
var statusOrder = []domain.Status{
	domain.StatusSelected,
	domain.StatusRejected,
	domain.StatusInterview,
	domain.StatusApplied,
}

var statusByName = map[string]domain.Status{
	"selected":  domain.StatusSelected,
	"rejected":  domain.StatusRejected,
	"interview": domain.StatusInterview,
	"applied":   domain.StatusApplied,
}

const maxKeywordBonus = 3

type phrase struct {
	text string
	re   *regexp.Regexp
}

func compilePhrase(p string) phrase {
	p = normalize(p)
	expr := regexp.QuoteMeta(p)
	expr = strings.ReplaceAll(expr, " ", `\s+`)
	return phrase{text: p, re: regexp.MustCompile(`\b` + expr + `s?\b`)}
}

func compilePhrases(list []string) []phrase {
	out := make([]phrase, 0, len(list))
	for _, p := range list {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, compilePhrase(p))
	}
	return out
}

func (p phrase) in(text string) bool {
	return p.re.MatchString(text)
}

func matchedPhrases(text string, phrases []phrase) []string {
	var out []string
	for _, p := range phrases {
		if p.in(text) {
			out = append(out, p.text)
		}
	}
	return out
}

type category struct {
	typ     domain.ApplicationType
	phrases []phrase
}

type statusGroup struct {
	status   domain.Status
	keywords []phrase
	exclude  []phrase
}

// mask blanks out excluded phrases so they cannot satisfy the group.
func (g statusGroup) mask(text string) string {
	for _, ex := range g.exclude {
		text = ex.re.ReplaceAllStringFunc(text, func(m string) string {
			return strings.Repeat(" ", len(m))
		})
	}
	return text
}

type platform struct {
	name     string
	domains  []string
	keywords []phrase
}

// Classifier decides whether an email is about a job, internship or
// hackathon application and extracts its attributes. It is safe for
// concurrent use.
type Classifier struct {
	categories     []category
	statuses       []statusGroup
	application    phrase
	position       phrase
	gratitude      phrase
	applying       phrase
	genericDomains map[string]struct{}
	genericLabels  map[string]struct{}
	platforms      []platform
}

func New(t *Tables) (*Classifier, error) {
	if t == nil {
		return nil, errors.New("classifier: nil keyword tables")
	}
	if err := t.validate(); err != nil {
		return nil, err
	}

	c := &Classifier{
		genericDomains: toSet(t.GenericDomains),
		genericLabels:  toSet(t.GenericLabels),
		application:    compilePhrase(orDefault(t.Signals.Application, "application")),
		position:       compilePhrase(orDefault(t.Signals.Position, "position")),
		gratitude:      compilePhrase(orDefault(t.Signals.Gratitude, "thank you")),
		applying:       compilePhrase(orDefault(t.Signals.Applying, "applying")),
	}
	for _, typ := range categoryOrder {
		c.categories = append(c.categories, category{typ: typ, phrases: compilePhrases(t.Categories[string(typ)])})
	}
	for _, st := range statusOrder {
		g := t.Status[string(st)]
		c.statuses = append(c.statuses, statusGroup{
			status:   st,
			keywords: compilePhrases(g.Keywords),
			exclude:  compilePhrases(g.Exclude),
		})
	}
	for _, p := range t.Platforms {
		domains := make([]string, 0, len(p.Domains))
		for _, d := range p.Domains {
			domains = append(domains, strings.ToLower(strings.TrimSpace(d)))
		}
		c.platforms = append(c.platforms, platform{name: p.Name, domains: domains, keywords: compilePhrases(p.Keywords)})
	}
	return c, nil
}

// NewDefault builds a classifier from the embedded keyword tables.
func NewDefault() (*Classifier, error) {
	t, err := DefaultTables()
	if err != nil {
		return nil, err
	}
	return New(t)
}

// Classify returns nil when the email is not application related.
// The candidate carries type, confidence and provenance only; Analyze
// fills in the extracted attributes.
func (c *Classifier) Classify(email *domain.RawEmail) *domain.ApplicationCandidate {
	if email == nil {
		return nil
	}
	text := normalize(strings.Join([]string{email.Subject, email.From, email.Snippet, email.Body}, " "))

	var (
		winner  domain.ApplicationType
		matched []string
	)
	for _, cat := range c.categories {
		if m := matchedPhrases(text, cat.phrases); len(m) > 0 {
			winner, matched = cat.typ, m
			break
		}
	}
	if winner == "" {
		return nil
	}

	_, outcomes := c.status(text)
	bonus := len(matched) + len(outcomes)
	if bonus > maxKeywordBonus {
		bonus = maxKeywordBonus
	}

	// Scored in tenths to keep the thresholds exact.
	score := 5 + bonus
	if c.ExtractPlatform(email) != domain.PlatformDirect {
		score += 2
	}
	if c.application.in(text) && c.position.in(text) {
		score++
	}
	if c.gratitude.in(text) && c.applying.in(text) {
		score++
	}
	if score > 10 {
		score = 10
	}

	return &domain.ApplicationCandidate{
		SourceEmailID: email.ID,
		SourceSubject: email.Subject,
		Type:          winner,
		Confidence:    float64(score) / 10,
		ObservedAt:    email.ReceivedAt,
	}
}

// ExtractStatus resolves the outcome described by text. Outcome groups
// are checked in priority order: selected, rejected, interview, applied.
func (c *Classifier) ExtractStatus(text string) domain.Status {
	st, _ := c.status(normalize(text))
	return st
}

// status expects normalized text. It also returns every distinct outcome
// phrase seen, which feeds the confidence score.
func (c *Classifier) status(text string) (domain.Status, []string) {
	result := domain.StatusPending
	seen := make(map[string]struct{})
	var outcomes []string
	for _, g := range c.statuses {
		hits := matchedPhrases(g.mask(text), g.keywords)
		if len(hits) > 0 && result == domain.StatusPending {
			result = g.status
		}
		for _, h := range hits {
			if _, ok := seen[h]; !ok {
				seen[h] = struct{}{}
				outcomes = append(outcomes, h)
			}
		}
	}
	return result, outcomes
}

var errMissingID = errors.New("missing message id")
var errMissingTimestamp = errors.New("missing received timestamp")

// Analyze runs classification, the confidence gate and every extractor.
// It returns (nil, nil) for emails that are not applications or fall
// below MinConfidence.
func (c *Classifier) Analyze(email *domain.RawEmail) (*domain.ApplicationCandidate, error) {
	if email == nil {
		return nil, &domain.ExtractionError{Err: errors.New("nil email")}
	}
	if strings.TrimSpace(email.ID) == "" {
		return nil, &domain.ExtractionError{Err: errMissingID}
	}
	if email.ReceivedAt.IsZero() {
		return nil, &domain.ExtractionError{EmailID: email.ID, Err: errMissingTimestamp}
	}

	cand := c.Classify(email)
	if cand == nil || cand.Confidence < domain.MinConfidence {
		return nil, nil
	}
	cand.Status = c.ExtractStatus(strings.Join([]string{email.Subject, email.Snippet, email.Body}, " "))
	cand.Company = c.ExtractCompany(email)
	cand.Role = c.ExtractRole(email)
	cand.Platform = c.ExtractPlatform(email)
	return cand, nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func toSet(list []string) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, v := range list {
		out[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return out
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
