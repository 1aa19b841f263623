package classifier

import (
	"errors"
	"testing"
	"time"

	"skillspring-backend/internal/application/domain"
)

var received = time.Date(2024, 8, 1, 10, 0, 0, 0, time.UTC)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewDefault()
	if err != nil {
		t.Fatalf("NewDefault: %v", err)
	}
	return c
}

func TestAnalyzeExamples(t *testing.T) {
	c := newTestClassifier(t)

	t.Run("internship offer", func(t *testing.T) {
		cand, err := c.Analyze(&domain.RawEmail{
			ID:         "m-zomato",
			Subject:    "Congratulations! You've been selected for Frontend Intern at Zomato",
			From:       "hr@zomato.com",
			Snippet:    "...",
			ReceivedAt: received,
		})
		if err != nil {
			t.Fatalf("Analyze: %v", err)
		}
		if cand == nil {
			t.Fatalf("expected candidate")
		}
		if cand.Type != domain.TypeInternship {
			t.Fatalf("type = %q", cand.Type)
		}
		if cand.Company != "Zomato" {
			t.Fatalf("company = %q", cand.Company)
		}
		if cand.Role != "Frontend Intern" {
			t.Fatalf("role = %q", cand.Role)
		}
		if cand.Status != domain.StatusSelected {
			t.Fatalf("status = %q", cand.Status)
		}
		if cand.Confidence < 0.8 {
			t.Fatalf("confidence = %v, want >= 0.8", cand.Confidence)
		}
		if cand.SourceEmailID != "m-zomato" || !cand.ObservedAt.Equal(received) {
			t.Fatalf("provenance not carried: %+v", cand)
		}
	})

	t.Run("hackathon registration", func(t *testing.T) {
		cand, err := c.Analyze(&domain.RawEmail{
			ID:         "m-sih",
			Subject:    "Smart India Hackathon 2024 – Registration Confirmed",
			From:       "noreply@unstop.com",
			ReceivedAt: received,
		})
		if err != nil {
			t.Fatalf("Analyze: %v", err)
		}
		if cand == nil {
			t.Fatalf("expected candidate")
		}
		if cand.Type != domain.TypeHackathon {
			t.Fatalf("type = %q", cand.Type)
		}
		if cand.Platform != "Unstop" {
			t.Fatalf("platform = %q", cand.Platform)
		}
		if cand.Status != domain.StatusApplied {
			t.Fatalf("status = %q", cand.Status)
		}
	})

	t.Run("unrelated email", func(t *testing.T) {
		email := &domain.RawEmail{
			ID:         "m-amazon",
			Subject:    "Your Amazon order has shipped",
			From:       "ship-confirm@amazon.com",
			ReceivedAt: received,
		}
		if got := c.Classify(email); got != nil {
			t.Fatalf("expected nil, got %+v", got)
		}
		cand, err := c.Analyze(email)
		if err != nil || cand != nil {
			t.Fatalf("expected (nil, nil), got (%+v, %v)", cand, err)
		}
	})
}

func TestClassifyCategories(t *testing.T) {
	c := newTestClassifier(t)
	tests := []struct {
		name    string
		subject string
		want    domain.ApplicationType
	}{
		{"hackathon beats internship", "Hackathon internship opportunity", domain.TypeHackathon},
		{"internship beats job", "Summer internship position", domain.TypeInternship},
		{"job only", "Job opening: Platform Engineer", domain.TypeJob},
		{"plural keyword", "Internships open for 2025", domain.TypeInternship},
		{"co-op", "Co-op program update", domain.TypeInternship},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(&domain.RawEmail{ID: "x", Subject: tt.subject, From: "team@example.org", ReceivedAt: received})
			if got == nil {
				t.Fatalf("expected a candidate")
			}
			if got.Type != tt.want {
				t.Fatalf("type = %q, want %q", got.Type, tt.want)
			}
		})
	}
}

func TestClassifyMatchesWholeWords(t *testing.T) {
	c := newTestClassifier(t)
	for _, subject := range []string{
		"International shipping update",
		"Internal memo about the cafeteria",
		"Hackney council newsletter",
	} {
		if got := c.Classify(&domain.RawEmail{ID: "x", Subject: subject, From: "news@shop.com"}); got != nil {
			t.Fatalf("%q: expected nil, got type %q", subject, got.Type)
		}
	}
}

func TestClassifyConfidence(t *testing.T) {
	c := newTestClassifier(t)
	tests := []struct {
		name  string
		email domain.RawEmail
		want  float64
	}{
		{
			name:  "single keyword",
			email: domain.RawEmail{Subject: "We are hiring", From: "news@blog.com"},
			want:  0.6,
		},
		{
			name:  "platform sender",
			email: domain.RawEmail{Subject: "New job opening near you", From: "jobs-noreply@linkedin.com"},
			want:  0.8,
		},
		{
			name: "every signal capped",
			email: domain.RawEmail{
				Subject: "Application received for the Backend Developer position",
				From:    "careers@acme.io",
				Snippet: "Thank you for applying to Acme.",
			},
			want: 1.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.email.ID = "x"
			got := c.Classify(&tt.email)
			if got == nil {
				t.Fatalf("expected candidate")
			}
			if got.Confidence != tt.want {
				t.Fatalf("confidence = %v, want %v", got.Confidence, tt.want)
			}
		})
	}
}

func TestExtractStatusPriority(t *testing.T) {
	c := newTestClassifier(t)
	tests := []struct {
		text string
		want domain.Status
	}{
		{"Congratulations, you have been selected for an interview", domain.StatusSelected},
		{"You were selected. Interview details follow.", domain.StatusSelected},
		{"We regret to inform you that you were not selected", domain.StatusRejected},
		{"Unfortunately you have not been selected for this role", domain.StatusRejected},
		{"The position has been filled", domain.StatusRejected},
		{"Interview cancelled, position filled", domain.StatusRejected},
		{"Your interview is scheduled for Monday", domain.StatusInterview},
		{"You have been shortlisted for the next round", domain.StatusInterview},
		{"Thank you for applying to Acme", domain.StatusApplied},
		{"Your application was submitted", domain.StatusApplied},
		{"Hello there", domain.StatusPending},
		{"", domain.StatusPending},
	}
	for _, tt := range tests {
		if got := c.ExtractStatus(tt.text); got != tt.want {
			t.Fatalf("ExtractStatus(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestExtractCompany(t *testing.T) {
	c := newTestClassifier(t)
	tests := []struct {
		name  string
		email domain.RawEmail
		want  string
	}{
		{"sender domain", domain.RawEmail{From: "HR <hr@zomato.com>"}, "Zomato"},
		{"nested domain", domain.RawEmail{From: "careers@mail.tcs.co.in"}, "Tcs"},
		{"hyphenated domain", domain.RawEmail{From: "talent@red-hat.com"}, "Red-Hat"},
		{"generic provider uses text", domain.RawEmail{From: "someone@gmail.com", Subject: "Interview invitation from Acme Corp"}, "Acme Corp"},
		{"platform sender uses team signature", domain.RawEmail{From: "jobs-noreply@linkedin.com", Subject: "Your application was sent", Body: "Thanks from the Stripe Team"}, "Stripe"},
		{"at phrase", domain.RawEmail{From: "noreply@unstop.com", Subject: "Register for the hackathon at Flipkart"}, "Flipkart"},
		{"nothing to go on", domain.RawEmail{}, domain.UnknownCompany},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.ExtractCompany(&tt.email); got != tt.want {
				t.Fatalf("company = %q, want %q", got, tt.want)
			}
		})
	}
	if got := c.ExtractCompany(nil); got != domain.UnknownCompany {
		t.Fatalf("nil email: %q", got)
	}
}

func TestExtractRole(t *testing.T) {
	c := newTestClassifier(t)
	tests := []struct {
		name  string
		email domain.RawEmail
		want  string
	}{
		{"position phrase", domain.RawEmail{Subject: "Thank you for applying for the Software Engineer position"}, "Software Engineer"},
		{"role phrase", domain.RawEmail{Subject: "Update on your Data Analyst role"}, "Data Analyst"},
		{"as a phrase", domain.RawEmail{Body: "We'd like you to join as a Backend Developer"}, "Backend Developer"},
		{"for at phrase", domain.RawEmail{Subject: "Selected for Frontend Intern at Zomato"}, "Frontend Intern"},
		{"subject fallback", domain.RawEmail{Subject: "Re: Fwd: Campus drive schedule"}, "Campus drive schedule"},
		{"empty", domain.RawEmail{}, domain.UnknownPosition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.ExtractRole(&tt.email); got != tt.want {
				t.Fatalf("role = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractPlatform(t *testing.T) {
	c := newTestClassifier(t)
	tests := []struct {
		name  string
		email domain.RawEmail
		want  string
	}{
		{"sender domain", domain.RawEmail{From: "noreply@unstop.com"}, "Unstop"},
		{"sender subdomain", domain.RawEmail{From: "updates@mail.internshala.com"}, "Internshala"},
		{"name in text", domain.RawEmail{From: "x@acme.com", Body: "Apply via Devfolio before Friday"}, "Devfolio"},
		{"ambiguous name ignored", domain.RawEmail{From: "x@acme.com", Body: "Indeed, we are excited"}, domain.PlatformDirect},
		{"ambiguous platform by domain", domain.RawEmail{From: "x@acme.com", Body: "see https://www.indeed.com/viewjob"}, "Indeed"},
		{"angel domain", domain.RawEmail{From: "talent@angel.co"}, "AngelList"},
		{"direct", domain.RawEmail{From: "hr@zomato.com"}, domain.PlatformDirect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.ExtractPlatform(&tt.email); got != tt.want {
				t.Fatalf("platform = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAnalyzeRejectsMalformedEmail(t *testing.T) {
	c := newTestClassifier(t)
	for _, email := range []*domain.RawEmail{
		nil,
		{Subject: "Internship offer", ReceivedAt: received},
		{ID: "x", Subject: "Internship offer"},
	} {
		_, err := c.Analyze(email)
		var extractErr *domain.ExtractionError
		if !errors.As(err, &extractErr) {
			t.Fatalf("expected ExtractionError, got %v", err)
		}
	}
}

func TestExtractorsNeverPanic(t *testing.T) {
	c := newTestClassifier(t)
	weird := []domain.RawEmail{
		{From: "<<<@@@>>>"},
		{From: "@", Subject: "for the  position"},
		{From: "a@.", Subject: "Re:"},
		{From: "名前 <例@例え.jp>", Subject: "インターンシップ"},
		{Subject: "as a", Body: "Team"},
	}
	for i := range weird {
		_ = c.Classify(&weird[i])
		_ = c.ExtractCompany(&weird[i])
		_ = c.ExtractRole(&weird[i])
		_ = c.ExtractPlatform(&weird[i])
		_ = c.ExtractStatus(weird[i].Subject)
	}
}

func TestParseTables(t *testing.T) {
	if _, err := LoadTables(""); err != nil {
		t.Fatalf("default tables: %v", err)
	}
	if _, err := ParseTables([]byte("categories: [")); err == nil {
		t.Fatalf("expected yaml error")
	}
	if _, err := ParseTables([]byte("categories:\n  job: [hiring]\n")); err == nil {
		t.Fatalf("expected missing category error")
	}
	custom := []byte(`
categories:
  job: [opening]
  internship: [trainee]
  hackathon: [buildathon]
status:
  selected:
    keywords: [welcome]
`)
	tables, err := ParseTables(custom)
	if err != nil {
		t.Fatalf("ParseTables: %v", err)
	}
	c, err := New(tables)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := c.Classify(&domain.RawEmail{ID: "x", Subject: "Welcome to the buildathon"})
	if got == nil || got.Type != domain.TypeHackathon {
		t.Fatalf("custom tables not applied: %+v", got)
	}
	if st := c.ExtractStatus("welcome"); st != domain.StatusSelected {
		t.Fatalf("status = %q", st)
	}
}
