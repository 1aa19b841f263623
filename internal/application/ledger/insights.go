package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"skillspring-backend/internal/application/domain"
	"skillspring-backend/pkg/fuzzy"
)

const defaultSearchLimit = 20

// Insights counts the user's records by type, status and platform.
func (l *Ledger) Insights(ctx context.Context, userID string) (*domain.Insights, error) {
	records, err := l.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return l.summarize(records), nil
}

func (l *Ledger) summarize(records []*domain.ApplicationRecord) *domain.Insights {
	in := &domain.Insights{
		Total:     len(records),
		ByType:    map[domain.ApplicationType]int{},
		ByStatus:  map[domain.Status]int{},
		Platforms: []domain.PlatformCount{},
	}
	perPlatform := map[string]int{}
	for _, r := range records {
		in.ByType[r.Type]++
		in.ByStatus[r.Status]++
		if r.Platform != "" && r.Platform != domain.PlatformDirect {
			perPlatform[r.Platform]++
		}
	}
	for name, count := range perPlatform {
		in.Platforms = append(in.Platforms, domain.PlatformCount{Name: name, Domain: l.platformDomains[name], Count: count})
	}
	sort.Slice(in.Platforms, func(i, j int) bool {
		if in.Platforms[i].Count != in.Platforms[j].Count {
			return in.Platforms[i].Count > in.Platforms[j].Count
		}
		return in.Platforms[i].Name < in.Platforms[j].Name
	})
	in.Summary = summaryText(in)
	return in
}

func summaryText(in *domain.Insights) string {
	if in.Total == 0 {
		return "No applications found yet. Connect your mailbox and run a sync to get started."
	}
	text := fmt.Sprintf("Found %s, %s, and %s",
		plural(in.ByType[domain.TypeJob], "job application", "job applications"),
		plural(in.ByType[domain.TypeInternship], "internship", "internships"),
		plural(in.ByType[domain.TypeHackathon], "hackathon", "hackathons"))
	if n := len(in.Platforms); n > 0 {
		text += " across " + plural(n, "platform", "platforms")
	}
	text += "."
	if n := in.ByStatus[domain.StatusInterview]; n > 0 {
		text += fmt.Sprintf(" %s in progress.", plural(n, "interview", "interviews"))
	}
	if n := in.ByStatus[domain.StatusSelected]; n > 0 {
		text += fmt.Sprintf(" %s received.", plural(n, "offer", "offers"))
	}
	return text
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}

// Search ranks the user's records by typo-tolerant relevance to text.
func (l *Ledger) Search(ctx context.Context, userID, text string, limit int) ([]domain.SearchHit, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return []domain.SearchHit{}, nil
	}
	records, err := l.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	hits := make([]domain.SearchHit, 0, len(records))
	for _, r := range records {
		score := fuzzy.RelevanceScore(text,
			fuzzy.Field{Text: r.Company, Weight: 1},
			fuzzy.Field{Text: r.Role, Weight: 0.8},
			fuzzy.Field{Text: r.Platform, Weight: 0.4},
			fuzzy.Field{Text: strings.Join(r.Subjects(), " "), Weight: 0.3},
		)
		if score > 0 {
			hits = append(hits, domain.SearchHit{Record: r, Score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Record.LastUpdatedAt.After(hits[j].Record.LastUpdatedAt)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
