// Package main generates activity reports from a running Git City server by
// walking its public feed. Output is Markdown, suitable for pasting into a
// weekly update.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type feedEvent struct {
	ID          string                 `json:"id"`
	DeveloperID string                 `json:"developer_id"`
	Kind        string                 `json:"kind"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
}

type reportOptions struct {
	baseURL string
	days    int
	perPage int
	out     string
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	opts := reportOptions{}
	root := &cobra.Command{
		Use:   "cityreport",
		Short: "Reporting tools for a Git City server",
	}

	report := &cobra.Command{
		Use:   "report",
		Short: "Summarize recent city activity as Markdown",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return runReport(log, opts)
		},
	}
	report.Flags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "server base URL")
	report.Flags().IntVar(&opts.days, "days", 7, "how many days back to report")
	report.Flags().IntVar(&opts.perPage, "per-page", 100, "feed page size")
	report.Flags().StringVar(&opts.out, "out", "", "output file (default stdout)")

	root.AddCommand(report)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runReport(log zerolog.Logger, opts reportOptions) error {
	since := time.Now().UTC().AddDate(0, 0, -opts.days)

	events, err := fetchFeed(log, opts, since)
	if err != nil {
		return err
	}
	log.Info().Int("events", len(events)).Time("since", since).Msg("feed fetched")

	out := os.Stdout
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	return writeReport(out, events, since, opts.days)
}

// fetchFeed pages through /api/v1/feed newest-first, stopping once events
// fall outside the window or X-Total-Count is exhausted.
func fetchFeed(log zerolog.Logger, opts reportOptions, since time.Time) ([]feedEvent, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	base := strings.TrimRight(opts.baseURL, "/")

	var events []feedEvent
	total := -1
	for page := 1; ; page++ {
		u := fmt.Sprintf("%s/api/v1/feed?page=%d&per_page=%d", base, page, opts.perPage)
		pageEvents, pageTotal, err := fetchPage(client, u)
		if err != nil {
			return nil, fmt.Errorf("fetch feed page %d: %w", page, err)
		}
		if total < 0 {
			total = pageTotal
		}

		done := false
		for _, e := range pageEvents {
			if e.CreatedAt.Before(since) {
				done = true
				break
			}
			events = append(events, e)
		}
		log.Debug().Int("page", page).Int("got", len(pageEvents)).Msg("page fetched")

		if done || len(pageEvents) == 0 || page*opts.perPage >= total {
			break
		}
	}
	return events, nil
}

func fetchPage(client *http.Client, rawURL string) ([]feedEvent, int, error) {
	resp, err := client.Get(rawURL)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	total, _ := strconv.Atoi(resp.Header.Get("X-Total-Count"))
	var events []feedEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, 0, fmt.Errorf("decode feed: %w", err)
	}
	return events, total, nil
}

func writeReport(w io.Writer, events []feedEvent, since time.Time, days int) error {
	byKind := map[string]int{}
	byDay := map[string]int{}
	raiders := map[string]int{}
	buyers := map[string]int{}
	kudosGivers := map[string]int{}

	for _, e := range events {
		byKind[e.Kind]++
		byDay[e.CreatedAt.Format("2006-01-02")]++
		switch e.Kind {
		case "raid":
			if login, ok := e.Payload["attacker"].(string); ok {
				raiders[login]++
			}
		case "purchase_completed":
			if login, ok := e.Payload["login"].(string); ok {
				buyers[login]++
			}
		case "kudos":
			if login, ok := e.Payload["from"].(string); ok {
				kudosGivers[login]++
			}
		}
	}

	fmt.Fprintf(w, "# Git City activity report\n\n")
	fmt.Fprintf(w, "Window: last %d days (since %s). %d events.\n\n", days, since.Format("2006-01-02"), len(events))

	fmt.Fprintf(w, "## Events by kind\n\n")
	fmt.Fprintf(w, "| Kind | Count |\n|---|---|\n")
	for _, kv := range sortedCounts(byKind, 0) {
		fmt.Fprintf(w, "| %s | %d |\n", kv.key, kv.count)
	}

	fmt.Fprintf(w, "\n## Events by day\n\n")
	fmt.Fprintf(w, "| Day | Count |\n|---|---|\n")
	days2 := make([]string, 0, len(byDay))
	for day := range byDay {
		days2 = append(days2, day)
	}
	sort.Strings(days2)
	for _, day := range days2 {
		fmt.Fprintf(w, "| %s | %d |\n", day, byDay[day])
	}

	writeTop(w, "Top raiders", "Raids launched", raiders)
	writeTop(w, "Top buyers", "Purchases", buyers)
	writeTop(w, "Top kudos givers", "Kudos", kudosGivers)
	return nil
}

func writeTop(w io.Writer, title, column string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "\n## %s\n\n", title)
	fmt.Fprintf(w, "| Login | %s |\n|---|---|\n", column)
	for _, kv := range sortedCounts(counts, 10) {
		fmt.Fprintf(w, "| %s | %d |\n", kv.key, kv.count)
	}
}

type keyCount struct {
	key   string
	count int
}

// sortedCounts orders by count descending, ties alphabetically. A limit of 0
// returns everything.
func sortedCounts(m map[string]int, limit int) []keyCount {
	out := make([]keyCount, 0, len(m))
	for k, v := range m {
		out = append(out, keyCount{k, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
