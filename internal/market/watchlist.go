package market

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadWatchlist reads a ticker list with one symbol per line. Blank lines and
// lines starting with '#' are ignored.
func LoadWatchlist(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening watchlist: %w", err)
	}
	defer f.Close()

	var tickers []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tickers = append(tickers, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading watchlist: %w", err)
	}
	return NormalizeTickers(tickers), nil
}

// NormalizeTickers upper-cases and trims every ticker and drops empties and
// duplicates, keeping the first occurrence's position.
func NormalizeTickers(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = NormalizeTicker(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// NormalizeTicker returns the canonical form of a ticker symbol.
func NormalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
