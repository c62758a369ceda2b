package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/Rhymond/go-money"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"

	"stocksim/internal/broker"
	"stocksim/internal/domain"
	"stocksim/internal/engine"
	"stocksim/internal/feed"
	"stocksim/pkg/stocksim"
)

// UI styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#10B981")).
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	gainStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	lossStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)
)

// formatMoney renders d as US dollars rounded to cents.
func formatMoney(d decimal.Decimal) string {
	cur := money.GetCurrency(money.USD)
	cents := d.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(cents, money.USD).Display()
}

// formatSigned is formatMoney with an explicit sign, coloured by direction.
func formatSigned(d decimal.Decimal) string {
	switch {
	case d.IsPositive():
		return gainStyle.Render("+" + formatMoney(d))
	case d.IsNegative():
		return lossStyle.Render(formatMoney(d))
	default:
		return mutedStyle.Render(formatMoney(d))
	}
}

// renderTable lays rows out under header with a rounded border.
func renderTable(header []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(header...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	return t.String() + "\n"
}

func printStock(w io.Writer, s domain.Stock) {
	body := fmt.Sprintf("%s\n%s\n%s\nPrice: %s",
		titleStyle.Render(s.Ticker),
		s.Profile.DisplayCompany(),
		mutedStyle.Render(s.Profile.DisplayIndustry()),
		formatMoney(s.Price),
	)
	if !s.UpdatedAt.IsZero() {
		body += "\n" + mutedStyle.Render("as of "+s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintln(w, boxStyle.Render(body))
}

func printStocks(w io.Writer, stocks []domain.Stock) {
	if len(stocks) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no stocks cached"))
		return
	}
	rows := make([][]string, 0, len(stocks))
	for _, s := range stocks {
		rows = append(rows, []string{
			s.Ticker,
			s.Profile.DisplayCompany(),
			s.Profile.DisplayIndustry(),
			formatMoney(s.Price),
		})
	}
	fmt.Fprint(w, renderTable([]string{"TICKER", "COMPANY", "INDUSTRY", "PRICE"}, rows))
}

func printFill(w io.Writer, f *broker.Fill) {
	tx := f.Transaction
	fmt.Fprintln(w, gainStyle.Render(string(engine.OutcomeSuccess)))
	fmt.Fprintf(w, "%s %d %s @ %s (%s)\n",
		tx.Side, tx.Qty, tx.Ticker, formatMoney(tx.Price), formatMoney(tx.Notional()))
	fmt.Fprintf(w, "Balance: %s\n", formatMoney(f.Balance))
	if len(f.Positions) == 0 {
		return
	}
	rows := make([][]string, 0, len(f.Positions))
	for _, p := range f.Positions {
		rows = append(rows, []string{p.Ticker, fmt.Sprint(p.Qty), string(p.Side()), formatMoney(p.AvgCost)})
	}
	fmt.Fprint(w, renderTable([]string{"TICKER", "QTY", "SIDE", "AVG COST"}, rows))
}

func printAccount(w io.Writer, a *domain.AccountInfo) {
	summary := fmt.Sprintf("%s\nCash:         %s\nMarket value: %s\nEquity:       %s",
		titleStyle.Render(a.Name),
		formatMoney(a.Cash),
		formatMoney(a.MarketValue),
		formatMoney(a.Equity),
	)
	fmt.Fprintln(w, boxStyle.Render(summary))
	if len(a.Positions) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no open positions"))
		return
	}
	rows := make([][]string, 0, len(a.Positions))
	for _, p := range a.Positions {
		price, value, pnl := "-", "-", "-"
		if p.Priced {
			price = formatMoney(p.Price)
			value = formatMoney(p.MarketValue)
			pnl = formatSigned(p.UnrealizedPnL)
		}
		rows = append(rows, []string{p.Ticker, fmt.Sprint(p.Qty), formatMoney(p.AvgCost), price, value, pnl})
	}
	fmt.Fprint(w, renderTable([]string{"TICKER", "QTY", "AVG COST", "PRICE", "VALUE", "P&L"}, rows))
}

func printHistory(w io.Writer, txs []domain.Transaction) {
	if len(txs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no transactions"))
		return
	}
	rows := make([][]string, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, []string{
			tx.Timestamp.Local().Format("2006-01-02 15:04:05"),
			string(tx.Side),
			tx.Ticker,
			fmt.Sprint(tx.Qty),
			formatMoney(tx.Price),
			formatMoney(tx.Notional()),
		})
	}
	fmt.Fprint(w, renderTable([]string{"TIME", "SIDE", "TICKER", "QTY", "PRICE", "NOTIONAL"}, rows))
}

func printUser(w io.Writer, u *domain.User) {
	body := fmt.Sprintf("%s\nID:         %s\nCredential: %s\nBalance:    %s",
		titleStyle.Render(u.Name), u.ID, u.Credential, formatMoney(u.Balance))
	fmt.Fprintln(w, boxStyle.Render(body))
	fmt.Fprintln(w, mutedStyle.Render("export STOCKSIM_CREDENTIAL="+u.Credential))
}

// FormatError renders err with its outcome code for the terminal.
func FormatError(err error) string {
	outcome := string(engine.Classify(err))
	if errors.Is(err, feed.ErrRateLimited) {
		outcome = stocksim.OutcomeRateLimited
	}
	return errorStyle.Render(outcome) + " " + err.Error()
}
