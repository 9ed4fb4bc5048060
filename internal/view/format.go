package view

import (
	"fmt"
	"html/template"
	"math"
	"strings"
	"time"
	_ "time/tzdata"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/scanper/liff-dashboard/internal/model"
)

var bangkok = loadBangkok()

func loadBangkok() *time.Location {
	loc, err := time.LoadLocation("Asia/Bangkok")
	if err != nil {
		return time.FixedZone("ICT", 7*60*60)
	}
	return loc
}

var thaiMonths = [...]string{
	"ม.ค.", "ก.พ.", "มี.ค.", "เม.ย.", "พ.ค.", "มิ.ย.",
	"ก.ค.", "ส.ค.", "ก.ย.", "ต.ค.", "พ.ย.", "ธ.ค.",
}

var printer = message.NewPrinter(language.Thai)

// FormatNumber groups thousands, e.g. 12345 -> "12,345".
func FormatNumber(n int) string {
	return printer.Sprintf("%d", n)
}

// FormatThaiDateTime renders t the way th-TH locales do: Buddhist year, Thai
// short month and a 24h clock in Bangkok time. Zero times render as "-".
func FormatThaiDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	t = t.In(bangkok)
	return fmt.Sprintf("%d %s %d %02d:%02d", t.Day(), thaiMonths[t.Month()-1], t.Year()+543, t.Hour(), t.Minute())
}

// FormatClock renders the Bangkok wall clock as HH:MM.
func FormatClock(t time.Time) string {
	t = t.In(bangkok)
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// UsagePercent is the share of the limit used this session, rounded.
func UsagePercent(used, limit int) int {
	if limit <= 0 {
		return 0
	}
	return int(math.Round(float64(used) / float64(limit) * 100))
}

// ProgressTone colours the usage bar.
func ProgressTone(percent int) string {
	switch {
	case percent >= 90:
		return "red"
	case percent >= 70:
		return "yellow"
	default:
		return "green"
	}
}

// BarWidth clamps the percentage used for the bar width.
func BarWidth(percent int) int {
	return min(max(percent, 0), 100)
}

type Status struct {
	Label string
	Tone  string
}

// RemainingStatus labels the remaining page count.
func RemainingStatus(remaining int) Status {
	switch {
	case remaining <= 0:
		return Status{Label: "No pages left", Tone: "red"}
	case remaining <= 5:
		return Status{Label: "Almost out!", Tone: "red"}
	case remaining <= 10:
		return Status{Label: "Running low", Tone: "yellow"}
	default:
		return Status{Label: "Good", Tone: "green"}
	}
}

// PaymentStatus maps a charge status to its badge.
func PaymentStatus(status string) Status {
	switch status {
	case model.PaymentSucceeded:
		return Status{Label: "Success", Tone: "green"}
	case model.PaymentPending:
		return Status{Label: "Pending", Tone: "yellow"}
	case model.PaymentFailed:
		return Status{Label: "Failed", Tone: "red"}
	default:
		return Status{Label: status, Tone: "slate"}
	}
}

// NextClaimLabel is the free claim reset time, or "Tomorrow" when unknown.
func NextClaimLabel(next *model.Timestamp) string {
	if next == nil || next.IsZero() {
		return "Tomorrow"
	}
	return FormatClock(next.Time)
}

func Transactions(n int) string {
	if n == 1 {
		return "1 transaction"
	}
	return fmt.Sprintf("%d transactions", n)
}

// Countdown renders a duration as M:SS.
func Countdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// QRSource turns the backend's encoded image into an <img> source. Bare
// base64 payloads are treated as PNG.
func QRSource(encoded string) template.URL {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:image/") {
		return template.URL(encoded)
	}
	return template.URL("data:image/png;base64," + encoded)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func funcs() template.FuncMap {
	return template.FuncMap{
		"number":          FormatNumber,
		"thaiDateTime":    FormatThaiDateTime,
		"usagePercent":    UsagePercent,
		"progressTone":    ProgressTone,
		"barWidth":        BarWidth,
		"remainingStatus": RemainingStatus,
		"paymentStatus":   PaymentStatus,
		"nextClaim":       NextClaimLabel,
		"transactions":    Transactions,
		"countdown":       Countdown,
		"qrSource":        QRSource,
		"deref":           deref,
	}
}
