// Package content renders telemetry into chat message bodies. Every function
// is pure: no I/O and no shared state.
package content

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/xiaonanln/oambridge/chat"
	"github.com/xiaonanln/oambridge/model"
)

// Placeholder stands in for missing values.
const Placeholder = "-"

const instantLayout = "2006-01-02 15:04:05Z07:00"

// FormatValue renders a metric or field value, substituting Placeholder for
// nil, empty strings and zero times.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return Placeholder
	case string:
		if x == "" {
			return Placeholder
		}
		return x
	case *string:
		if x == nil {
			return Placeholder
		}
		return FormatValue(*x)
	case time.Time:
		if x.IsZero() {
			return Placeholder
		}
		return x.UTC().Format(instantLayout)
	case *time.Time:
		if x == nil {
			return Placeholder
		}
		return FormatValue(*x)
	case time.Duration:
		return x.String()
	case float64:
		return trimFloat(x)
	case float32:
		return trimFloat(float64(x))
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.3f", f)
}

func esc(s string) string { return html.EscapeString(s) }

type table struct {
	plain strings.Builder
	html  strings.Builder
}

func newTable(headers ...string) *table {
	t := &table{}
	t.html.WriteString("<table><tr>")
	for _, h := range headers {
		t.html.WriteString("<th>" + esc(h) + "</th>")
	}
	t.html.WriteString("</tr>")
	return t
}

func (t *table) row(cells ...string) {
	t.plain.WriteString(strings.Join(cells, " | "))
	t.plain.WriteByte('\n')
	t.html.WriteString("<tr>")
	for _, c := range cells {
		t.html.WriteString("<td>" + esc(c) + "</td>")
	}
	t.html.WriteString("</tr>")
}

func (t *table) close() (string, string) {
	t.html.WriteString("</table>")
	return t.plain.String(), t.html.String()
}

// MetricsMessage renders a metric set as a name/value table ordered by
// metric name.
func MetricsMessage(set *model.MetricSet) chat.MessageBody {
	if set == nil {
		return chat.MessageBody{Plain: "No metrics", Formatted: "<p>No metrics</p>"}
	}
	title := fmt.Sprintf("Metrics for %s (%s) at %s",
		FormatValue(set.ParticipantName), FormatValue(string(set.ComponentType)), FormatValue(set.ReportingInstant))

	names := make([]string, 0, len(set.Metrics))
	for name := range set.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	t := newTable("Metric", "Value")
	for _, name := range names {
		t.row(name, FormatValue(set.Metrics[name]))
	}
	plain, formatted := t.close()
	return chat.MessageBody{
		Plain:     title + "\n" + plain,
		Formatted: "<p><b>" + esc(title) + "</b></p>" + formatted,
	}
}

// TopologyMessage renders a processing plant's tree as an indented list.
func TopologyMessage(plant model.ComponentSummary) chat.MessageBody {
	var plain, formatted strings.Builder
	plain.WriteString("Topology for " + FormatValue(plant.Name()) + "\n")
	formatted.WriteString("<p><b>Topology for " + esc(FormatValue(plant.Name())) + "</b></p>")

	var render func(c *model.ComponentSummary, depth int)
	render = func(c *model.ComponentSummary, depth int) {
		line := fmt.Sprintf("%s [%s] %s", FormatValue(c.Name()), FormatValue(string(c.ComponentType)), FormatValue(c.ComponentID))
		plain.WriteString(strings.Repeat("  ", depth) + "- " + line + "\n")
		formatted.WriteString("<li>" + esc(line))
		if len(c.Children) > 0 {
			formatted.WriteString("<ul>")
			for i := range c.Children {
				render(&c.Children[i], depth+1)
			}
			formatted.WriteString("</ul>")
		}
		formatted.WriteString("</li>")
	}
	formatted.WriteString("<ul>")
	render(&plant, 0)
	formatted.WriteString("</ul>")
	return chat.MessageBody{Plain: plain.String(), Formatted: formatted.String()}
}

func severityTag(t model.NotificationType) string {
	switch t {
	case model.NotificationFailure:
		return "FAILURE"
	case model.NotificationSuccess:
		return "SUCCESS"
	}
	return Placeholder
}

// NotificationMessage renders a notification, preferring its own formatted
// content when present.
func NotificationMessage(n model.Notification) chat.MessageBody {
	header := fmt.Sprintf("[%s] %s", severityTag(n.Type), FormatValue(n.ParticipantName))
	if n.Title != "" {
		header += ": " + n.Title
	}
	text := FormatValue(n.Content)
	plain := header + " (" + FormatValue(n.Instant) + ")\n" + text

	body := n.FormattedContent
	if body == "" {
		body = "<pre>" + esc(text) + "</pre>"
	}
	return chat.MessageBody{
		Plain:     plain,
		Formatted: "<p><b>" + esc(header) + "</b> <i>" + esc(FormatValue(n.Instant)) + "</i></p>" + body,
	}
}

// TaskReportMessage renders a task report as a field table followed by its
// content.
func TaskReportMessage(r model.TaskReport) chat.MessageBody {
	t := newTable("Field", "Value")
	t.row("Task", FormatValue(r.TaskID))
	t.row("Participant", FormatValue(r.ParticipantName))
	t.row("Component", FormatValue(r.ComponentID))
	t.row("Outcome", severityTag(r.Outcome))
	t.row("Instant", FormatValue(r.Instant))
	plain, formatted := t.close()

	title := "Task report " + FormatValue(r.TaskID)
	content := FormatValue(r.Content)
	body := r.FormattedContent
	if body == "" {
		body = "<pre>" + esc(content) + "</pre>"
	}
	return chat.MessageBody{
		Plain:     title + "\n" + plain + content,
		Formatted: "<p><b>" + esc(title) + "</b></p>" + formatted + body,
	}
}

// SubscriptionMessage renders a participant's publisher and subscriber
// relationships.
func SubscriptionMessage(s model.SubscriptionSummary) chat.MessageBody {
	title := "Subscriptions for " + FormatValue(s.ParticipantName) + " at " + FormatValue(s.ReportedAt)
	t := newTable("Role", "Counterpart", "Topic", "Since")
	for _, e := range s.AsPublisher {
		t.row("publisher", FormatValue(e.Counterpart), FormatValue(e.Topic), FormatValue(e.Since))
	}
	for _, e := range s.AsSubscriber {
		t.row("subscriber", FormatValue(e.Counterpart), FormatValue(e.Topic), FormatValue(e.Since))
	}
	if len(s.AsPublisher)+len(s.AsSubscriber) == 0 {
		t.row(Placeholder, Placeholder, Placeholder, Placeholder)
	}
	plain, formatted := t.close()
	return chat.MessageBody{
		Plain:     title + "\n" + plain,
		Formatted: "<p><b>" + esc(title) + "</b></p>" + formatted,
	}
}
