package filer

import (
	"strings"

	"github.com/infodancer/mailfiler/message"
	"github.com/infodancer/mailfiler/rules"
)

// DefaultAlertFormat is used when $ALERT_FORMAT is unset.
const DefaultAlertFormat = "{from}: {subject}"

// FormatAlert renders the one-line alert summary. The format may use
// {from}, {short_from}, {subject} and {label} as well as $VAR references.
func FormatAlert(format string, hv *message.HeaderView, env rules.Env, labels []string) string {
	if format == "" {
		format = DefaultAlertFormat
	}

	from := hv.Text("from")
	shortFrom := from
	if addrs := hv.Addresses("from").Sorted(); len(addrs) > 0 {
		shortFrom = addrs[0].LocalPart()
	}

	r := strings.NewReplacer(
		"{from}", from,
		"{short_from}", shortFrom,
		"{subject}", hv.Text("subject"),
		"{label}", strings.Join(labels, ","),
	)
	line := r.Replace(env.Expand(format))
	return strings.ReplaceAll(line, "\n", " ")
}
