package message

import (
	"log/slog"
	"mime"
	"strings"

	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/textproto"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: gomessage.CharsetReader}

// HeaderView is a read-only view of a message header for rule matching.
// Parsed address sets are cached per header name. A HeaderView is owned by
// a single evaluation and is not safe for concurrent use.
type HeaderView struct {
	header textproto.Header
	addrs  map[string]AddressSet
	logger *slog.Logger
}

// NewHeaderView snapshots h. Later changes to h are not visible.
func NewHeaderView(h textproto.Header, logger *slog.Logger) *HeaderView {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeaderView{
		header: h.Copy(),
		addrs:  make(map[string]AddressSet),
		logger: logger,
	}
}

// View returns a HeaderView over the message's current header.
func (m *Message) View(logger *slog.Logger) *HeaderView {
	return NewHeaderView(m.Header, logger)
}

// Unfold removes the CR and LF characters of folded header lines.
func Unfold(v string) string {
	if !strings.ContainsAny(v, "\r\n") {
		return v
	}
	v = strings.ReplaceAll(v, "\r", "")
	return strings.ReplaceAll(v, "\n", "")
}

// Value returns the last occurrence of name, unfolded, or "".
func (hv *HeaderView) Value(name string) string {
	vs := hv.header.Values(name)
	if len(vs) == 0 {
		return ""
	}
	return Unfold(vs[len(vs)-1])
}

// Values returns every occurrence of name, unfolded, in header order.
func (hv *HeaderView) Values(name string) []string {
	vs := hv.header.Values(name)
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = Unfold(v)
	}
	return out
}

// Texts is Values with RFC 2047 encoded words decoded. Values that fail to
// decode are returned raw.
func (hv *HeaderView) Texts(name string) []string {
	vs := hv.Values(name)
	for i, v := range vs {
		if !strings.Contains(v, "=?") {
			continue
		}
		if dec, err := wordDecoder.DecodeHeader(v); err == nil {
			vs[i] = dec
		}
	}
	return vs
}

// Text is Value with RFC 2047 encoded words decoded.
func (hv *HeaderView) Text(name string) string {
	ts := hv.Texts(name)
	if len(ts) == 0 {
		return ""
	}
	return ts[len(ts)-1]
}

// Has reports whether the header has at least one occurrence of name.
func (hv *HeaderView) Has(name string) bool {
	return hv.header.Has(name)
}

// Addresses returns the core addresses found in every occurrence of every
// named header. Malformed entries are logged and skipped.
func (hv *HeaderView) Addresses(names ...string) AddressSet {
	if len(names) == 1 {
		return hv.headerAddresses(names[0])
	}
	out := make(AddressSet)
	for _, name := range names {
		out.Merge(hv.headerAddresses(name))
	}
	return out
}

func (hv *HeaderView) headerAddresses(name string) AddressSet {
	key := strings.ToLower(name)
	if set, ok := hv.addrs[key]; ok {
		return set
	}
	set := make(AddressSet)
	for _, v := range hv.Values(name) {
		addrs, bad := ParseCoreAddressList(v)
		for _, a := range addrs {
			set.Add(a)
		}
		for _, b := range bad {
			hv.logger.Debug("skipping malformed address",
				slog.String("header", name),
				slog.String("entry", strings.TrimSpace(b)))
		}
	}
	hv.addrs[key] = set
	return set
}

// HeaderMap returns each present header's last value keyed by its
// variable name, for template substitution.
func (hv *HeaderView) HeaderMap() map[string]string {
	out := make(map[string]string)
	fields := hv.header.Fields()
	for fields.Next() {
		// Fields iterates top down; the last assignment wins.
		out[VariableName(fields.Key())] = Unfold(fields.Value())
	}
	return out
}

// VariableName maps a header name to a shell-safe identifier:
// lower case with '-' replaced by '_'.
func VariableName(header string) string {
	return strings.ReplaceAll(strings.ToLower(header), "-", "_")
}
