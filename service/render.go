package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Amdecodes/DocServe-sub001/model"
	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
	"github.com/Amdecodes/DocServe-sub001/pkg/logger"
)

// DefaultTemplate is used when an order names no template or an unknown one.
const DefaultTemplate = "classic"

const maxImageBytes = 5 << 20

// Rasterizer turns a complete HTML document into PDF bytes.
type Rasterizer interface {
	Rasterize(ctx context.Context, html string) ([]byte, error)
}

type Renderer struct {
	raster       Rasterizer
	httpClient   *http.Client
	imageTimeout time.Duration
	cv           *template.Template
	agreement    *template.Template
}

// NewRenderer builds a renderer whose image fetches refuse private, loopback
// and link-local addresses. trustedHosts ("host:port", such as the storage
// endpoint) are dialled without that check.
func NewRenderer(raster Rasterizer, imageTimeout time.Duration, trustedHosts ...string) *Renderer {
	if imageTimeout <= 0 {
		imageTimeout = 10 * time.Second
	}
	return &Renderer{
		raster:       raster,
		httpClient:   newImageClient(imageTimeout, trustedHosts),
		imageTimeout: imageTimeout,
		cv:           template.Must(template.New("cv").Parse(cvLayout)),
		agreement:    template.Must(template.New("agreement").Parse(agreementLayout)),
	}
}

// Render produces the PDF for an order's form data.
func (r *Renderer) Render(ctx context.Context, st model.ServiceType, formData json.RawMessage) ([]byte, error) {
	html, err := r.RenderHTML(ctx, st, formData)
	if err != nil {
		return nil, err
	}
	pdf, err := r.raster.Rasterize(ctx, html)
	if err != nil {
		return nil, fmt.Errorf("%w: rasterize: %w", apperr.ErrUpstream, err)
	}
	return pdf, nil
}

// RenderHTML builds the printable HTML document. A cover letter adds a second
// page after a forced page break.
func (r *Renderer) RenderHTML(ctx context.Context, st model.ServiceType, formData json.RawMessage) (string, error) {
	fd, err := model.DecodeFormData(st, formData)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	switch form := fd.(type) {
	case model.AgreementForm:
		err = r.agreement.Execute(&buf, newAgreementView(st, form))
	case model.CVForm:
		view := r.newCVView(ctx, st, form.Doc)
		err = r.cv.Execute(&buf, view)
	default:
		return "", fmt.Errorf("%w: unsupported form data %T", apperr.ErrValidation, fd)
	}
	if err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

// ResolveTemplate maps a requested template id to one that exists.
func ResolveTemplate(id string) string {
	if _, ok := cvStyles[id]; ok {
		return id
	}
	return DefaultTemplate
}

type cvView struct {
	Template   string
	Style      template.CSS
	Doc        model.CVDocument
	Photo      template.URL
	HasLetter  bool
	Paragraphs []string
}

func (r *Renderer) newCVView(ctx context.Context, st model.ServiceType, doc model.CVDocument) cvView {
	id := ResolveTemplate(st.Template)
	v := cvView{
		Template:  id,
		Style:     template.CSS(baseStyle + cvStyles[id]),
		Doc:       doc,
		HasLetter: doc.HasCoverLetter() || st.WantsCoverLetter(),
	}
	if v.HasLetter && doc.CoverLetter != nil {
		v.Paragraphs = paragraphs(doc.CoverLetter.Body)
	}

	if doc.PersonalInfo.PhotoURL != "" {
		inlined := r.inlineImages(ctx, []string{doc.PersonalInfo.PhotoURL})
		v.Photo = inlined[doc.PersonalInfo.PhotoURL]
	}
	return v
}

// inlineImages fetches every URL concurrently and returns data URIs. A URL
// that cannot be fetched maps to itself so the rasterizer can still try it.
func (r *Renderer) inlineImages(ctx context.Context, urls []string) map[string]template.URL {
	out := make(map[string]template.URL, len(urls))
	results := make([]template.URL, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, raw := range urls {
		g.Go(func() error {
			data, err := r.fetchImage(gctx, raw)
			if err != nil {
				logger.Warn(ctx, "image inline failed, keeping url", "url", raw, "error", err)
				results[i] = passthroughURL(raw)
				return nil
			}
			results[i] = data
			return nil
		})
	}
	_ = g.Wait()

	for i, raw := range urls {
		out[raw] = results[i]
	}
	return out
}

func (r *Renderer) fetchImage(ctx context.Context, raw string) (template.URL, error) {
	if strings.HasPrefix(raw, "data:image/") {
		return template.URL(raw), nil
	}
	if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("unsupported image url %q", raw)
	}

	ctx, cancel := context.WithTimeout(ctx, r.imageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", err
	}
	if len(body) > maxImageBytes {
		return "", fmt.Errorf("image larger than %d bytes", maxImageBytes)
	}

	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(ct, "image/") {
		ct = http.DetectContentType(body)
		if !strings.HasPrefix(ct, "image/") {
			return "", fmt.Errorf("not an image: %s", ct)
		}
	}
	return template.URL("data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(body)), nil
}

var errBlockedAddress = errors.New("address is not publicly routable")

func newImageClient(timeout time.Duration, trustedHosts []string) *http.Client {
	trusted := make(map[string]struct{}, len(trustedHosts))
	for _, h := range trustedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(h); err != nil {
			trusted[net.JoinHostPort(h, "80")] = struct{}{}
			trusted[net.JoinHostPort(h, "443")] = struct{}{}
			continue
		}
		trusted[h] = struct{}{}
	}

	open := &net.Dialer{Timeout: timeout}
	guarded := &net.Dialer{Timeout: timeout, Control: refusePrivate}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if _, ok := trusted[strings.ToLower(addr)]; ok {
			return open.DialContext(ctx, network, addr)
		}
		return guarded.DialContext(ctx, network, addr)
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// refusePrivate runs after name resolution, so it sees the address actually
// dialled, redirects included.
func refusePrivate(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", errBlockedAddress, address)
	}
	ip := ap.Addr().Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() {
		return fmt.Errorf("%w: %s", errBlockedAddress, ip)
	}
	return nil
}

// passthroughURL only trusts http(s) URLs; anything else is left for
// html/template to sanitize.
func passthroughURL(raw string) template.URL {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return template.URL(raw)
}

func paragraphs(body string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type agreementField struct {
	Label string
	Value string
}

type agreementView struct {
	Lang   string
	Title  string
	Style  template.CSS
	Fields []agreementField
}

func newAgreementView(st model.ServiceType, form model.AgreementForm) agreementView {
	lang, title := AgreementTitle(st.Template)
	v := agreementView{
		Lang:  lang,
		Title: title,
		Style: template.CSS(baseStyle + agreementStyle),
	}
	for _, k := range form.Keys() {
		v.Fields = append(v.Fields, agreementField{Label: fieldLabel(k), Value: form.Fields[k]})
	}
	return v
}

// AgreementTitle derives a document title from a template id such as
// "house-rent-am": a trailing two-letter part is read as the language.
func AgreementTitle(templateID string) (lang, title string) {
	parts := strings.Split(strings.Trim(templateID, "-"), "-")
	lang = "en"
	if n := len(parts); n > 1 && len(parts[n-1]) == 2 {
		if tag, err := language.Parse(parts[n-1]); err == nil {
			lang = tag.String()
			parts = parts[:n-1]
		}
	}
	caser := cases.Title(language.English)
	words := strings.Join(parts, " ")
	if !strings.HasSuffix(words, "agreement") {
		words += " agreement"
	}
	return lang, caser.String(strings.TrimSpace(words))
}

// fieldLabel turns "tenantName" or "tenant_name" into "Tenant Name".
func fieldLabel(key string) string {
	var b strings.Builder
	for i, r := range key {
		switch {
		case r == '_' || r == '-':
			b.WriteRune(' ')
		case i > 0 && r >= 'A' && r <= 'Z':
			b.WriteRune(' ')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return cases.Title(language.English).String(b.String())
}

const baseStyle = `
@page { size: A4; margin: 18mm; }
body { font-family: "Helvetica Neue", Arial, sans-serif; font-size: 11pt; color: #222; margin: 0; }
.page-break { break-after: page; page-break-after: always; height: 0; }
h1 { margin: 0 0 4px; }
h2 { font-size: 12pt; text-transform: uppercase; letter-spacing: .05em; margin: 18px 0 6px; }
ul { margin: 4px 0 0 18px; padding: 0; }
.muted { color: #666; }
`

var cvStyles = map[string]string{
	"classic": `
header { border-bottom: 2px solid #222; padding-bottom: 8px; }
.photo { float: right; width: 90px; height: 90px; object-fit: cover; }
`,
	"modern": `
header { background: #1f3a5f; color: #fff; padding: 16px; }
header .muted { color: #dde; }
h2 { color: #1f3a5f; border-bottom: 1px solid #1f3a5f; }
.photo { float: right; width: 96px; height: 96px; border-radius: 50%; object-fit: cover; }
`,
	"minimal": `
body { font-family: Georgia, serif; }
h2 { text-transform: none; font-style: italic; }
.photo { display: none; }
`,
}

const agreementStyle = `
h1 { text-align: center; margin-bottom: 24px; }
table { width: 100%; border-collapse: collapse; }
td { border-bottom: 1px solid #ddd; padding: 6px 4px; vertical-align: top; }
td.label { width: 35%; font-weight: bold; }
.signatures { margin-top: 48px; display: flex; justify-content: space-between; }
`

const cvLayout = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Doc.PersonalInfo.FullName}}</title>
<style>{{.Style}}</style>
</head>
<body class="tpl-{{.Template}}">
<section class="page" data-page="resume">
<header>
{{- if .Photo}}
<img class="photo" src="{{.Photo}}" alt="">
{{- end}}
<h1>{{.Doc.PersonalInfo.FullName}}</h1>
{{- with .Doc.PersonalInfo.Headline}}
<div class="headline">{{.}}</div>
{{- end}}
<div class="muted">
{{- with .Doc.PersonalInfo.Email}}<span>{{.}}</span> {{end}}
{{- with .Doc.PersonalInfo.Phone}}<span>{{.}}</span> {{end}}
{{- with .Doc.PersonalInfo.Address}}<span>{{.}}</span>{{end -}}
</div>
</header>
{{- with .Doc.Summary}}
<h2>Summary</h2>
<p>{{.}}</p>
{{- end}}
{{- if .Doc.Experience}}
<h2>Experience</h2>
{{- range .Doc.Experience}}
<div class="entry">
<strong>{{.JobTitle}}</strong>{{with .Company}}, {{.}}{{end}}{{with .Location}} <span class="muted">{{.}}</span>{{end}}
<div class="muted">{{.StartDate}}{{if or .EndDate .Current}} - {{if .Current}}Present{{else}}{{.EndDate}}{{end}}{{end}}</div>
{{- with .Description}}
<p>{{.}}</p>
{{- end}}
{{- if .Achievements}}
<ul>
{{- range .Achievements}}
<li>{{.}}</li>
{{- end}}
</ul>
{{- end}}
</div>
{{- end}}
{{- end}}
{{- if .Doc.Education}}
<h2>Education</h2>
{{- range .Doc.Education}}
<div class="entry"><strong>{{.Degree}}</strong>, {{.Institution}} <span class="muted">{{.StartDate}}{{with .EndDate}} - {{.}}{{end}}</span></div>
{{- end}}
{{- end}}
{{- if .Doc.Skills}}
<h2>Skills</h2>
<p>{{range $i, $s := .Doc.Skills}}{{if $i}}, {{end}}{{$s}}{{end}}</p>
{{- end}}
{{- if .Doc.Languages}}
<h2>Languages</h2>
<p>{{range $i, $s := .Doc.Languages}}{{if $i}}, {{end}}{{$s}}{{end}}</p>
{{- end}}
</section>
{{- if .HasLetter}}
<div class="page-break"></div>
<section class="page" data-page="cover-letter">
<p>{{.Doc.PersonalInfo.FullName}}{{with .Doc.PersonalInfo.Email}}<br>{{.}}{{end}}</p>
{{- with .Doc.CoverLetter}}
<p>{{with .Recipient}}{{.}}<br>{{end}}{{.Company}}</p>
{{- with .Position}}
<p><strong>Re: {{.}}</strong></p>
{{- end}}
<p>Dear {{if .Recipient}}{{.Recipient}}{{else}}Hiring Manager{{end}},</p>
{{- end}}
{{- range .Paragraphs}}
<p>{{.}}</p>
{{- end}}
<p>Sincerely,<br>{{.Doc.PersonalInfo.FullName}}</p>
</section>
{{- end}}
</body>
</html>
`

const agreementLayout = `<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>{{.Style}}</style>
</head>
<body>
<section class="page" data-page="agreement">
<h1>{{.Title}}</h1>
<table>
{{- range .Fields}}
<tr><td class="label">{{.Label}}</td><td>{{.Value}}</td></tr>
{{- end}}
</table>
<div class="signatures"><span>____________________</span><span>____________________</span></div>
</section>
</body>
</html>
`
