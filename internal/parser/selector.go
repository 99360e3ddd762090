package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"

	"github.com/maltedev/search-spider/internal/models"
)

// Dialect is the selector language of a SelectorRules set.
type Dialect int

const (
	CSS Dialect = iota
	XPath
)

func (d Dialect) String() string {
	if d == XPath {
		return "xpath"
	}
	return "css"
}

// Field locates one value relative to a container. An empty Selector means
// the container itself. With Attr set the attribute value is read instead
// of the text content; XPath selectors may also end in /@attr.
type Field struct {
	Selector string
	Attr     string
}

// SelectorRules describe a product listing in terms of selectors.
type SelectorRules struct {
	Dialect   Dialect
	Container string
	Fields    map[string]Field
	// Link is the item link. In ModeFollowUps it becomes the detail
	// request, in ModeRecords it fills Record.URL.
	Link Field
	Mode Mode
	// MaxItems caps the items read from one page; zero means no cap.
	MaxItems int

	// TotalCount, when set, is evaluated against the whole document and
	// TotalPattern's first group is parsed as the total result count.
	TotalCount   *Field
	TotalPattern *regexp.Regexp
	PageSize     int
}

// SelectorExtractor is the HTML variant of Extractor.
type SelectorExtractor struct {
	rules    SelectorRules
	followUp FollowUpBuilder
	engine   selectorEngine
}

// NewSelectorExtractor compiles every selector up front so a bad rule is
// reported at start-up rather than on every page.
func NewSelectorExtractor(rules SelectorRules, followUp FollowUpBuilder) (*SelectorExtractor, error) {
	if rules.Container == "" {
		return nil, fmt.Errorf("container selector is required")
	}
	if rules.Mode == ModeFollowUps && rules.Link.Selector == "" && rules.Link.Attr == "" {
		return nil, fmt.Errorf("follow-up mode requires a link selector")
	}

	var (
		engine selectorEngine
		err    error
	)
	switch rules.Dialect {
	case CSS:
		engine, err = newCSSEngine(rules)
	case XPath:
		engine, err = newXPathEngine(rules)
	default:
		err = fmt.Errorf("unknown selector dialect %d", rules.Dialect)
	}
	if err != nil {
		return nil, err
	}

	return &SelectorExtractor{
		rules:    rules,
		followUp: followUp,
		engine:   engine,
	}, nil
}

func (e *SelectorExtractor) Extract(resp *models.ResponseEnvelope) Result {
	doc, err := e.engine.parse(resp.Body)
	if err != nil {
		return Result{
			Diagnostic: models.NewDiagnostic(models.DiagnosticMalformedPayload,
				fmt.Sprintf("failed to parse HTML: %v", err), resp),
		}
	}

	var res Result
	res.Summary = e.summary(doc)

	items := doc.containers()
	if len(items) == 0 {
		res.Diagnostic = models.NewDiagnostic(models.DiagnosticNoMatch,
			fmt.Sprintf("no elements matched %s container %q", e.rules.Dialect, e.rules.Container), resp)
		return res
	}
	if e.rules.MaxItems > 0 && len(items) > e.rules.MaxItems {
		items = items[:e.rules.MaxItems]
	}

	for idx, item := range items {
		href, _ := item.value(linkKey)

		if e.rules.Mode == ModeFollowUps {
			req, ok := buildFollowUp(e.followUp, resp, href, idx)
			if !ok {
				res.Skipped++
				continue
			}
			res.FollowUps = append(res.FollowUps, req)
			continue
		}

		meta := itemMeta(resp, idx)
		rec := models.NewRecord(meta, resp.FinalURL)
		if href != "" {
			setField(&rec, resp, FieldURL, href)
		}
		for _, name := range e.fieldNames() {
			if raw, ok := item.value(name); ok {
				setField(&rec, resp, name, raw)
			}
		}
		if !rec.HasContent() {
			res.Skipped++
			continue
		}
		res.Records = append(res.Records, rec)
	}

	if len(res.Records) == 0 && len(res.FollowUps) == 0 {
		res.Diagnostic = models.NewDiagnostic(models.DiagnosticNoMatch,
			fmt.Sprintf("%d containers matched %q but none yielded usable fields", len(items), e.rules.Container), resp)
	}
	return res
}

// fieldNames returns the configured fields in a stable order so price is
// read before currency.
func (e *SelectorExtractor) fieldNames() []string {
	names := make([]string, 0, len(e.rules.Fields))
	for name := range e.rules.Fields {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == FieldCurrency {
			return false
		}
		if names[j] == FieldCurrency {
			return true
		}
		return names[i] < names[j]
	})
	return names
}

func (e *SelectorExtractor) summary(doc parsedDocument) *models.PageSummary {
	if e.rules.TotalCount == nil {
		return nil
	}
	text, ok := doc.global(totalKey)
	if !ok {
		return nil
	}
	total, ok := matchTotal(text, e.rules.TotalPattern)
	if !ok {
		return nil
	}
	return &models.PageSummary{TotalCount: total, PageSize: e.rules.PageSize}
}

func matchTotal(text string, pattern *regexp.Regexp) (int, bool) {
	text = CleanText(text)
	if pattern != nil {
		m := pattern.FindStringSubmatch(text)
		if len(m) < 2 {
			return 0, false
		}
		text = m[1]
	}
	return ParseCount(text)
}

const (
	linkKey  = "\x00link"
	totalKey = "\x00total"
)

type selectorEngine interface {
	parse(body []byte) (parsedDocument, error)
}

type parsedDocument interface {
	containers() []itemNode
	global(key string) (string, bool)
}

type itemNode interface {
	value(key string) (string, bool)
}

// CSS dialect, backed by goquery.

type cssField struct {
	matcher cascadia.Selector
	attr    string
}

type cssEngine struct {
	container cascadia.Selector
	fields    map[string]cssField
	globals   map[string]cssField
}

func compileCSSField(f Field) (cssField, error) {
	cf := cssField{attr: f.Attr}
	if f.Selector == "" {
		return cf, nil
	}
	sel, err := cascadia.Compile(f.Selector)
	if err != nil {
		return cf, fmt.Errorf("invalid css selector %q: %w", f.Selector, err)
	}
	cf.matcher = sel
	return cf, nil
}

func newCSSEngine(rules SelectorRules) (*cssEngine, error) {
	container, err := cascadia.Compile(rules.Container)
	if err != nil {
		return nil, fmt.Errorf("invalid css container %q: %w", rules.Container, err)
	}
	e := &cssEngine{
		container: container,
		fields:    make(map[string]cssField, len(rules.Fields)+1),
		globals:   make(map[string]cssField, 1),
	}
	for name, f := range rules.Fields {
		cf, err := compileCSSField(f)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		e.fields[name] = cf
	}
	if rules.Link.Selector != "" || rules.Link.Attr != "" {
		cf, err := compileCSSField(rules.Link)
		if err != nil {
			return nil, fmt.Errorf("link: %w", err)
		}
		e.fields[linkKey] = cf
	}
	if rules.TotalCount != nil {
		cf, err := compileCSSField(*rules.TotalCount)
		if err != nil {
			return nil, fmt.Errorf("total count: %w", err)
		}
		e.globals[totalKey] = cf
	}
	return e, nil
}

func (e *cssEngine) parse(body []byte) (parsedDocument, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return &cssDocument{engine: e, doc: doc}, nil
}

type cssDocument struct {
	engine *cssEngine
	doc    *goquery.Document
}

func (d *cssDocument) containers() []itemNode {
	var nodes []itemNode
	d.doc.FindMatcher(d.engine.container).Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, cssItem{fields: d.engine.fields, sel: s})
	})
	return nodes
}

func (d *cssDocument) global(key string) (string, bool) {
	f, ok := d.engine.globals[key]
	if !ok {
		return "", false
	}
	return cssValue(d.doc.Selection, f)
}

type cssItem struct {
	fields map[string]cssField
	sel    *goquery.Selection
}

func (i cssItem) value(key string) (string, bool) {
	f, ok := i.fields[key]
	if !ok {
		return "", false
	}
	return cssValue(i.sel, f)
}

func cssValue(scope *goquery.Selection, f cssField) (string, bool) {
	target := scope
	if f.matcher != nil {
		target = scope.FindMatcher(f.matcher).First()
	}
	if target.Length() == 0 {
		return "", false
	}
	if f.attr != "" {
		v, ok := target.Attr(f.attr)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	v := CleanText(target.Text())
	return v, v != ""
}

// XPath dialect, backed by htmlquery.

type xpathField struct {
	expr *xpath.Expr
	attr string
}

type xpathEngine struct {
	container *xpath.Expr
	fields    map[string]xpathField
	globals   map[string]xpathField
}

func compileXPathField(f Field) (xpathField, error) {
	xf := xpathField{attr: f.Attr}
	if f.Selector == "" {
		return xf, nil
	}
	expr, err := xpath.Compile(f.Selector)
	if err != nil {
		return xf, fmt.Errorf("invalid xpath %q: %w", f.Selector, err)
	}
	xf.expr = expr
	return xf, nil
}

func newXPathEngine(rules SelectorRules) (*xpathEngine, error) {
	container, err := xpath.Compile(rules.Container)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath container %q: %w", rules.Container, err)
	}
	e := &xpathEngine{
		container: container,
		fields:    make(map[string]xpathField, len(rules.Fields)+1),
		globals:   make(map[string]xpathField, 1),
	}
	for name, f := range rules.Fields {
		xf, err := compileXPathField(f)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		e.fields[name] = xf
	}
	if rules.Link.Selector != "" || rules.Link.Attr != "" {
		xf, err := compileXPathField(rules.Link)
		if err != nil {
			return nil, fmt.Errorf("link: %w", err)
		}
		e.fields[linkKey] = xf
	}
	if rules.TotalCount != nil {
		xf, err := compileXPathField(*rules.TotalCount)
		if err != nil {
			return nil, fmt.Errorf("total count: %w", err)
		}
		e.globals[totalKey] = xf
	}
	return e, nil
}

func (e *xpathEngine) parse(body []byte) (parsedDocument, error) {
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return &xpathDocument{engine: e, doc: doc}, nil
}

type xpathDocument struct {
	engine *xpathEngine
	doc    *html.Node
}

func (d *xpathDocument) containers() []itemNode {
	found := htmlquery.QuerySelectorAll(d.doc, d.engine.container)
	nodes := make([]itemNode, 0, len(found))
	for _, n := range found {
		nodes = append(nodes, xpathItem{fields: d.engine.fields, node: n})
	}
	return nodes
}

func (d *xpathDocument) global(key string) (string, bool) {
	f, ok := d.engine.globals[key]
	if !ok {
		return "", false
	}
	return xpathValue(d.doc, f)
}

type xpathItem struct {
	fields map[string]xpathField
	node   *html.Node
}

func (i xpathItem) value(key string) (string, bool) {
	f, ok := i.fields[key]
	if !ok {
		return "", false
	}
	return xpathValue(i.node, f)
}

func xpathValue(scope *html.Node, f xpathField) (string, bool) {
	target := scope
	if f.expr != nil {
		target = htmlquery.QuerySelector(scope, f.expr)
	}
	if target == nil {
		return "", false
	}
	if f.attr != "" {
		v := strings.TrimSpace(htmlquery.SelectAttr(target, f.attr))
		return v, v != ""
	}
	v := CleanText(nodeText(target))
	return v, v != ""
}

// nodeText joins the descendant text nodes of n with spaces, so block
// elements do not run together the way InnerText would.
func nodeText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			parts = append(parts, n.Data)
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}
