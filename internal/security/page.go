package security

import (
	"fmt"

	"github.com/microcosm-cc/bluemonday"
)

// PageRenderer はブラウザに返す簡易HTMLページを生成する。
// ドメイン名やニックネームなどユーザー由来の文字列はタグを除去してから埋め込む。
type PageRenderer struct {
	text *bluemonday.Policy
	page *bluemonday.Policy
}

// NewPageRenderer はPageRendererを生成する。
func NewPageRenderer() *PageRenderer {
	page := bluemonday.NewPolicy()
	page.AllowElements("h1", "p", "br", "strong", "code")

	return &PageRenderer{
		text: bluemonday.StrictPolicy(),
		page: page,
	}
}

// Text はユーザー由来の文字列からHTMLを除去する。
func (r *PageRenderer) Text(s string) string {
	return r.text.Sanitize(s)
}

// Render は見出しと本文からなるHTMLページを返す。
// headingとbodyは埋め込み前にTextで無害化される。
func (r *PageRenderer) Render(heading, body string) string {
	fragment := fmt.Sprintf("<h1>%s</h1><p>%s</p>", r.Text(heading), r.Text(body))
	return "<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>Sunrin Domain</title></head><body>" +
		r.page.Sanitize(fragment) +
		"</body></html>"
}
