package dns

import (
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/sunrin-today/cli-domain-backend/internal/model"
)

// labelPattern はルート直下に置けるラベル。アンダースコアはTXT用途で許可する。
var labelPattern = regexp.MustCompile(`^[a-z0-9_]([a-z0-9_-]{0,61}[a-z0-9_])?$`)

// Target は登録ポリシーを通過したドメイン名と、その所属ゾーン。
type Target struct {
	Name   string
	Label  string
	Root   string
	ZoneID string
}

// NormalizeName はドメイン名を小文字化し、前後の空白と末尾のドットを取り除く。
func NormalizeName(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

// Resolve はドメイン名が登録ポリシーを満たすか検証し、所属ゾーンを返す。
// 登録可能ドメイン（eTLD+1）が許可リストにあり、その直下の1ラベルであることを要求する。
// ワイルドカードと多段サブドメインは拒否する。
func (z *Zones) Resolve(name string) (*Target, error) {
	name = NormalizeName(name)
	if name == "" {
		return nil, model.NewDomainNotAllowedError(name, "ドメイン名が空です")
	}
	if strings.Contains(name, "*") {
		return nil, model.NewDomainNotAllowedError(name, "ワイルドカードは登録できません")
	}

	root, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return nil, model.NewDomainNotAllowedError(name, "登録可能なルートドメインがありません")
	}
	zoneID, ok := z.ZoneID(root)
	if !ok {
		return nil, model.NewDomainNotAllowedError(name, root+" は利用できません")
	}
	if name == root {
		return nil, model.NewDomainNotAllowedError(name, "サブドメインを指定してください")
	}

	label := strings.TrimSuffix(name, "."+root)
	if strings.Contains(label, ".") {
		return nil, model.NewDomainNotAllowedError(name, "サブドメインは1階層のみ登録できます")
	}
	if !labelPattern.MatchString(label) {
		return nil, model.NewDomainNotAllowedError(name, "サブドメインに使用できない文字が含まれています")
	}

	return &Target{Name: name, Label: label, Root: root, ZoneID: zoneID}, nil
}
