package model

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// RecordType はDNSレコード種別を表す。
type RecordType string

const (
	RecordTypeA     RecordType = "A"
	RecordTypeAAAA  RecordType = "AAAA"
	RecordTypeCNAME RecordType = "CNAME"
	RecordTypeMX    RecordType = "MX"
	RecordTypeNS    RecordType = "NS"
	RecordTypeTXT   RecordType = "TXT"
	RecordTypeCAA   RecordType = "CAA"
	RecordTypeDS    RecordType = "DS"
	RecordTypeSRV   RecordType = "SRV"
	RecordTypeURI   RecordType = "URI"
)

// TTLAuto はDNSプロバイダの自動TTLを表す。
const TTLAuto = 1

const (
	minManualTTL = 60
	maxManualTTL = 86400
	maxTXTLength = 255
)

var hostnamePattern = regexp.MustCompile(`^(?:[a-zA-Z0-9](?:[a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// RecordValue はレコード種別ごとのペイロード。
// 種別ごとに異なる構造体が実装し、種別と形状の組み合わせは構築時に検証される。
type RecordValue interface {
	Type() RecordType
	Validate() error
}

// ARecord はIPv4アドレスを指すレコード。
type ARecord struct {
	Address string
}

// AAAARecord はIPv6アドレスを指すレコード。
type AAAARecord struct {
	Address string
}

// CNAMERecord は別名レコード。
type CNAMERecord struct {
	Target string
}

// NSRecord はネームサーバー委任レコード。
type NSRecord struct {
	Target string
}

// MXRecord はメール交換レコード。
type MXRecord struct {
	Target   string
	Priority int `json:"priority"`
}

// TXTRecord は任意テキストレコード。
type TXTRecord struct {
	Text string
}

// CAARecord は認証局制限レコード。
type CAARecord struct {
	Flags int    `json:"flags"`
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

// DSRecord はDNSSEC委任署名レコード。
type DSRecord struct {
	Algorithm  int    `json:"algorithm"`
	Digest     string `json:"digest"`
	DigestType int    `json:"digest_type"`
	KeyTag     int    `json:"key_tag"`
}

// SRVRecord はサービスロケーションレコード。
type SRVRecord struct {
	Priority int    `json:"priority"`
	Weight   int    `json:"weight"`
	Port     int    `json:"port"`
	Target   string `json:"target"`
}

// URIRecord はURIレコード。
type URIRecord struct {
	Priority int    `json:"priority"`
	Weight   int    `json:"weight"`
	Target   string `json:"target"`
}

func (ARecord) Type() RecordType     { return RecordTypeA }
func (AAAARecord) Type() RecordType  { return RecordTypeAAAA }
func (CNAMERecord) Type() RecordType { return RecordTypeCNAME }
func (NSRecord) Type() RecordType    { return RecordTypeNS }
func (MXRecord) Type() RecordType    { return RecordTypeMX }
func (TXTRecord) Type() RecordType   { return RecordTypeTXT }
func (CAARecord) Type() RecordType   { return RecordTypeCAA }
func (DSRecord) Type() RecordType    { return RecordTypeDS }
func (SRVRecord) Type() RecordType   { return RecordTypeSRV }
func (URIRecord) Type() RecordType   { return RecordTypeURI }

func (r ARecord) Validate() error {
	addr, err := netip.ParseAddr(r.Address)
	if err != nil || !addr.Is4() {
		return NewInvalidRecordError("A レコードにはIPv4アドレスを指定してください")
	}
	return nil
}

func (r AAAARecord) Validate() error {
	addr, err := netip.ParseAddr(r.Address)
	if err != nil || !addr.Is6() || addr.Is4In6() {
		return NewInvalidRecordError("AAAA レコードにはIPv6アドレスを指定してください")
	}
	return nil
}

func (r CNAMERecord) Validate() error { return validateHostname("CNAME", r.Target) }

func (r NSRecord) Validate() error { return validateHostname("NS", r.Target) }

func (r MXRecord) Validate() error {
	if err := validateHostname("MX", r.Target); err != nil {
		return err
	}
	return validateUint16("MX priority", r.Priority)
}

func (r TXTRecord) Validate() error {
	if utf8.RuneCountInString(r.Text) > maxTXTLength {
		return NewInvalidRecordError(fmt.Sprintf("TXT レコードは%d文字以内で指定してください", maxTXTLength))
	}
	return nil
}

func (r CAARecord) Validate() error {
	if r.Flags < 0 || r.Flags > 255 {
		return NewInvalidRecordError("CAA flags は0から255の範囲で指定してください")
	}
	switch r.Tag {
	case "issue", "issuewild", "iodef":
	default:
		return NewInvalidRecordError("CAA tag には issue、issuewild、iodef のいずれかを指定してください")
	}
	if r.Value == "" {
		return NewInvalidRecordError("CAA value を指定してください")
	}
	return nil
}

func (r DSRecord) Validate() error {
	if r.Algorithm < 0 || r.Algorithm > 255 {
		return NewInvalidRecordError("DS algorithm は0から255の範囲で指定してください")
	}
	if r.DigestType < 1 || r.DigestType > 4 {
		return NewInvalidRecordError("DS digest_type は1から4の範囲で指定してください")
	}
	if err := validateUint16("DS key_tag", r.KeyTag); err != nil {
		return err
	}
	if r.Digest == "" || strings.Trim(strings.ToLower(r.Digest), "0123456789abcdef") != "" {
		return NewInvalidRecordError("DS digest には16進文字列を指定してください")
	}
	return nil
}

func (r SRVRecord) Validate() error {
	for _, f := range []struct {
		name  string
		value int
	}{{"SRV priority", r.Priority}, {"SRV weight", r.Weight}, {"SRV port", r.Port}} {
		if err := validateUint16(f.name, f.value); err != nil {
			return err
		}
	}
	return validateHostname("SRV", r.Target)
}

func (r URIRecord) Validate() error {
	if err := validateUint16("URI priority", r.Priority); err != nil {
		return err
	}
	if err := validateUint16("URI weight", r.Weight); err != nil {
		return err
	}
	u, err := url.Parse(r.Target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewInvalidRecordError("URI target には http(s) のURLを指定してください")
	}
	return nil
}

func validateHostname(kind, host string) error {
	if !hostnamePattern.MatchString(host) {
		return NewInvalidRecordError(fmt.Sprintf("%s レコードには有効なホスト名を指定してください", kind))
	}
	return nil
}

func validateUint16(field string, v int) error {
	if v < 0 || v > 65535 {
		return NewInvalidRecordError(fmt.Sprintf("%s は0から65535の範囲で指定してください", field))
	}
	return nil
}

// ValidateTTL はTTLが自動(1)または60〜86400秒の範囲かを検証する。
func ValidateTTL(ttl int) error {
	if ttl == TTLAuto || (ttl >= minManualTTL && ttl <= maxManualTTL) {
		return nil
	}
	return NewInvalidRecordError(fmt.Sprintf("TTL は1（自動）または%dから%dの範囲で指定してください", minManualTTL, maxManualTTL))
}

// Record は1つのサブドメインに対するDNSレコード指定。
type Record struct {
	Name    string
	TTL     int
	Proxied bool
	Value   RecordValue
}

// Type はレコード種別を返す。
func (r Record) Type() RecordType {
	if r.Value == nil {
		return ""
	}
	return r.Value.Type()
}

// Validate はペイロードとTTLを検証する。
func (r Record) Validate() error {
	if r.Value == nil {
		return NewInvalidRecordError("レコード値がありません")
	}
	if err := r.Value.Validate(); err != nil {
		return err
	}
	return ValidateTTL(r.TTL)
}

// Parts はレコード値をプロバイダ・永続化向けのcontentとdataに分解する。
// dataが不要な種別ではnilを返す。
func (r Record) Parts() (content string, data json.RawMessage, err error) {
	switch v := r.Value.(type) {
	case ARecord:
		return v.Address, nil, nil
	case AAAARecord:
		return v.Address, nil, nil
	case CNAMERecord:
		return v.Target, nil, nil
	case NSRecord:
		return v.Target, nil, nil
	case TXTRecord:
		return v.Text, nil, nil
	case MXRecord:
		data, err = json.Marshal(struct {
			Priority int `json:"priority"`
		}{v.Priority})
		return v.Target, data, err
	case CAARecord, DSRecord, SRVRecord, URIRecord:
		data, err = json.Marshal(v)
		return "", data, err
	default:
		return "", nil, NewInvalidRecordError("未対応のレコード種別です")
	}
}

// ParseRecordValue は種別・content・dataから型付きのレコード値を構築し検証する。
func ParseRecordValue(recordType RecordType, content string, data json.RawMessage) (RecordValue, error) {
	var value RecordValue
	switch RecordType(strings.ToUpper(string(recordType))) {
	case RecordTypeA:
		value = ARecord{Address: content}
	case RecordTypeAAAA:
		value = AAAARecord{Address: content}
	case RecordTypeCNAME:
		value = CNAMERecord{Target: content}
	case RecordTypeNS:
		value = NSRecord{Target: content}
	case RecordTypeTXT:
		value = TXTRecord{Text: content}
	case RecordTypeMX:
		var mx MXRecord
		if err := decodeData(data, &mx); err != nil {
			return nil, err
		}
		mx.Target = content
		value = mx
	case RecordTypeCAA:
		var caa CAARecord
		if err := decodeData(data, &caa); err != nil {
			return nil, err
		}
		value = caa
	case RecordTypeDS:
		var ds DSRecord
		if err := decodeData(data, &ds); err != nil {
			return nil, err
		}
		value = ds
	case RecordTypeSRV:
		var srv SRVRecord
		if err := decodeData(data, &srv); err != nil {
			return nil, err
		}
		value = srv
	case RecordTypeURI:
		var uri URIRecord
		if err := decodeData(data, &uri); err != nil {
			return nil, err
		}
		value = uri
	default:
		return nil, NewInvalidRecordError(fmt.Sprintf("未対応のレコード種別です: %s", recordType))
	}
	if err := value.Validate(); err != nil {
		return nil, err
	}
	return value, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return NewInvalidRecordError("この種別には data が必要です")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return NewInvalidRecordError("data の形式が不正です")
	}
	return nil
}

// RecordInput はAPIで受け取るレコード指定のJSON表現。
type RecordInput struct {
	Name    string          `json:"name"`
	Type    RecordType      `json:"type"`
	Content string          `json:"content"`
	Data    json.RawMessage `json:"data,omitempty"`
	TTL     int             `json:"ttl"`
	Proxied bool            `json:"proxied"`
}

// ToRecord は入力を検証済みのRecordに変換する。
func (in RecordInput) ToRecord() (Record, error) {
	value, err := ParseRecordValue(in.Type, in.Content, in.Data)
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		Name:    strings.TrimSuffix(strings.ToLower(strings.TrimSpace(in.Name)), "."),
		TTL:     in.TTL,
		Proxied: in.Proxied,
		Value:   value,
	}
	if rec.TTL == 0 {
		rec.TTL = TTLAuto
	}
	if err := ValidateTTL(rec.TTL); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// RecordOutput はレコードのJSON表現。
type RecordOutput struct {
	Name    string          `json:"name"`
	Type    RecordType      `json:"type"`
	Content string          `json:"content,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	TTL     int             `json:"ttl"`
	Proxied bool            `json:"proxied"`
}

// Output はRecordをJSON表現に変換する。
func (r Record) Output() RecordOutput {
	content, data, _ := r.Parts()
	return RecordOutput{
		Name:    r.Name,
		Type:    r.Type(),
		Content: content,
		Data:    data,
		TTL:     r.TTL,
		Proxied: r.Proxied,
	}
}

// AuditDetail は監査ログ向けにレコード内容を文字列の対応表にする。
func (r Record) AuditDetail() map[string]string {
	out := r.Output()
	detail := map[string]string{
		"type":    string(out.Type),
		"ttl":     strconv.Itoa(out.TTL),
		"proxied": strconv.FormatBool(out.Proxied),
	}
	if out.Content != "" {
		detail["content"] = out.Content
	}
	if len(out.Data) > 0 {
		detail["data"] = string(out.Data)
	}
	return detail
}
