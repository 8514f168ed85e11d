// Package dns はDNSプロバイダ（Cloudflare）との連携と、登録可能なルートドメインの管理を提供する。
package dns

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Zone はルートドメインとDNSプロバイダのゾーンの対応。
type Zone struct {
	ZoneID string `json:"zone_id"`
}

// Zones は登録を受け付けるルートドメインの一覧。
// 起動時に読み込み、以降は読み取り専用として扱う。
type Zones struct {
	byRoot map[string]Zone
}

type zonesFile struct {
	Domains map[string]Zone `json:"domains"`
}

// NewZones はルートドメインとゾーンIDの対応からZonesを生成する。
func NewZones(byRoot map[string]string) *Zones {
	z := &Zones{byRoot: make(map[string]Zone, len(byRoot))}
	for root, id := range byRoot {
		z.byRoot[strings.ToLower(root)] = Zone{ZoneID: id}
	}
	return z
}

// LoadZones は {"domains": {"<root>": {"zone_id": "..."}}} 形式のJSONファイルを読み込む。
func LoadZones(path string) (*Zones, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zones file: %w", err)
	}

	var f zonesFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse zones file: %w", err)
	}
	if len(f.Domains) == 0 {
		return nil, fmt.Errorf("zones file %s has no domains", path)
	}

	byRoot := make(map[string]string, len(f.Domains))
	for root, zone := range f.Domains {
		if zone.ZoneID == "" {
			return nil, fmt.Errorf("zone_id is empty for %s", root)
		}
		byRoot[root] = zone.ZoneID
	}
	return NewZones(byRoot), nil
}

// Roots はルートドメインを名前順で返す。
func (z *Zones) Roots() []string {
	roots := make([]string, 0, len(z.byRoot))
	for root := range z.byRoot {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}

// Allowed はルートドメインが登録対象かどうかを返す。
func (z *Zones) Allowed(root string) bool {
	_, ok := z.byRoot[strings.ToLower(root)]
	return ok
}

// ZoneID はルートドメインのゾーンIDを返す。
func (z *Zones) ZoneID(root string) (string, bool) {
	zone, ok := z.byRoot[strings.ToLower(root)]
	return zone.ZoneID, ok
}
