package protocol

import "strings"

// normalizeID はIDの前後の空白を削除して正規化します
func normalizeID(id string) string {
	return strings.TrimSpace(id)
}

// normalizeIDs は空要素と重複を取り除きます（順序は維持）
func normalizeIDs(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
		id = normalizeID(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// hasContent はメッセージ本文またはファイル参照があるかを返します
func hasContent(f MessageFrame) bool {
	return strings.TrimSpace(f.Body) != "" || f.FileURL != ""
}
