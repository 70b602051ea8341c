package decision

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ParseVerdict 从模型原始回复中解析判定结果。
// 只认首个词：APPROVE/YES 通过，REJECT/NO 拒绝，其余一律 ErrAmbiguous。
// 剩余文本作为理由，超长截断到 maxJustification。
func ParseVerdict(reply string, maxJustification int) (Verdict, error) {
	text := strings.TrimSpace(reply)
	if text == "" {
		return Verdict{}, ErrAmbiguous
	}

	head := text
	rest := ""
	if idx := strings.IndexFunc(text, func(r rune) bool {
		return unicode.IsSpace(r)
	}); idx >= 0 {
		head = text[:idx]
		rest = strings.TrimSpace(text[idx:])
	}
	head = strings.ToUpper(strings.Trim(head, ".,:;!\"'`*()[]"))

	var approve bool
	switch head {
	case "APPROVE", "APPROVED", "YES":
		approve = true
	case "REJECT", "REJECTED", "NO":
		approve = false
	default:
		return Verdict{}, ErrAmbiguous
	}

	justification := rest
	if justification == "" {
		justification = head
	}
	if maxJustification > 0 && len(justification) > maxJustification {
		justification = truncateRunes(justification, maxJustification)
	}
	return Verdict{Approve: approve, Justification: justification}, nil
}

// truncateRunes 按字节上限截断，但不切开多字节字符。
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
