package phone

import (
	"fmt"
	"strings"

	"github.com/JrMarcco/jremind/internal/errs"
)

const (
	// WhatsAppSuffix 网关接受的 JID 后缀
	WhatsAppSuffix = "@s.whatsapp.net"

	brazilCountryCode = "55"

	minDigits = 8
	maxDigits = 15
)

// Normalized 规范化后的号码以及过程中做过的修正。
// 修正项显式返回给调用方，而不是悄悄改写。
type Normalized struct {
	Raw         string   `json:"raw"`
	Canonical   string   `json:"canonical"`
	Corrections []string `json:"corrections,omitempty"`
}

func (n Normalized) Corrected() bool {
	return len(n.Corrections) > 0
}

// Normalize 将原始号码转为规范形式：去除 JID 后缀与非数字字符、去除干线前缀 0，
// 巴西本地号码补全国家码，8 位手机号补全第 9 位。
func Normalize(raw string) (Normalized, error) {
	res := Normalized{Raw: raw}

	s := strings.TrimSpace(raw)
	if strings.HasSuffix(s, WhatsAppSuffix) {
		s = strings.TrimSuffix(s, WhatsAppSuffix)
		res.Corrections = append(res.Corrections, "removed whatsapp suffix")
	}

	digits := onlyDigits(s)
	if digits != s {
		res.Corrections = append(res.Corrections, "removed non-digit characters")
	}

	trimmed := strings.TrimLeft(digits, "0")
	if trimmed != digits {
		res.Corrections = append(res.Corrections, "removed trunk prefix")
	}
	digits = trimmed

	if len(digits) < minDigits || len(digits) > maxDigits {
		return res, fmt.Errorf("%w: %q has %d digits", errs.ErrInvalidAddress, raw, len(digits))
	}

	if isBrazilLocal(digits) {
		digits = brazilCountryCode + digits
		res.Corrections = append(res.Corrections, "added country code 55")
	}

	if ddd, local, ok := splitBrazil(digits); ok && len(local) == 8 && isMobileLead(local[0]) {
		digits = brazilCountryCode + ddd + "9" + local
		res.Corrections = append(res.Corrections, "added mobile ninth digit")
	}

	res.Canonical = digits
	return res, nil
}

// Variants 按优先级生成网关可能接受的地址格式，结果已去重。
//
// 巴西号码依次为：55+DDD+9+N、55+DDD+N、前两者带 JID 后缀、DDD+9+N、DDD+N；
// 其他号码为纯数字与带后缀的形式。
func Variants(raw string) []string {
	s := strings.TrimSuffix(strings.TrimSpace(raw), WhatsAppSuffix)
	digits := strings.TrimLeft(onlyDigits(s), "0")
	if digits == "" {
		return nil
	}

	if isBrazilLocal(digits) {
		digits = brazilCountryCode + digits
	}

	ddd, local, ok := splitBrazil(digits)
	if !ok {
		return dedupe([]string{digits, digits + WhatsAppSuffix})
	}

	var with9, without9 string
	switch len(local) {
	case 9:
		with9 = local
		if local[0] == '9' {
			without9 = local[1:]
		}
	case 8:
		without9 = local
		if isMobileLead(local[0]) {
			with9 = "9" + local
		}
	}

	candidates := make([]string, 0, 6)
	full := func(n string) string {
		if n == "" {
			return ""
		}
		return brazilCountryCode + ddd + n
	}
	candidates = append(candidates, full(with9), full(without9))
	if with9 != "" {
		candidates = append(candidates, full(with9)+WhatsAppSuffix)
	}
	if without9 != "" {
		candidates = append(candidates, full(without9)+WhatsAppSuffix)
	}
	if with9 != "" {
		candidates = append(candidates, ddd+with9)
	}
	if without9 != "" {
		candidates = append(candidates, ddd+without9)
	}
	return dedupe(candidates)
}

// splitBrazil 拆分 55+DDD+8/9 位本地号码
func splitBrazil(digits string) (ddd string, local string, ok bool) {
	if !strings.HasPrefix(digits, brazilCountryCode) {
		return "", "", false
	}
	rest := digits[len(brazilCountryCode):]
	if len(rest) != 10 && len(rest) != 11 {
		return "", "", false
	}
	if !validDDD(rest[:2]) {
		return "", "", false
	}
	return rest[:2], rest[2:], true
}

// isBrazilLocal 不带国家码的巴西号码：DDD + 8/9 位
func isBrazilLocal(digits string) bool {
	if strings.HasPrefix(digits, brazilCountryCode) && len(digits) >= 12 {
		return false
	}
	if len(digits) != 10 && len(digits) != 11 {
		return false
	}
	if !validDDD(digits[:2]) {
		return false
	}
	// 9 位本地号码只能是以 9 开头的手机号
	return len(digits) == 10 || digits[2] == '9'
}

// validDDD 巴西区号为 11-99 且不含 0
func validDDD(ddd string) bool {
	return len(ddd) == 2 && ddd[0] >= '1' && ddd[0] <= '9' && ddd[1] >= '1' && ddd[1] <= '9'
}

func isMobileLead(c byte) bool {
	return c >= '6' && c <= '9'
}

func onlyDigits(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

func dedupe(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	res := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		res = append(res, c)
	}
	return res
}
