// Package webpay はWebPayゲートウェイのプロトコル（署名、フォーム、通知）を扱う。
package webpay

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// RequestSignatureFields は決済フォームの署名対象フィールドと順序。
var RequestSignatureFields = []string{
	"wsb_seed",
	"wsb_storeid",
	"wsb_order_num",
	"wsb_test",
	"wsb_currency_id",
	"wsb_total",
}

// CallbackSignatureFields は通知の署名対象フィールドと順序。
var CallbackSignatureFields = []string{
	"wsb_order_num",
	"wsb_tid",
	"wsb_status",
}

// Signer はシークレットキーでフィールド列の署名を計算する。
// 秘密鍵はログに出力しないこと。
type Signer struct {
	secret string
}

// NewSigner はSignerを生成する。
func NewSigner(secret string) *Signer {
	return &Signer{secret: secret}
}

// Sign はorderの順に name=value を & で連結し、末尾に秘密鍵を直接付与した
// バイト列のSHA-1を小文字16進で返す。値が空のフィールドは省略する。
func (s *Signer) Sign(order []string, values map[string]string) string {
	h := sha1.New()
	h.Write([]byte(CanonicalString(order, values)))
	h.Write([]byte(s.secret))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify はsignatureがSignの結果と一致するかを定数時間で比較する。
// 16進の大文字小文字は区別しない。
func (s *Signer) Verify(order []string, values map[string]string, signature string) bool {
	if signature == "" {
		return false
	}
	expected := s.Sign(order, values)
	got := strings.ToLower(strings.TrimSpace(signature))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// CanonicalString は署名対象の文字列（秘密鍵を除く）を組み立てる。
func CanonicalString(order []string, values map[string]string) string {
	var b strings.Builder
	for _, name := range order {
		v, ok := values[name]
		if !ok || v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String()
}
