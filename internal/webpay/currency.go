package webpay

import (
	"fmt"
	"strings"
)

// DefaultCurrency は通貨指定がない場合の通貨。
const DefaultCurrency = "BYN"

// currencyIDs はISO 4217のアルファベットコードと数値コードの対応。
var currencyIDs = map[string]string{
	"BYN": "933",
	"USD": "840",
	"EUR": "978",
	"RUB": "643",
}

// NormalizeCurrency は通貨コードを大文字3文字に正規化する。
// 空文字列の場合はDefaultCurrencyを返す。未対応の通貨はエラー。
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency, nil
	}
	if _, ok := currencyIDs[code]; !ok {
		return "", fmt.Errorf("unsupported currency: %q", code)
	}
	return code, nil
}

// CurrencyID は通貨コードに対応するwsb_currency_idを返す。
func CurrencyID(code string) (string, error) {
	normalized, err := NormalizeCurrency(code)
	if err != nil {
		return "", err
	}
	return currencyIDs[normalized], nil
}
