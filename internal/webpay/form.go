package webpay

import (
	"github.com/shopspring/decimal"
)

// Field はフォームのhidden input 1件。
type Field struct {
	Name  string
	Value string
}

// Form はゲートウェイへ自動送信するフォーム。
type Form struct {
	Action string
	Fields []Field
}

// FormParams はフォーム生成に必要な値。
// Signatureは作成時に保存した値をそのまま使い、ここでは再計算しない。
type FormParams struct {
	GatewayURL string
	StoreID    string
	OrderNum   string
	TestFlag   string
	CurrencyID string
	Seed       string
	ItemName   string
	Amount     decimal.Decimal
	Signature  string
	ReturnURL  string
	CancelURL  string
	NotifyURL  string
}

// FormatTotal は金額を小数点以下2桁の文字列にする（19.9 → "19.90"）。
func FormatTotal(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// BuildForm はゲートウェイの /webpay エンドポイントへPOSTするフォームを組み立てる。
// 商品明細は1行（数量1、単価=合計）とする。
func BuildForm(p FormParams) Form {
	total := FormatTotal(p.Amount)
	return Form{
		Action: p.GatewayURL + "/webpay",
		Fields: []Field{
			{"wsb_storeid", p.StoreID},
			{"wsb_order_num", p.OrderNum},
			{"wsb_test", p.TestFlag},
			{"wsb_currency_id", p.CurrencyID},
			{"wsb_seed", p.Seed},
			{"wsb_invoice_item_name[0]", p.ItemName},
			{"wsb_invoice_item_quantity[0]", "1"},
			{"wsb_invoice_item_price[0]", total},
			{"wsb_total", total},
			{"wsb_signature", p.Signature},
			{"wsb_return_url", p.ReturnURL},
			{"wsb_cancel_return_url", p.CancelURL},
			{"wsb_notify_url", p.NotifyURL},
		},
	}
}

// Value はnameのフィールド値を返す。存在しない場合は空文字列。
func (f Form) Value(name string) string {
	for _, field := range f.Fields {
		if field.Name == name {
			return field.Value
		}
	}
	return ""
}
