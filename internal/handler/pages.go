package handler

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/DStukalo/children-server/internal/webpay"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// resultPage は戻り先ページの表示内容。
type resultPage struct {
	Title       string
	Heading     string
	Icon        string
	Class       string
	MessageType string
	PaymentID   string
	DeepLink    string
}

func successPage(scheme, paymentID string) resultPage {
	return resultPage{
		Title:       "Оплата успешна",
		Heading:     "Оплата успешна!",
		Icon:        "✅",
		Class:       "success",
		MessageType: "payment-success",
		PaymentID:   paymentID,
		DeepLink:    deepLink(scheme, "payment-success", paymentID),
	}
}

func cancelPage(scheme, paymentID string) resultPage {
	return resultPage{
		Title:       "Оплата отменена",
		Heading:     "Оплата отменена",
		Icon:        "❌",
		Class:       "fail",
		MessageType: "payment-failed",
		PaymentID:   paymentID,
		DeepLink:    deepLink(scheme, "payment-fail", paymentID),
	}
}

// deepLink はアプリへ戻るためのURLを組み立てる（app://payment-success?paymentId=...）。
func deepLink(scheme, host, paymentID string) string {
	return scheme + "://" + host + "?paymentId=" + url.QueryEscape(paymentID)
}

// renderHTML はテンプレートを描画してHTMLレスポンスを書き込む。
// 描画に失敗した場合は途中までの出力を送らず500を返す。
func renderHTML(w http.ResponseWriter, statusCode int, name string, data any) {
	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("テンプレートの描画に失敗しました",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		writeText(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write(buf.Bytes())
}

func renderForm(w http.ResponseWriter, form *webpay.Form) {
	renderHTML(w, http.StatusOK, "form.html", form)
}

// writeText はプレーンテキストのレスポンスを書き込む。
func writeText(w http.ResponseWriter, statusCode int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write([]byte(body))
}
