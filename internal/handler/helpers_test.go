package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/html"

	"github.com/DStukalo/children-server/internal/middleware"
)

// withUserID はテスト用にコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	return r.WithContext(ctx)
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeAPIError はレスポンスボディを統一エラーフォーマットとしてデコードする。
func decodeAPIError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var resp middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v (body=%q)", err, w.Body.String())
	}
	return resp
}

// parsedForm はレンダリングされたHTMLから取り出したformの内容。
type parsedForm struct {
	action string
	method string
	fields map[string]string
	order  []string
}

// parseForm はHTMLをトークナイズし、最初のformのactionとhidden inputを取り出す。
func parseForm(t *testing.T, body string) parsedForm {
	t.Helper()
	form := parsedForm{fields: make(map[string]string)}

	tokenizer := html.NewTokenizer(strings.NewReader(body))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return form
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := tokenizer.Token()
			attrs := make(map[string]string, len(tok.Attr))
			for _, a := range tok.Attr {
				attrs[a.Key] = a.Val
			}
			switch tok.Data {
			case "form":
				form.action = attrs["action"]
				form.method = attrs["method"]
			case "input":
				if attrs["type"] != "hidden" {
					continue
				}
				form.fields[attrs["name"]] = attrs["value"]
				form.order = append(form.order, attrs["name"])
			}
		}
	}
}
